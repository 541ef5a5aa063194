package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/cuemby/ensemble/pkg/log"
	"github.com/cuemby/ensemble/pkg/metrics"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Metrics endpoints",
}

var metricsServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve Prometheus metrics and health endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		metrics.RegisterComponent("worklink", true, "")
		metrics.RegisterComponent("coordinator", false, "no run started yet")

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", metrics.HealthHandler())
		mux.HandleFunc("/readyz", metrics.ReadyHandler())
		mux.HandleFunc("/livez", metrics.LivenessHandler())

		log.Info(fmt.Sprintf("metrics server listening on %s", addr))
		return http.ListenAndServe(addr, mux)
	},
}

func init() {
	metricsServeCmd.Flags().String("addr", ":9090", "address to serve metrics and health endpoints on")
	metricsCmd.AddCommand(metricsServeCmd)
}
