package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/cuemby/ensemble/pkg/alloc"
	"github.com/cuemby/ensemble/pkg/config"
	"github.com/cuemby/ensemble/pkg/coordinator"
	"github.com/cuemby/ensemble/pkg/genfunc"
	"github.com/cuemby/ensemble/pkg/history"
	"github.com/cuemby/ensemble/pkg/log"
	"github.com/cuemby/ensemble/pkg/registry"
	"github.com/cuemby/ensemble/pkg/simfunc"
	"github.com/cuemby/ensemble/pkg/snapshot"
	"github.com/cuemby/ensemble/pkg/tags"
	"github.com/cuemby/ensemble/pkg/termination"
	"github.com/cuemby/ensemble/pkg/worker"
	"github.com/cuemby/ensemble/pkg/worklink"
	"github.com/cuemby/ensemble/pkg/worklink/grpcx"
	"github.com/cuemby/ensemble/pkg/worklink/local"
)

var runCmd = &cobra.Command{
	Use:   "run [config]",
	Short: "Run an ensemble coordinator job from a YAML configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("out-dir", ".", "directory to write history snapshots into")
}

func columnKindFor(t string) (history.ColumnKind, error) {
	switch t {
	case "float64":
		return history.KindFloat64, nil
	case "float64_vector":
		return history.KindFloat64Vector, nil
	case "bool":
		return history.KindBool, nil
	case "int":
		return history.KindInt, nil
	case "string":
		return history.KindString, nil
	default:
		return 0, fmt.Errorf("unrecognized column type %q", t)
	}
}

func columnSpecs(fields []config.OutField) ([]history.ColumnSpec, error) {
	specs := make([]history.ColumnSpec, 0, len(fields))
	for _, f := range fields {
		kind, err := columnKindFor(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if f.Shape > 0 && kind == history.KindFloat64 {
			kind = history.KindFloat64Vector
		}
		specs = append(specs, history.ColumnSpec{Name: f.Name, Kind: kind})
	}
	return specs, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	run, err := config.Load(args[0])
	if err != nil {
		return err
	}
	outDir, _ := cmd.Flags().GetString("out-dir")

	simCols, err := columnSpecs(run.Sim.Out)
	if err != nil {
		return fmt.Errorf("sim.out: %w", err)
	}
	genCols, err := columnSpecs(run.Gen.Out)
	if err != nil {
		return fmt.Errorf("gen.out: %w", err)
	}
	h := history.New(append(simCols, genCols...), 1<<14, 0)
	reg := registry.New(run.LibE.NWorkers)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	links, stopWorkers, err := startWorkers(ctx, run)
	if err != nil {
		return err
	}
	defer stopWorkers()

	allocFunc := alloc.NewOnlyPersistentGens(run.Sim.In, run.Gen.In)

	snap, err := snapshot.New(outDir)
	if err != nil {
		return fmt.Errorf("ensctl run: snapshot writer: %w", err)
	}

	var stopVal *termination.StopVal
	if run.Exit.StopVal != nil {
		stopVal = &termination.StopVal{Column: run.Exit.StopVal.Field, Threshold: run.Exit.StopVal.Threshold}
	}

	coord := coordinator.New(coordinator.Config{
		Links:    links,
		History:  h,
		Registry: reg,
		Criteria: termination.Criteria{
			ElapsedWallclockTime: run.Exit.ElapsedWallclockTime.Std(),
			SimMax:               run.Exit.SimMax,
			GenMax:               run.Exit.GenMax,
			StopVal:              stopVal,
		},
		Alloc:                 allocFunc,
		SimSpecs:              alloc.Specs{In: run.Sim.In, Out: simCols, Params: run.Sim.Params},
		GenSpecs:              alloc.Specs{In: run.Gen.In, Out: genCols, Params: run.Gen.Params},
		SimSaveEveryK:         run.Sim.SaveEveryK,
		GenSaveEveryK:         run.Gen.SaveEveryK,
		Snapshot:              snap,
		SaveHAndPersisOnAbort: run.LibE.SaveHAndPersisOnAbort,
		RecvTimeout:           run.LibE.WorkerTimeout.Std(),
	})

	_, exitFlag, runErr := coord.Run(ctx)
	for _, link := range links {
		_ = link.Close()
	}

	fmt.Printf("sim_count=%d given_count=%d index=%d exit=%s\n", h.SimCount(), h.GivenCount(), h.Index(), exitFlag)

	if runErr != nil {
		return runErr
	}
	if exitFlag != tags.ExitClean && exitFlag != tags.ExitException {
		os.Exit(int(exitFlag))
	}
	return nil
}

// startWorkers builds one worklink.Link per configured worker, spawns the
// matching worker goroutine running the configured generator/simulator
// routines, and returns the coordinator-side links plus a cleanup func.
func startWorkers(ctx context.Context, run *config.Run) (map[int]worklink.Link, func(), error) {
	switch run.LibE.Comms {
	case config.CommsLocal:
		return startLocalWorkers(ctx, run)
	case config.CommsGRPC:
		return startGRPCWorkers(ctx, run)
	default:
		return nil, nil, fmt.Errorf("ensctl run: unrecognized comms %q", run.LibE.Comms)
	}
}

func startLocalWorkers(ctx context.Context, run *config.Run) (map[int]worklink.Link, func(), error) {
	links := make(map[int]worklink.Link, run.LibE.NWorkers)
	for id := 1; id <= run.LibE.NWorkers; id++ {
		pair := local.NewPair(id, 4)
		links[id] = pair.Manager
		runWorker(ctx, id, pair.Worker, run)
	}
	return links, func() {}, nil
}

// startGRPCWorkers runs an in-process gRPC server implementing
// pkg/worklink/grpcx.ServiceDesc and connects one client stream per worker
// to it over a loopback TCP listener, so the coordinator and its workers
// communicate over the real gRPC transport rather than in-process channels.
func startGRPCWorkers(ctx context.Context, run *config.Run) (map[int]worklink.Link, func(), error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, fmt.Errorf("ensctl run: listen: %w", err)
	}

	grpcServer := grpc.NewServer()
	linkServer := grpcx.NewServer()
	linkServer.Register(grpcServer)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("grpc worklink server stopped", err)
		}
	}()

	conns := make([]*grpc.ClientConn, 0, run.LibE.NWorkers)
	for id := 1; id <= run.LibE.NWorkers; id++ {
		clientLink, conn, err := grpcx.Dial(ctx, lis.Addr().String(), id)
		if err != nil {
			grpcServer.Stop()
			return nil, nil, fmt.Errorf("ensctl run: dial worker %d: %w", id, err)
		}
		conns = append(conns, conn)
		runWorker(ctx, id, clientLink, run)
	}

	links := make(map[int]worklink.Link, run.LibE.NWorkers)
	for i := 0; i < run.LibE.NWorkers; i++ {
		link, err := linkServer.Accept(ctx)
		if err != nil {
			grpcServer.Stop()
			return nil, nil, fmt.Errorf("ensctl run: accept worker link: %w", err)
		}
		links[link.WorkerID()] = link
	}

	stop := func() {
		grpcServer.GracefulStop()
		for _, c := range conns {
			_ = c.Close()
		}
	}
	return links, stop, nil
}

func runWorker(ctx context.Context, id int, link worklink.Link, run *config.Run) {
	w := worker.New(worker.Config{
		ID:        id,
		Link:      link,
		Gen:       genfunc.UniformRandomSample,
		Sim:       simfunc.Sphere,
		GenParams: run.Gen.Params,
		SimParams: run.Sim.Params,
	})
	go func() {
		if err := w.Run(ctx); err != nil {
			log.Errorf("worker exited", err)
		}
	}()
}
