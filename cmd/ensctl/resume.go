package main

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [snapshot.bolt]",
	Short: "Inspect a history snapshot written by a prior run",
	Long: `resume opens a libE_history_*.bolt snapshot file read-only and
prints the row-count bookkeeping it would need to seed a new run's
history table. It does not yet restart a coordinator from the snapshot.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

var bucketHistory = []byte("history")
var keySnapshot = []byte("snapshot")

type snapshotDoc struct {
	Index      int                    `json:"index"`
	GivenCount int                    `json:"given_count"`
	SimCount   int                    `json:"sim_count"`
	Offset     int                    `json:"offset"`
	Columns    map[string]interface{} `json:"columns"`
}

func runResume(cmd *cobra.Command, args []string) error {
	path := args[0]

	db, err := bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("ensctl resume: open %s: %w", path, err)
	}
	defer db.Close()

	var raw []byte
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		if b == nil {
			return fmt.Errorf("no %q bucket in %s", bucketHistory, path)
		}
		v := b.Get(keySnapshot)
		if v == nil {
			return fmt.Errorf("no snapshot entry in %s", path)
		}
		raw = append(raw, v...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ensctl resume: %w", err)
	}

	var d snapshotDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("ensctl resume: decode %s: %w", path, err)
	}

	fmt.Printf("index=%d given_count=%d sim_count=%d offset=%d columns=%d\n",
		d.Index, d.GivenCount, d.SimCount, d.Offset, len(d.Columns))
	return nil
}
