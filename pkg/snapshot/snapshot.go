// Package snapshot writes history/persis_info snapshots to disk so a run
// can be inspected after it ends or aborts. It adapts the teacher's
// bucket-per-entity BoltDB storage pattern (one bucket, JSON-marshaled
// blobs keyed by name) to a single bucket holding one columnar dump.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/ensemble/pkg/history"
)

var (
	bucketHistory = []byte("history")
	keySnapshot   = []byte("snapshot")
)

// doc is the raw columnar dump written into the history bucket: every
// declared column plus the per-row bookkeeping flags, over the full
// [0, Index()) prefix.
type doc struct {
	Index      int                    `json:"index"`
	GivenCount int                    `json:"given_count"`
	SimCount   int                    `json:"sim_count"`
	Offset     int                    `json:"offset"`
	Columns    map[string]interface{} `json:"columns"`
	Given      []bool                 `json:"given"`
	Returned   []bool                 `json:"returned"`
	SimWorker  []int                  `json:"sim_worker"`
	GenWorker  []int                  `json:"gen_worker"`
}

func buildDoc(h *history.History) (doc, error) {
	rows := h.AllRows()
	cols, err := h.Slice(nil, rows)
	if err != nil {
		return doc{}, err
	}
	d := doc{
		Index:      h.Index(),
		GivenCount: h.GivenCount(),
		SimCount:   h.SimCount(),
		Offset:     h.Offset(),
		Columns:    cols,
		Given:      make([]bool, len(rows)),
		Returned:   make([]bool, len(rows)),
		SimWorker:  make([]int, len(rows)),
		GenWorker:  make([]int, len(rows)),
	}
	for i, r := range rows {
		d.Given[i] = h.Given(r)
		d.Returned[i] = h.Returned(r)
		d.SimWorker[i] = h.SimWorker(r)
		d.GenWorker[i] = h.GenWorker(r)
	}
	return d, nil
}

// Writer writes snapshot files into Dir, named per the run's stem
// conventions. It implements coordinator.SnapshotWriter.
type Writer struct {
	Dir string
}

// New creates a Writer rooted at dir, creating the directory if needed.
func New(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create dir %s: %w", dir, err)
	}
	return &Writer{Dir: dir}, nil
}

// WriteSim writes libE_history_after_sim_<simCount>.bolt, skipping the
// write if that file already exists.
func (w *Writer) WriteSim(h *history.History, _ map[int]map[string]interface{}, simCount int) (string, error) {
	return w.writeHistory(fmt.Sprintf("libE_history_after_sim_%d.bolt", simCount), h)
}

// WriteGen writes libE_history_after_gen_<index>.bolt, skipping the write
// if that file already exists.
func (w *Writer) WriteGen(h *history.History, _ map[int]map[string]interface{}, index int) (string, error) {
	return w.writeHistory(fmt.Sprintf("libE_history_after_gen_%d.bolt", index), h)
}

// WriteAbort writes libE_history_at_abort_<simCount>.bolt plus a companion
// .persis file carrying the opaque persisInfo blob.
func (w *Writer) WriteAbort(h *history.History, persisInfo map[int]map[string]interface{}, simCount int) (string, error) {
	stem := fmt.Sprintf("libE_history_at_abort_%d", simCount)
	path, err := w.writeHistory(stem+".bolt", h)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(persisInfo)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal persis_info: %w", err)
	}
	persisPath := filepath.Join(w.Dir, stem+".persis")
	if err := os.WriteFile(persisPath, data, 0o644); err != nil {
		return "", fmt.Errorf("snapshot: write %s: %w", persisPath, err)
	}
	return path, nil
}

func (w *Writer) writeHistory(name string, h *history.History) (string, error) {
	path := filepath.Join(w.Dir, name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	d, err := buildDoc(h)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal history: %w", err)
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return "", fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketHistory)
		if err != nil {
			return err
		}
		return b.Put(keySnapshot, data)
	})
	if err != nil {
		return "", fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	return path, nil
}
