package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ensemble/pkg/history"
)

func newTestHistory(t *testing.T) *history.History {
	t.Helper()
	h := history.New([]history.ColumnSpec{{Name: "x", Kind: history.KindFloat64}}, 8, 0)
	_, err := h.AppendGenerated(1, 3, map[string]interface{}{"x": []float64{1, 2, 3}})
	require.NoError(t, err)
	return h
}

func TestWriteSimCreatesBoltFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	require.NoError(t, err)

	h := newTestHistory(t)
	path, err := w.WriteSim(h, nil, 3)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "libE_history_after_sim_3.bolt"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestWriteSimSkipsIfFileExists(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	require.NoError(t, err)

	h := newTestHistory(t)
	path, err := w.WriteSim(h, nil, 1)
	require.NoError(t, err)
	first, err := os.Stat(path)
	require.NoError(t, err)

	_, err = h.AppendGenerated(1, 1, map[string]interface{}{"x": []float64{4}})
	require.NoError(t, err)
	_, err = w.WriteSim(h, nil, 1)
	require.NoError(t, err)

	second, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, first.ModTime(), second.ModTime(), "existing snapshot file must not be overwritten")
}

func TestWriteAbortAlsoWritesPersisFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	require.NoError(t, err)

	h := newTestHistory(t)
	persisInfo := map[int]map[string]interface{}{1: {"cursor": 3}}
	path, err := w.WriteAbort(h, persisInfo, 3)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.FileExists(t, filepath.Join(dir, "libE_history_at_abort_3.persis"))
}
