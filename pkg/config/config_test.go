package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
libE:
  comms: local
  nworkers: 4
  save_h_and_persis_on_abort: true
  worker_timeout: 30s

sim:
  in: [x]
  out:
    - name: f
      type: float64
  gen_batch_size: 8

gen:
  in: [f]
  out:
    - name: x
      type: float64
      shape: 2
  lb: [0, -1]
  ub: [1, 1]
  gen_batch_size: 8

exit_criteria:
  sim_max: 100
  stop_val:
    field: f
    threshold: 0.01

alloc_func: only_persistent_gens
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesRecognizedKeys(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	run, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, CommsLocal, run.LibE.Comms)
	assert.Equal(t, 4, run.LibE.NWorkers)
	assert.Equal(t, 30*time.Second, run.LibE.WorkerTimeout.Std())
	require.NotNil(t, run.Exit.SimMax)
	assert.Equal(t, 100, *run.Exit.SimMax)
	assert.Nil(t, run.Exit.GenMax)
	require.NotNil(t, run.Exit.StopVal)
	assert.Equal(t, "f", run.Exit.StopVal.Field)
	assert.Equal(t, "only_persistent_gens", run.Alloc)
}

func TestLoadDistinguishesZeroSimMaxFromUnset(t *testing.T) {
	const cfg = `
libE:
  comms: local
  nworkers: 1
sim:
  in: [x]
  out:
    - name: f
      type: float64
gen:
  in: [f]
  out:
    - name: x
      type: float64
exit_criteria:
  sim_max: 0
alloc_func: only_persistent_gens
`
	path := writeTempConfig(t, cfg)
	run, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, run.Exit.SimMax)
	assert.Equal(t, 0, *run.Exit.SimMax)
	assert.Nil(t, run.Exit.GenMax)
}

func TestLoadCapturesUserDomainParams(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	run, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, run.Gen.Params["gen_batch_size"])
	assert.NotNil(t, run.Gen.Params["lb"])
}

func TestLoadRejectsUnknownComms(t *testing.T) {
	path := writeTempConfig(t, `
libE:
  comms: carrier-pigeon
  nworkers: 1
sim:
  out:
    - name: f
      type: float64
gen:
  out:
    - name: x
      type: float64
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsZeroWorkers(t *testing.T) {
	path := writeTempConfig(t, `
libE:
  comms: local
  nworkers: 0
sim:
  out:
    - name: f
      type: float64
gen:
  out:
    - name: x
      type: float64
`)
	_, err := Load(path)
	assert.Error(t, err)
}
