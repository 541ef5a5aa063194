package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagStringKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "EVAL_SIM", EvalSim.String())
	assert.Equal(t, "ABORT_ENSEMBLE", AbortEnsemble.String())
	assert.Equal(t, "UNKNOWN_TAG", Tag(999).String())
}

func TestIsCalcType(t *testing.T) {
	assert.True(t, EvalSim.IsCalcType())
	assert.True(t, EvalGen.IsCalcType())
	assert.False(t, Stop.IsCalcType())
	assert.False(t, WorkerDone.IsCalcType())
}

func TestIsCalcStatus(t *testing.T) {
	assert.True(t, IsCalcStatus(WorkerDone))
	assert.True(t, IsCalcStatus(FinishedPersistentSim))
	assert.True(t, IsCalcStatus(CalcException))
	assert.False(t, IsCalcStatus(EvalSim))
	assert.False(t, IsCalcStatus(Unset))
}

func TestExitFlagString(t *testing.T) {
	assert.Equal(t, "clean", ExitClean.String())
	assert.Equal(t, "wallclock_timeout", ExitWallclockTimeout.String())
	assert.Equal(t, "unknown", ExitFlag(42).String())
}
