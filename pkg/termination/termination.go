// Package termination implements the coordinator's exit-criteria tests,
// evaluated in a fixed priority order against the history table and the
// wall clock.
package termination

import (
	"time"

	"github.com/cuemby/ensemble/pkg/history"
	"github.com/cuemby/ensemble/pkg/tags"
)

// StopVal names a history column and the threshold below which any non-NaN
// value in that column trips termination.
type StopVal struct {
	Column    string
	Threshold float64
}

// Criteria holds the configured exit criteria. A zero ElapsedWallclockTime
// disables the wallclock test; a nil SimMax, GenMax, or StopVal disables that
// test. SimMax and GenMax are pointers rather than plain ints so that a
// config explicitly setting sim_max: 0 (an empty seed that should exit after
// the first allocation phase) is distinguishable from sim_max never having
// been configured at all, mirroring the Python original's dict-key-presence
// check (`if key in self.exit_criteria`) rather than a truthy/nonzero check.
type Criteria struct {
	ElapsedWallclockTime time.Duration
	SimMax               *int
	GenMax               *int
	StopVal              *StopVal
}

// Evaluator holds the configured criteria plus the run's start time.
type Evaluator struct {
	criteria Criteria
	start    time.Time
}

// New creates an Evaluator whose wallclock test is measured from start.
func New(criteria Criteria, start time.Time) *Evaluator {
	return &Evaluator{criteria: criteria, start: start}
}

// Key identifies which test tripped.
type Key string

const (
	KeyNone                 Key = ""
	KeyElapsedWallclockTime Key = "elapsed_wallclock_time"
	KeySimMax               Key = "sim_max"
	KeyGenMax               Key = "gen_max"
	KeyStopVal              Key = "stop_val"
)

// Test evaluates every configured criterion, in priority order, against h.
// It returns the first tripped key and the exit flag it implies; KeyNone and
// tags.ExitClean if nothing has tripped.
func (e *Evaluator) Test(h *history.History) (Key, tags.ExitFlag, error) {
	if e.criteria.ElapsedWallclockTime > 0 && time.Since(e.start) >= e.criteria.ElapsedWallclockTime {
		return KeyElapsedWallclockTime, tags.ExitWallclockTimeout, nil
	}
	if sm := e.criteria.SimMax; sm != nil && h.GivenCount() >= *sm+h.Offset() {
		return KeySimMax, tags.ExitException, nil
	}
	if gm := e.criteria.GenMax; gm != nil && h.Index() >= *gm+h.Offset() {
		return KeyGenMax, tags.ExitException, nil
	}
	if sv := e.criteria.StopVal; sv != nil {
		tripped, err := h.StopValBelow(sv.Column, sv.Threshold)
		if err != nil {
			return KeyNone, tags.ExitClean, err
		}
		if tripped {
			return KeyStopVal, tags.ExitException, nil
		}
	}
	return KeyNone, tags.ExitClean, nil
}

// Elapsed returns the time since the run started.
func (e *Evaluator) Elapsed() time.Duration {
	return time.Since(e.start)
}
