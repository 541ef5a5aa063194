// Package config loads a run's YAML configuration into the structs the
// coordinator, allocator, and snapshot writer need, per SPEC_FULL.md §6.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CommsMode selects the worker-link transport.
type CommsMode string

const (
	CommsLocal CommsMode = "local"
	CommsGRPC  CommsMode = "grpc"
)

// LibE holds the top-level run settings.
type LibE struct {
	Comms                 CommsMode `yaml:"comms"`
	NWorkers              int       `yaml:"nworkers"`
	SaveHAndPersisOnAbort bool      `yaml:"save_h_and_persis_on_abort"`
	AbortOnException      bool      `yaml:"abort_on_exception"`
	DisableLogFiles       bool      `yaml:"disable_log_files"`
	WorkerTimeout         Duration  `yaml:"worker_timeout"`
}

// Spec declares one generator or simulator's field contract and
// user-domain parameters.
type Spec struct {
	In         []string               `yaml:"in"`
	Out        []OutField             `yaml:"out"`
	SaveEveryK int                    `yaml:"save_every_k"`
	Params     map[string]interface{} `yaml:",inline"`
}

// OutField declares one output column: its name, Go-native kind, and an
// optional vector shape (0 or absent means scalar).
type OutField struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Shape int    `yaml:"shape"`
}

// StopVal names the column and threshold of an optional stop-value exit
// criterion.
type StopVal struct {
	Field     string  `yaml:"field"`
	Threshold float64 `yaml:"threshold"`
}

// ExitCriteria holds the configured termination tests. SimMax and GenMax are
// pointers so that an explicit "sim_max: 0" in YAML (distinguishable via
// yaml.v3's pointer-unmarshaling: absent key leaves the pointer nil, present
// key always allocates) is not conflated with sim_max being unconfigured.
type ExitCriteria struct {
	SimMax               *int     `yaml:"sim_max"`
	GenMax               *int     `yaml:"gen_max"`
	ElapsedWallclockTime Duration `yaml:"elapsed_wallclock_time"`
	StopVal              *StopVal `yaml:"stop_val"`
}

// Run is the complete configuration for one ensemble run.
type Run struct {
	LibE  LibE         `yaml:"libE"`
	Sim   Spec         `yaml:"sim"`
	Gen   Spec         `yaml:"gen"`
	Exit  ExitCriteria `yaml:"exit_criteria"`
	Alloc string       `yaml:"alloc_func"`
}

// Duration wraps time.Duration so run configs can write "30s", "5m", etc.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads and parses a run configuration file.
func Load(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var r Run
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &r, nil
}

// Validate checks the recognized-keys-only invariants SPEC_FULL.md §6
// and §7 require before a run may begin.
func (r *Run) Validate() error {
	if r.LibE.Comms != CommsLocal && r.LibE.Comms != CommsGRPC {
		return fmt.Errorf("libE.comms must be %q or %q, got %q", CommsLocal, CommsGRPC, r.LibE.Comms)
	}
	if r.LibE.NWorkers <= 0 {
		return fmt.Errorf("libE.nworkers must be positive")
	}
	if len(r.Sim.Out) == 0 {
		return fmt.Errorf("sim.out must declare at least one output field")
	}
	if len(r.Gen.Out) == 0 {
		return fmt.Errorf("gen.out must declare at least one output field")
	}
	return nil
}
