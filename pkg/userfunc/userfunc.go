// Package userfunc declares the data-only contract between the coordinator
// system and user-supplied generator and simulator routines. A routine sees
// only the fields it asked for and a params bag; it never touches the
// history table or worker registry directly.
package userfunc

// GenInput is what a generator routine receives on each invocation. In is
// empty on a generator's first call (nothing has been returned yet); on
// later calls it carries the simulator output columns the generator spec
// declared as input.
type GenInput struct {
	In         map[string]interface{}
	Params     map[string]interface{}
	PersisInfo map[string]interface{}
}

// GenOutput is the batch a generator routine produces: N new rows, with Out
// holding one slice per declared output column (each of length N). A
// persistent generator sets Done once it has no further rows to produce,
// signaling the worker driver to report tags.FinishedPersistentGen instead of
// tags.WorkerDone on this call.
type GenOutput struct {
	Out        map[string]interface{}
	N          int
	PersisInfo map[string]interface{}
	Done       bool
}

// GenFunc is a user-supplied generator routine.
type GenFunc func(in GenInput) (GenOutput, error)

// SimInput is what a simulator routine receives: the input column values
// for the rows it was dispatched, and its spec's params bag.
type SimInput struct {
	In     map[string]interface{}
	Params map[string]interface{}
}

// SimOutput is the column values a simulator routine computed for the rows
// it was given, keyed by output column name. A persistent simulator sets
// Done once it has finished its in-memory work, signaling the worker driver
// to report tags.FinishedPersistentSim instead of tags.WorkerDone on this
// call.
type SimOutput struct {
	Out  map[string]interface{}
	Done bool
}

// SimFunc is a user-supplied simulator routine.
type SimFunc func(in SimInput) (SimOutput, error)
