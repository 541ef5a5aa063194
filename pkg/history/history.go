// Package history implements the ensemble coordinator's columnar history
// table: the append-mostly record of every point proposed by a generator and
// evaluated by a simulator during a run.
package history

import (
	"fmt"
	"time"

	"github.com/cuemby/ensemble/pkg/log"
)

// simIDColumn is the reserved output column name a generator may declare to
// supply its own row identifiers instead of relying on the table's row index.
const simIDColumn = "sim_id"

// ColumnKind identifies the Go type backing one history column.
type ColumnKind int

const (
	KindFloat64 ColumnKind = iota
	KindFloat64Vector
	KindBool
	KindInt
	KindString
)

// ColumnSpec declares one user-domain column of the history table, e.g. the
// generator's "x" output or the simulator's "f" output.
type ColumnSpec struct {
	Name string
	Kind ColumnKind
}

// column is the typed backing store for one ColumnSpec. Only the slice
// matching Kind is populated; the others stay nil.
type column struct {
	kind   ColumnKind
	f64    []float64
	f64vec [][]float64
	b      []bool
	i      []int
	s      []string
}

func newColumn(kind ColumnKind, capacity int) *column {
	c := &column{kind: kind}
	switch kind {
	case KindFloat64:
		c.f64 = make([]float64, 0, capacity)
	case KindFloat64Vector:
		c.f64vec = make([][]float64, 0, capacity)
	case KindBool:
		c.b = make([]bool, 0, capacity)
	case KindInt:
		c.i = make([]int, 0, capacity)
	case KindString:
		c.s = make([]string, 0, capacity)
	}
	return c
}

func (c *column) len() int {
	switch c.kind {
	case KindFloat64:
		return len(c.f64)
	case KindFloat64Vector:
		return len(c.f64vec)
	case KindBool:
		return len(c.b)
	case KindInt:
		return len(c.i)
	case KindString:
		return len(c.s)
	}
	return 0
}

// History is the coordinator's point-evaluation ledger. It is accessed only
// from the coordinator goroutine; callers that need a consistent view from
// another goroutine must be handed a Slice result, never the History itself.
type History struct {
	specs   []ColumnSpec
	columns map[string]*column

	given     []bool
	givenTime []time.Time
	simWorker []int
	genWorker []int
	paused    []bool
	returned  []bool

	index      int
	givenCount int
	simCount   int
	offset     int
}

// New creates a History with the declared user columns, preallocated to
// capacity rows, with offset pre-seeded rows already accounted for.
func New(specs []ColumnSpec, capacity, offset int) *History {
	h := &History{
		specs:   specs,
		columns: make(map[string]*column, len(specs)),
		offset:  offset,
	}
	for _, s := range specs {
		h.columns[s.Name] = newColumn(s.Kind, capacity)
	}
	// A user-declared sim_id output column is stored as an ordinary int
	// column next to the table's own row index, which stays the row's
	// identifier; AppendGenerated only checks its values for collisions.
	// libE.py:146 warns at declaration time on exactly this case
	// ('out' in gen_specs and ('sim_id', int) in gen_specs['out']).
	if _, ok := h.columns[simIDColumn]; ok {
		log.Warn("gen_specs declares a sim_id output column; the generator is responsible for assigning unique ids")
	}
	h.given = make([]bool, 0, capacity)
	h.givenTime = make([]time.Time, 0, capacity)
	h.simWorker = make([]int, 0, capacity)
	h.genWorker = make([]int, 0, capacity)
	h.paused = make([]bool, 0, capacity)
	h.returned = make([]bool, 0, capacity)
	return h
}

// Index returns the total number of rows appended so far.
func (h *History) Index() int { return h.index }

// GivenCount returns the number of rows marked given to a simulator.
func (h *History) GivenCount() int { return h.givenCount }

// SimCount returns the number of rows marked returned from a simulator.
func (h *History) SimCount() int { return h.simCount }

// Offset returns the number of pre-seeded rows supplied at startup.
func (h *History) Offset() int { return h.offset }

// ColumnNames returns the declared user-domain column names.
func (h *History) ColumnNames() []string {
	names := make([]string, len(h.specs))
	for i, s := range h.specs {
		names[i] = s.Name
	}
	return names
}

// AppendGenerated appends n new rows produced by worker genWorker, with
// per-column values supplied in values (keyed by column name; each value
// must be a slice of length n of the column's Go type). It assigns each new
// row's index consecutively starting at the current Index(), and returns the
// row indices assigned.
func (h *History) AppendGenerated(genWorker int, n int, values map[string]interface{}) ([]int, error) {
	if n <= 0 {
		return nil, nil
	}
	if raw, ok := values[simIDColumn]; ok {
		if err := h.checkSimIDCollision(raw); err != nil {
			return nil, err
		}
	}
	for name, v := range values {
		col, ok := h.columns[name]
		if !ok {
			return nil, fmt.Errorf("history: unknown column %q", name)
		}
		if err := appendValue(col, v, n); err != nil {
			return nil, fmt.Errorf("history: column %q: %w", name, err)
		}
	}
	// Columns not present in this batch must still advance with zero values
	// so that every column stays exactly Index()+n long.
	for name, col := range h.columns {
		if _, touched := values[name]; !touched {
			padZero(col, n)
		}
	}

	rows := make([]int, n)
	for k := 0; k < n; k++ {
		rows[k] = h.index + k
		h.given = append(h.given, false)
		h.givenTime = append(h.givenTime, time.Time{})
		h.simWorker = append(h.simWorker, 0)
		h.genWorker = append(h.genWorker, genWorker)
		h.paused = append(h.paused, false)
		h.returned = append(h.returned, false)
	}
	h.index += n
	return rows, nil
}

// checkSimIDCollision rejects a generated batch whose sim_id values collide
// with sim_id values already present in the table. sim_id is declared as a
// plain KindInt column; colliding rows are never appended.
func (h *History) checkSimIDCollision(raw interface{}) error {
	col, ok := h.columns[simIDColumn]
	if !ok {
		return fmt.Errorf("history: unknown column %q", simIDColumn)
	}
	if col.kind != KindInt {
		return fmt.Errorf("history: column %q must be declared as an int column", simIDColumn)
	}
	ids, ok := raw.([]int)
	if !ok {
		return fmt.Errorf("history: column %q: expected []int", simIDColumn)
	}
	existing := make(map[int]struct{}, len(col.i))
	for _, id := range col.i {
		existing[id] = struct{}{}
	}
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := existing[id]; dup {
			return fmt.Errorf("history: sim_id %d collides with an existing row", id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("history: sim_id %d duplicated within batch", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func appendValue(c *column, v interface{}, n int) error {
	switch c.kind {
	case KindFloat64:
		vv, ok := v.([]float64)
		if !ok || len(vv) != n {
			return fmt.Errorf("expected []float64 of length %d", n)
		}
		c.f64 = append(c.f64, vv...)
	case KindFloat64Vector:
		vv, ok := v.([][]float64)
		if !ok || len(vv) != n {
			return fmt.Errorf("expected [][]float64 of length %d", n)
		}
		c.f64vec = append(c.f64vec, vv...)
	case KindBool:
		vv, ok := v.([]bool)
		if !ok || len(vv) != n {
			return fmt.Errorf("expected []bool of length %d", n)
		}
		c.b = append(c.b, vv...)
	case KindInt:
		vv, ok := v.([]int)
		if !ok || len(vv) != n {
			return fmt.Errorf("expected []int of length %d", n)
		}
		c.i = append(c.i, vv...)
	case KindString:
		vv, ok := v.([]string)
		if !ok || len(vv) != n {
			return fmt.Errorf("expected []string of length %d", n)
		}
		c.s = append(c.s, vv...)
	}
	return nil
}

func padZero(c *column, n int) {
	switch c.kind {
	case KindFloat64:
		c.f64 = append(c.f64, make([]float64, n)...)
	case KindFloat64Vector:
		c.f64vec = append(c.f64vec, make([][]float64, n)...)
	case KindBool:
		c.b = append(c.b, make([]bool, n)...)
	case KindInt:
		c.i = append(c.i, make([]int, n)...)
	case KindString:
		c.s = append(c.s, make([]string, n)...)
	}
}

// MarkGiven dispatches rows to worker w: each row must be unGiven and
// unpaused. given_count increases by len(rows).
func (h *History) MarkGiven(rows []int, w int, now time.Time) error {
	for _, r := range rows {
		if r < 0 || r >= h.index {
			return fmt.Errorf("history: row %d out of range", r)
		}
		if h.given[r] {
			return fmt.Errorf("history: row %d already given", r)
		}
		if h.paused[r] {
			return fmt.Errorf("history: row %d is paused", r)
		}
	}
	for _, r := range rows {
		h.given[r] = true
		h.givenTime[r] = now
		h.simWorker[r] = w
	}
	h.givenCount += len(rows)
	return nil
}

// MarkReturned locates the rows currently given to worker w and not yet
// returned, writes the simulator outputs supplied in values onto those rows,
// and marks them returned. It returns the row indices it updated.
func (h *History) MarkReturned(w int, values map[string]interface{}) ([]int, error) {
	var rows []int
	for r := 0; r < h.index; r++ {
		if h.simWorker[r] == w && h.given[r] && !h.returned[r] {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	for name, v := range values {
		col, ok := h.columns[name]
		if !ok {
			return nil, fmt.Errorf("history: unknown column %q", name)
		}
		if err := scatterValue(col, v, rows); err != nil {
			return nil, fmt.Errorf("history: column %q: %w", name, err)
		}
	}
	for _, r := range rows {
		h.returned[r] = true
	}
	h.simCount += len(rows)
	return rows, nil
}

func scatterValue(c *column, v interface{}, rows []int) error {
	switch c.kind {
	case KindFloat64:
		vv, ok := v.([]float64)
		if !ok || len(vv) != len(rows) {
			return fmt.Errorf("expected []float64 of length %d", len(rows))
		}
		for k, r := range rows {
			c.f64[r] = vv[k]
		}
	case KindFloat64Vector:
		vv, ok := v.([][]float64)
		if !ok || len(vv) != len(rows) {
			return fmt.Errorf("expected [][]float64 of length %d", len(rows))
		}
		for k, r := range rows {
			c.f64vec[r] = vv[k]
		}
	case KindBool:
		vv, ok := v.([]bool)
		if !ok || len(vv) != len(rows) {
			return fmt.Errorf("expected []bool of length %d", len(rows))
		}
		for k, r := range rows {
			c.b[r] = vv[k]
		}
	case KindInt:
		vv, ok := v.([]int)
		if !ok || len(vv) != len(rows) {
			return fmt.Errorf("expected []int of length %d", len(rows))
		}
		for k, r := range rows {
			c.i[r] = vv[k]
		}
	case KindString:
		vv, ok := v.([]string)
		if !ok || len(vv) != len(rows) {
			return fmt.Errorf("expected []string of length %d", len(rows))
		}
		for k, r := range rows {
			c.s[r] = vv[k]
		}
	}
	return nil
}

// Slice extracts a columnar subset of fields over the given rows, suitable
// for shipping to a worker or writing to a snapshot. An empty fields list
// selects all declared user columns.
func (h *History) Slice(fields []string, rows []int) (map[string]interface{}, error) {
	if len(fields) == 0 {
		fields = h.ColumnNames()
	}
	out := make(map[string]interface{}, len(fields))
	for _, name := range fields {
		col, ok := h.columns[name]
		if !ok {
			return nil, fmt.Errorf("history: unknown column %q", name)
		}
		out[name] = gatherValue(col, rows)
	}
	return out, nil
}

func gatherValue(c *column, rows []int) interface{} {
	switch c.kind {
	case KindFloat64:
		out := make([]float64, len(rows))
		for k, r := range rows {
			out[k] = c.f64[r]
		}
		return out
	case KindFloat64Vector:
		out := make([][]float64, len(rows))
		for k, r := range rows {
			out[k] = c.f64vec[r]
		}
		return out
	case KindBool:
		out := make([]bool, len(rows))
		for k, r := range rows {
			out[k] = c.b[r]
		}
		return out
	case KindInt:
		out := make([]int, len(rows))
		for k, r := range rows {
			out[k] = c.i[r]
		}
		return out
	case KindString:
		out := make([]string, len(rows))
		for k, r := range rows {
			out[k] = c.s[r]
		}
		return out
	}
	return nil
}

// AllRows returns [0, Index()) — the full prefix of valid row indices.
func (h *History) AllRows() []int {
	rows := make([]int, h.index)
	for i := range rows {
		rows[i] = i
	}
	return rows
}

// UnfinishedSimRows returns the rows given to a simulator but not yet
// returned — used by the allocator to avoid re-dispatching in-flight work.
func (h *History) UnfinishedSimRows() []int {
	var rows []int
	for r := 0; r < h.index; r++ {
		if h.given[r] && !h.returned[r] {
			rows = append(rows, r)
		}
	}
	return rows
}

// UngivenRows returns rows that have never been dispatched to a simulator
// and are not paused, in ascending row order.
func (h *History) UngivenRows() []int {
	var rows []int
	for r := 0; r < h.index; r++ {
		if !h.given[r] && !h.paused[r] {
			rows = append(rows, r)
		}
	}
	return rows
}

// SetPaused marks rows as paused or resumed; paused rows cannot be given.
func (h *History) SetPaused(rows []int, paused bool) error {
	for _, r := range rows {
		if r < 0 || r >= h.index {
			return fmt.Errorf("history: row %d out of range", r)
		}
	}
	for _, r := range rows {
		h.paused[r] = paused
	}
	return nil
}

// Given reports whether row r has been dispatched to a simulator.
func (h *History) Given(r int) bool { return h.given[r] }

// Returned reports whether row r's simulator result has arrived.
func (h *History) Returned(r int) bool { return h.returned[r] }

// SimWorker returns the worker row r was dispatched to (0 if never given).
func (h *History) SimWorker(r int) int { return h.simWorker[r] }

// GenWorker returns the worker that generated row r.
func (h *History) GenWorker(r int) int { return h.genWorker[r] }

// StopValBelow reports whether any non-NaN value in the named float64
// column, over rows [0, Index()), is strictly below threshold.
func (h *History) StopValBelow(column string, threshold float64) (bool, error) {
	col, ok := h.columns[column]
	if !ok {
		return false, fmt.Errorf("history: unknown column %q", column)
	}
	if col.kind != KindFloat64 {
		return false, fmt.Errorf("history: column %q is not float64", column)
	}
	for r := 0; r < h.index; r++ {
		v := col.f64[r]
		if v == v && v < threshold { // v == v excludes NaN
			return true, nil
		}
	}
	return false, nil
}
