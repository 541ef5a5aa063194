// Package alloc implements the allocation adapter: the call-out contract to
// a user-supplied allocation policy, and validation of the work orders it
// returns before the coordinator is allowed to dispatch them.
package alloc

import (
	"fmt"

	"github.com/cuemby/ensemble/pkg/history"
	"github.com/cuemby/ensemble/pkg/registry"
	"github.com/cuemby/ensemble/pkg/tags"
)

// WorkOrder is one dispatch unit produced by an allocation policy for a
// single target worker.
type WorkOrder struct {
	Tag        tags.Tag
	Fields     []string
	Rows       []int
	Persistent bool
	Blocking   []int
	GenNum     int
}

// Specs carries the generator/simulator declarations an allocation policy
// needs: which columns each produces/consumes and any user-domain
// parameters (bounds, batch size, ...), held opaquely as a map.
type Specs struct {
	In     []string
	Out    []history.ColumnSpec
	Params map[string]interface{}
}

// Context is everything an allocation policy is handed on each call. It must
// treat Registry and History as read-only: only the coordinator mutates
// them, and only after validating the orders this call returns.
type Context struct {
	Registry   *registry.Registry
	History    *history.History
	SimSpecs   Specs
	GenSpecs   Specs
	PersisInfo map[int]map[string]interface{}
}

// Func is a user-supplied allocation policy: given the current worker and
// history state, decide what each idle worker should do next. It may update
// PersisInfo entries in place or return a replacement map.
type Func func(ctx Context) (map[int]*WorkOrder, map[int]map[string]interface{}, error)

// Validate checks every entry of orders against the registry and history
// before the coordinator is allowed to dispatch any of them. A worker
// appearing in orders must exist, be idle, and its order must reference only
// rows that exist and fields the history declares.
func Validate(orders map[int]*WorkOrder, reg *registry.Registry, h *history.History) error {
	known := make(map[string]bool, len(h.ColumnNames()))
	for _, name := range h.ColumnNames() {
		known[name] = true
	}

	for w, order := range orders {
		if w == 0 {
			return fmt.Errorf("alloc: work order targets worker 0 (the coordinator)")
		}
		rec, err := reg.Get(w)
		if err != nil {
			return fmt.Errorf("alloc: work order for unknown worker %d", w)
		}
		if rec.Active != tags.Unset {
			return fmt.Errorf("alloc: work order for worker %d which is not idle", w)
		}
		if !order.Tag.IsCalcType() {
			return fmt.Errorf("alloc: work order for worker %d has invalid tag %s", w, order.Tag)
		}
		for _, r := range order.Rows {
			if r < 0 || r >= h.Index() {
				return fmt.Errorf("alloc: work order for worker %d references out-of-range row %d", w, r)
			}
		}
		for _, f := range order.Fields {
			if !known[f] {
				return fmt.Errorf("alloc: work order for worker %d references unknown field %q", w, f)
			}
		}
		for _, bw := range order.Blocking {
			brec, err := reg.Get(bw)
			if err != nil {
				return fmt.Errorf("alloc: work order for worker %d blocks unknown worker %d", w, bw)
			}
			if brec.Active != tags.Unset {
				return fmt.Errorf("alloc: work order for worker %d blocks non-idle worker %d", w, bw)
			}
		}
	}
	return nil
}
