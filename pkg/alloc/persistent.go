package alloc

import "github.com/cuemby/ensemble/pkg/tags"

// onlyPersistentGens implements the "one persistent generator, N simulator
// workers" allocation policy: every non-generator worker just runs the
// oldest undispatched point; the single generator worker stays persistent
// and is re-fed every simulator result as it lands.
type onlyPersistentGens struct {
	genInputFields  []string
	simOutputFields []string
	fed             map[int]bool
}

// NewOnlyPersistentGens returns an allocation Func implementing that policy.
// genInputFields names the generator-produced columns shipped with each
// simulator order (the simulator's inputs); simOutputFields names the
// columns shipped to the persistent generator when it is re-fed rows whose
// simulation has returned.
func NewOnlyPersistentGens(genInputFields, simOutputFields []string) Func {
	o := &onlyPersistentGens{genInputFields: genInputFields, simOutputFields: simOutputFields, fed: make(map[int]bool)}
	return o.alloc
}

func (o *onlyPersistentGens) alloc(ctx Context) (map[int]*WorkOrder, map[int]map[string]interface{}, error) {
	orders := make(map[int]*WorkOrder)
	h := ctx.History

	genStarted := false
	for _, wid := range ctx.Registry.IDs() {
		rec, err := ctx.Registry.Get(wid)
		if err != nil {
			continue
		}
		if rec.PersisState == tags.EvalGen {
			genStarted = true
			break
		}
	}

	ungiven := h.UngivenRows()
	ungivenIdx := 0

	for _, wid := range ctx.Registry.IDs() {
		rec, err := ctx.Registry.Get(wid)
		if err != nil || rec.Active != tags.Unset {
			continue
		}

		if rec.PersisState == tags.EvalGen {
			var rows []int
			for r := 0; r < h.Index(); r++ {
				if h.Returned(r) && !o.fed[r] {
					rows = append(rows, r)
				}
			}
			if len(rows) == 0 {
				continue
			}
			for _, r := range rows {
				o.fed[r] = true
			}
			orders[wid] = &WorkOrder{Tag: tags.EvalGen, Fields: o.simOutputFields, Rows: rows, Persistent: true}
			continue
		}

		if ungivenIdx < len(ungiven) {
			orders[wid] = &WorkOrder{Tag: tags.EvalSim, Fields: o.genInputFields, Rows: []int{ungiven[ungivenIdx]}}
			ungivenIdx++
			continue
		}

		if !genStarted {
			orders[wid] = &WorkOrder{Tag: tags.EvalGen, Persistent: true}
			genStarted = true
		}
	}

	return orders, nil, nil
}
