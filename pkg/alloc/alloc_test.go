package alloc

import (
	"testing"

	"github.com/cuemby/ensemble/pkg/history"
	"github.com/cuemby/ensemble/pkg/registry"
	"github.com/cuemby/ensemble/pkg/tags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsNonIdleWorker(t *testing.T) {
	reg := registry.New(2)
	require.NoError(t, reg.SetActive(1, tags.EvalSim))
	h := history.New([]history.ColumnSpec{{Name: "x", Kind: history.KindFloat64}}, 4, 0)

	orders := map[int]*WorkOrder{1: {Tag: tags.EvalSim}}
	err := Validate(orders, reg, h)
	assert.Error(t, err)
}

func TestValidateRejectsWorkerZero(t *testing.T) {
	reg := registry.New(2)
	h := history.New(nil, 4, 0)
	orders := map[int]*WorkOrder{0: {Tag: tags.EvalSim}}
	assert.Error(t, Validate(orders, reg, h))
}

func TestValidateRejectsOutOfRangeRow(t *testing.T) {
	reg := registry.New(2)
	h := history.New([]history.ColumnSpec{{Name: "x", Kind: history.KindFloat64}}, 4, 0)
	orders := map[int]*WorkOrder{1: {Tag: tags.EvalSim, Rows: []int{0}}}
	assert.Error(t, Validate(orders, reg, h))
}

func TestValidateRejectsUnknownField(t *testing.T) {
	reg := registry.New(1)
	h := history.New([]history.ColumnSpec{{Name: "x", Kind: history.KindFloat64}}, 4, 0)
	orders := map[int]*WorkOrder{1: {Tag: tags.EvalSim, Fields: []string{"nope"}}}
	assert.Error(t, Validate(orders, reg, h))
}

func TestValidateAcceptsWellFormedOrder(t *testing.T) {
	reg := registry.New(1)
	h := history.New([]history.ColumnSpec{{Name: "x", Kind: history.KindFloat64}}, 4, 0)
	_, err := h.AppendGenerated(1, 2, map[string]interface{}{"x": []float64{1, 2}})
	require.NoError(t, err)

	orders := map[int]*WorkOrder{1: {Tag: tags.EvalSim, Fields: []string{"x"}, Rows: []int{0, 1}}}
	assert.NoError(t, Validate(orders, reg, h))
}

func TestOnlyPersistentGensStartsExactlyOneGen(t *testing.T) {
	reg := registry.New(3)
	h := history.New([]history.ColumnSpec{{Name: "x", Kind: history.KindFloat64}}, 8, 0)
	fn := NewOnlyPersistentGens([]string{"x"}, []string{"f"})

	orders, _, err := fn(Context{Registry: reg, History: h})
	require.NoError(t, err)

	genCount := 0
	for _, o := range orders {
		if o.Tag == tags.EvalGen {
			genCount++
			assert.True(t, o.Persistent)
		}
	}
	assert.Equal(t, 1, genCount)
}

func TestOnlyPersistentGensDispatchesSimsBeforeGen(t *testing.T) {
	reg := registry.New(2)
	h := history.New([]history.ColumnSpec{{Name: "x", Kind: history.KindFloat64}}, 8, 0)
	_, err := h.AppendGenerated(0, 1, map[string]interface{}{"x": []float64{0.5}})
	require.NoError(t, err)

	fn := NewOnlyPersistentGens([]string{"x"}, []string{"f"})
	orders, _, err := fn(Context{Registry: reg, History: h})
	require.NoError(t, err)

	simCount := 0
	for _, o := range orders {
		if o.Tag == tags.EvalSim {
			simCount++
		}
	}
	assert.Equal(t, 1, simCount)
}
