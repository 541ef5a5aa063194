// Package genfunc provides example generator routines satisfying
// userfunc.GenFunc.
package genfunc

import (
	"fmt"
	"math/rand"

	"github.com/cuemby/ensemble/pkg/userfunc"
)

// UniformRandomSample draws GenBatchSize points uniformly from [LB, UB] on
// every call, ignoring whatever simulator output it is re-fed — the
// simplest generator a persistent-generator allocation policy can drive.
// Params must supply "lb" and "ub" ([]float64 of equal length) and
// "gen_batch_size" (int).
func UniformRandomSample(in userfunc.GenInput) (userfunc.GenOutput, error) {
	lb, ok := in.Params["lb"].([]float64)
	if !ok {
		return userfunc.GenOutput{}, fmt.Errorf("genfunc: params[\"lb\"] must be []float64")
	}
	ub, ok := in.Params["ub"].([]float64)
	if !ok || len(ub) != len(lb) {
		return userfunc.GenOutput{}, fmt.Errorf("genfunc: params[\"ub\"] must be []float64 of the same length as lb")
	}
	batch, ok := in.Params["gen_batch_size"].(int)
	if !ok || batch <= 0 {
		return userfunc.GenOutput{}, fmt.Errorf("genfunc: params[\"gen_batch_size\"] must be a positive int")
	}

	n := len(lb)
	points := make([][]float64, batch)
	for i := 0; i < batch; i++ {
		x := make([]float64, n)
		for j := 0; j < n; j++ {
			x[j] = lb[j] + rand.Float64()*(ub[j]-lb[j])
		}
		points[i] = x
	}

	return userfunc.GenOutput{
		Out: map[string]interface{}{"x": points},
		N:   batch,
	}, nil
}
