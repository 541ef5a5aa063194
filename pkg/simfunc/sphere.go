// Package simfunc provides example simulator routines satisfying
// userfunc.SimFunc.
package simfunc

import (
	"fmt"

	"github.com/cuemby/ensemble/pkg/userfunc"
)

// Sphere evaluates f(x) = sum(x_i^2) for each input point in In["x"]
// ([][]float64), returning the scalar results under Out["f"].
func Sphere(in userfunc.SimInput) (userfunc.SimOutput, error) {
	points, ok := in.In["x"].([][]float64)
	if !ok {
		return userfunc.SimOutput{}, fmt.Errorf("simfunc: in[\"x\"] must be [][]float64")
	}

	f := make([]float64, len(points))
	for i, x := range points {
		var sum float64
		for _, v := range x {
			sum += v * v
		}
		f[i] = sum
	}

	return userfunc.SimOutput{Out: map[string]interface{}{"f": f}}, nil
}
