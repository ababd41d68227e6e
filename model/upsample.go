package model

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/interp"
)

// Upsample turns 24 hourly values into Slots 5-minute values. Hourly values
// sit at the middle slot of their hour, both day ends take the mean of the
// first and last hour, and a not-a-knot cubic spline fills the rest. Negative
// spline overshoots are clamped to zero.
func Upsample(hourly []float64) ([]float64, error) {
	if len(hourly) != 24 {
		return nil, fmt.Errorf("Upsample expects 24 hourly values, got %d", len(hourly))
	}
	edge := (hourly[0] + hourly[23]) / 2
	xs := make([]float64, 0, 26)
	ys := make([]float64, 0, 26)
	xs = append(xs, 0)
	ys = append(ys, edge)
	for h, v := range hourly {
		xs = append(xs, float64(h*RecordFrequency+RecordFrequency/2))
		ys = append(ys, v)
	}
	xs = append(xs, Slots-1)
	ys = append(ys, edge)

	var spline interp.NotAKnotCubic
	if err := spline.Fit(xs, ys); err != nil {
		return nil, errors.Wrap(err, "Can't fit spline")
	}
	out := make([]float64, Slots)
	for n := range out {
		v := spline.Predict(float64(n))
		if v < 0 {
			v = 0
		}
		out[n] = v
	}
	return out, nil
}
