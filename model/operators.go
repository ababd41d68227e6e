package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// ProbThreshold zeroes kernel weights at or below it
	ProbThreshold = 0.005
	// RecordFrequency is the number of slots per hour
	RecordFrequency = 12
	// RecordHeadway is the slot length in hours
	RecordHeadway = 1.0 / RecordFrequency
	// Slots is the number of 5-minute slots in a day
	Slots = 24 * RecordFrequency

	adaptiveMaxIter = 50
	adaptiveMinDiff = 1e-5
)

// Sum collapses the time axis: (size,T) -> (size,1)
func Sum(ts *Array) *Array {
	r, _ := ts.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		out[i] = floats.Sum(ts.RawRow(i))
	}
	return NewArray(r, 1, out)
}

// Solver turns an inflow series into the circulating traffic implied by a
// dwell time given in hours.
type Solver func(ts *Array, dwellTime float64) *Array

// SolveDeterministic convolves each row circularly with exp(-lag/tau), tau
// being the dwell time in slots. Kernel weights at or below ProbThreshold are
// dropped; lag 0 carries the full-day weight exp(-T/tau).
func SolveDeterministic(ts *Array, dwellTime float64) *Array {
	rows, cols := ts.Dims()
	tau := dwellTime * RecordFrequency
	decay := make([]float64, cols)
	if tau > 0 {
		for lag := 1; lag <= cols; lag++ {
			w := math.Exp(-float64(lag) / tau)
			if w > ProbThreshold {
				decay[lag%cols] = w
			}
		}
	}
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		row := ts.RawRow(i)
		for t := 0; t < cols; t++ {
			v := row[t]
			for j, x := range row {
				lag := (t - j + cols) % cols
				if decay[lag] != 0 {
					v += x * decay[lag]
				}
			}
			out.Set(i, t, v)
		}
	}
	return &Array{m: out}
}

// SolveAdaptive iterates series = ts + shift(series, 1)*alpha with
// alpha = (tau-1)/tau until the largest change drops below 1e-5 or the
// iteration cap is hit. Hitting the cap is not an error. Alpha is negative
// for dwell times below one slot; a non-positive dwell time keeps ts.
func SolveAdaptive(ts *Array, dwellTime float64) *Array {
	rows, cols := ts.Dims()
	tau := dwellTime * RecordFrequency
	alpha := 0.0
	if tau > 0 {
		alpha = (tau - 1) / tau
	}
	series := mat.DenseCopyOf(ts.m)
	next := mat.NewDense(rows, cols, nil)
	for iter := 0; iter < adaptiveMaxIter; iter++ {
		maxDiff := 0.0
		for i := 0; i < rows; i++ {
			cur := series.RawRowView(i)
			for t := 0; t < cols; t++ {
				prev := cur[(t-1+cols)%cols]
				v := ts.At(i, t) + prev*alpha
				next.Set(i, t, v)
				if d := math.Abs(cur[t] - v); d > maxDiff {
					maxDiff = d
				}
			}
		}
		if maxDiff < adaptiveMinDiff {
			break
		}
		series, next = next, series
	}
	return &Array{m: series}
}

// ChooseBase apportions the probability that the base alternative wins when
// each competing alternative is independently active with its own weight.
// Every subset of competitors contributes
// base * prod(active) * prod(1-inactive) * base/(base+sum(active)).
func ChooseBase(base *Array, competitors ...*Array) *Array {
	if len(competitors) == 0 {
		r, c := base.Dims()
		return Full(r, c, 1)
	}
	args := append([]*Array{base}, competitors...)
	k := len(competitors)
	return Apply(func(v []float64) float64 {
		wa := v[0]
		wb := v[1:]
		p := 0.0
		for mask := 0; mask < 1<<k; mask++ {
			term := wa
			denominator := wa
			for i := 0; i < k; i++ {
				if mask&(1<<i) != 0 {
					term *= wb[i]
					denominator += wb[i]
				} else {
					term *= 1 - wb[i]
				}
			}
			if mask != 0 {
				if denominator == 0 {
					continue
				}
				term *= wa / denominator
			}
			p += term
		}
		return p
	}, args...)
}

// shiftKernel returns v1[k] = S(k*h) - S((k+1)*h) with S the half-life
// survival of median p50, thresholded at ProbThreshold.
func shiftKernel(cols int, p50 float64) []float64 {
	v1 := make([]float64, cols)
	for k := range v1 {
		w := halfLife(float64(k)*RecordHeadway, p50) - halfLife(float64(k+1)*RecordHeadway, p50)
		if w >= ProbThreshold {
			v1[k] = w
		}
	}
	return v1
}

// boundarySlot finds the slot where delta reaches zero. When the boundary is
// not slot aligned the first (or last, when fromEnd) finite slot is used.
func boundarySlot(delta []float64, fromEnd bool) int {
	for t, d := range delta {
		if d == 0 {
			return t
		}
	}
	if fromEnd {
		for t := len(delta) - 1; t >= 0; t-- {
			if !math.IsInf(delta[t], 1) {
				return t
			}
		}
		return -1
	}
	for t, d := range delta {
		if !math.IsInf(d, 1) {
			return t
		}
	}
	return -1
}

// Anticipate moves each count at or after the window start t0 to the slots
// before t0. For source slot t the kernel tail v1[t-t0:] is renormalised and
// its first t0 weights land on t0-1, t0-2, ... 0. Mass that would fall before
// midnight stays trapped.
func Anticipate(number, deltaFromStart, p50 *Array) *Array {
	rows, cols := broadcastDims(number, p50)
	_, deltaCols := deltaFromStart.Dims()
	cols = broadcastDim(cols, deltaCols)
	out := mat.NewDense(rows, cols, nil)
	t0 := boundarySlot(rowOf(deltaFromStart, 0, cols), false)
	if t0 < 0 {
		return &Array{m: out}
	}
	for i := 0; i < rows; i++ {
		v1 := shiftKernel(cols, p50.At(i, 0))
		for t := t0; t < cols; t++ {
			tail := v1[t-t0:]
			total := floats.Sum(tail)
			if total <= 0 {
				continue
			}
			n := number.At(i, t)
			for deltat := 1; deltat <= t0 && deltat-1 < len(tail); deltat++ {
				out.Set(i, t0-deltat, out.At(i, t0-deltat)+n*tail[deltat-1]/total)
			}
		}
	}
	return &Array{m: out}
}

// Postpone is the mirror of Anticipate around the window end t0: counts at or
// before t0 land on t0+1, t0+2, ... and mass past midnight stays trapped.
func Postpone(number, deltaToEnd, p50 *Array) *Array {
	rows, cols := broadcastDims(number, p50)
	_, deltaCols := deltaToEnd.Dims()
	cols = broadcastDim(cols, deltaCols)
	out := mat.NewDense(rows, cols, nil)
	t0 := boundarySlot(rowOf(deltaToEnd, 0, cols), true)
	if t0 < 0 {
		return &Array{m: out}
	}
	for i := 0; i < rows; i++ {
		v1 := shiftKernel(cols, p50.At(i, 0))
		for t := t0; t >= 0; t-- {
			tail := v1[t0-t:]
			total := floats.Sum(tail)
			if total <= 0 {
				continue
			}
			n := number.At(i, t)
			for deltat := 0; deltat < cols-t0-1 && deltat < len(tail); deltat++ {
				out.Set(i, t0+1+deltat, out.At(i, t0+1+deltat)+n*tail[deltat]/total)
			}
		}
	}
	return &Array{m: out}
}

func rowOf(a *Array, i, cols int) []float64 {
	out := make([]float64, cols)
	for j := range out {
		out[j] = a.At(i, j)
	}
	return out
}
