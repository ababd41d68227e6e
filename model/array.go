package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Array is a (draws x timesteps) block of values. A dimension equal to 1
// broadcasts against any other size, so a (size,1) per-draw column combines
// with a (1,T) time series into a (size,T) result.
type Array struct {
	m *mat.Dense
}

// NewArray wraps data (row major) without copying it
func NewArray(rows, cols int, data []float64) *Array {
	return &Array{m: mat.NewDense(rows, cols, data)}
}

// Full returns a rows x cols array filled with v
func Full(rows, cols int, v float64) *Array {
	data := make([]float64, rows*cols)
	if v != 0 {
		for i := range data {
			data[i] = v
		}
	}
	return NewArray(rows, cols, data)
}

// Column returns a (len(values), 1) array
func Column(values []float64) *Array {
	data := make([]float64, len(values))
	copy(data, values)
	return NewArray(len(values), 1, data)
}

// Row returns a (1, len(values)) array
func Row(values []float64) *Array {
	data := make([]float64, len(values))
	copy(data, values)
	return NewArray(1, len(values), data)
}

func (a *Array) Dims() (int, int) {
	return a.m.Dims()
}

// At reads element (i, j) honouring broadcast dimensions
func (a *Array) At(i, j int) float64 {
	r, c := a.m.Dims()
	if r == 1 {
		i = 0
	}
	if c == 1 {
		j = 0
	}
	return a.m.At(i, j)
}

// RawRow returns the backing slice of row i. It must not be modified.
func (a *Array) RawRow(i int) []float64 {
	return a.m.RawRowView(i)
}

// Values returns a copy of all elements, row major
func (a *Array) Values() []float64 {
	raw := a.m.RawMatrix()
	out := make([]float64, 0, raw.Rows*raw.Cols)
	for i := 0; i < raw.Rows; i++ {
		out = append(out, a.m.RawRowView(i)...)
	}
	return out
}

// Mean is the mean over every element
func (a *Array) Mean() float64 {
	r, c := a.m.Dims()
	total := 0.0
	for i := 0; i < r; i++ {
		total += floats.Sum(a.m.RawRowView(i))
	}
	return total / float64(r*c)
}

// ColumnMeans averages over draws, returning one value per timestep
func (a *Array) ColumnMeans() []float64 {
	r, c := a.m.Dims()
	out := make([]float64, c)
	for i := 0; i < r; i++ {
		floats.Add(out, a.m.RawRowView(i))
	}
	floats.Scale(1/float64(r), out)
	return out
}

func broadcastDims(arrays ...*Array) (int, int) {
	rows, cols := 1, 1
	for _, a := range arrays {
		r, c := a.Dims()
		rows = broadcastDim(rows, r)
		cols = broadcastDim(cols, c)
	}
	return rows, cols
}

func broadcastDim(a, b int) int {
	switch {
	case a == b:
		return a
	case a == 1:
		return b
	case b == 1:
		return a
	}
	panic(mat.ErrShape)
}

// Apply evaluates f element-wise over broadcast arguments into a new array.
// Arguments are never modified.
func Apply(f func(v []float64) float64, args ...*Array) *Array {
	rows, cols := broadcastDims(args...)
	out := mat.NewDense(rows, cols, nil)
	buf := make([]float64, len(args))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			for k, arg := range args {
				buf[k] = arg.At(i, j)
			}
			out.Set(i, j, f(buf))
		}
	}
	return &Array{m: out}
}

func Map(a *Array, f func(x float64) float64) *Array {
	return Apply(func(v []float64) float64 { return f(v[0]) }, a)
}

func Add(a, b *Array) *Array {
	return Apply(func(v []float64) float64 { return v[0] + v[1] }, a, b)
}

func Sub(a, b *Array) *Array {
	return Apply(func(v []float64) float64 { return v[0] - v[1] }, a, b)
}

func Mul(a, b *Array) *Array {
	return Apply(func(v []float64) float64 { return v[0] * v[1] }, a, b)
}

// Div follows IEEE semantics: x/0 yields ±Inf or NaN, as in vectorised numeric code.
func Div(a, b *Array) *Array {
	return Apply(func(v []float64) float64 { return v[0] / v[1] }, a, b)
}

func Scale(k float64, a *Array) *Array {
	return Map(a, func(x float64) float64 { return k * x })
}

// Where picks yes where cond is non-zero and no elsewhere
func Where(cond, yes, no *Array) *Array {
	return Apply(func(v []float64) float64 {
		if v[0] != 0 {
			return v[1]
		}
		return v[2]
	}, cond, yes, no)
}

// halfLife returns exp(x / p50 * ln(0.5)), the survival of x against a median p50
func halfLife(x, p50 float64) float64 {
	return math.Exp(x / p50 * math.Log(0.5))
}
