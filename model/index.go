package model

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Expr computes a derived index from the evaluated arrays of its dependencies,
// passed in declaration order.
type Expr func(args ...*Array) *Array

type IndexKind uint8

const (
	INDEX_CONSTANT = IndexKind(iota + 1)
	INDEX_SERIES
	INDEX_STOCHASTIC
	INDEX_DERIVED
)

func (iotaIdx IndexKind) String() string {
	return [...]string{"constant", "series", "stochastic", "derived"}[iotaIdx-1]
}

// Index is a named quantity of the behavioural model. Primitive indices hold a
// constant, a time series or a distribution; derived ones hold an expression
// over other indices.
type Index struct {
	Name   string
	kind   IndexKind
	scalar float64
	series []float64
	dist   Distribution
	expr   Expr
	deps   []*Index
}

func Constant(name string, v float64) *Index {
	return &Index{Name: name, kind: INDEX_CONSTANT, scalar: v}
}

func Series(name string, values []float64) *Index {
	series := make([]float64, len(values))
	copy(series, values)
	return &Index{Name: name, kind: INDEX_SERIES, series: series}
}

func Stochastic(name string, dist Distribution) *Index {
	return &Index{Name: name, kind: INDEX_STOCHASTIC, dist: dist}
}

func Derived(name string, expr Expr, deps ...*Index) *Index {
	return &Index{Name: name, kind: INDEX_DERIVED, expr: expr, deps: deps}
}

func (idx *Index) Kind() IndexKind {
	return idx.kind
}

func (idx *Index) Dependencies() []*Index {
	return idx.deps
}

func (idx *Index) IsPrimitive() bool {
	return idx.kind != INDEX_DERIVED
}

func (idx *Index) String() string {
	return fmt.Sprintf("%s (%s)", idx.Name, idx.kind)
}

// Distribution draws independent samples for a stochastic index
type Distribution interface {
	Sample(n int, src rand.Source) []float64
}

// Uniform uses the location/scale convention: values lie in [Loc, Loc+Scale)
type Uniform struct {
	Loc   float64 `yaml:"loc"`
	Scale float64 `yaml:"scale"`
}

func (u Uniform) Sample(n int, src rand.Source) []float64 {
	dist := distuv.Uniform{Min: u.Loc, Max: u.Loc + u.Scale, Src: src}
	return draw(dist, n)
}

type Normal struct {
	Loc   float64 `yaml:"loc"`
	Scale float64 `yaml:"scale"`
}

func (nd Normal) Sample(n int, src rand.Source) []float64 {
	dist := distuv.Normal{Mu: nd.Loc, Sigma: nd.Scale, Src: src}
	return draw(dist, n)
}

type Triangle struct {
	Low  float64 `yaml:"low"`
	Mode float64 `yaml:"mode"`
	High float64 `yaml:"high"`
}

func (tr Triangle) Sample(n int, src rand.Source) []float64 {
	dist := distuv.NewTriangle(tr.Low, tr.High, tr.Mode, src)
	return draw(dist, n)
}

func draw(dist distuv.Rander, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}
