package model

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

var (
	ErrDuplicateIndex    = errors.New("Index already registered")
	ErrUnregisteredIndex = errors.New("Dependency is not registered")
	ErrCycle             = errors.New("Dependency cycle")
)

// Graph holds indices and their dependency edges. Registration validates
// every edge, so the graph is a DAG at all times and Order is a topological
// order stable with respect to registration.
type Graph struct {
	indexes []*Index
	byName  map[string]*Index
	ids     map[*Index]int64
	dag     *simple.DirectedGraph
	order   []*Index
}

func NewGraph() *Graph {
	return &Graph{
		byName: make(map[string]*Index),
		ids:    make(map[*Index]int64),
		dag:    simple.NewDirectedGraph(),
	}
}

// Add registers indices. Every dependency must already be registered (or
// appear earlier in the same call).
func (g *Graph) Add(indexes ...*Index) error {
	for _, idx := range indexes {
		if err := g.add(idx); err != nil {
			return err
		}
	}
	return g.sort()
}

func (g *Graph) add(idx *Index) error {
	if _, ok := g.byName[idx.Name]; ok {
		return errors.Wrapf(ErrDuplicateIndex, "Can't register '%s'", idx.Name)
	}
	if _, ok := g.ids[idx]; ok {
		return errors.Wrapf(ErrDuplicateIndex, "Can't register '%s' twice", idx.Name)
	}
	for _, dep := range idx.deps {
		if dep == idx {
			return errors.Wrapf(ErrCycle, "Index '%s' depends on itself", idx.Name)
		}
		if _, ok := g.ids[dep]; !ok {
			return errors.Wrapf(ErrUnregisteredIndex, "Can't register '%s': '%s'", idx.Name, dep.Name)
		}
	}
	id := int64(len(g.indexes))
	g.dag.AddNode(simple.Node(id))
	for _, dep := range idx.deps {
		from := simple.Node(g.ids[dep])
		if g.dag.HasEdgeFromTo(from.ID(), id) {
			continue
		}
		g.dag.SetEdge(g.dag.NewEdge(from, simple.Node(id)))
	}
	g.ids[idx] = id
	g.byName[idx.Name] = idx
	g.indexes = append(g.indexes, idx)
	return nil
}

func (g *Graph) sort() error {
	nodes, err := topo.SortStabilized(g.dag, byID)
	if err != nil {
		return errors.Wrap(ErrCycle, err.Error())
	}
	order := make([]*Index, len(nodes))
	for i, n := range nodes {
		order[i] = g.indexes[n.ID()]
	}
	g.order = order
	return nil
}

func byID(nodes []graph.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
}

// Order returns the evaluation order
func (g *Graph) Order() []*Index {
	return g.order
}

func (g *Graph) Lookup(name string) (*Index, bool) {
	idx, ok := g.byName[name]
	return idx, ok
}

func (g *Graph) Len() int {
	return len(g.indexes)
}

// Batch maps every index to its evaluated array. It is read-only once built.
type Batch struct {
	Size   int
	values map[*Index]*Array
	names  map[string]*Index
}

func (b *Batch) Get(idx *Index) *Array {
	return b.values[idx]
}

func (b *Batch) ByName(name string) (*Array, bool) {
	idx, ok := b.names[name]
	if !ok {
		return nil, false
	}
	arr, ok := b.values[idx]
	return arr, ok
}

// Evaluate runs one Monte Carlo pass of size draws over the whole graph.
// Stochastic indices consume src in evaluation order.
func (g *Graph) Evaluate(size int, src rand.Source) (*Batch, error) {
	if size < 1 {
		return nil, fmt.Errorf("Number of draws should be positive, got %d", size)
	}
	batch := &Batch{
		Size:   size,
		values: make(map[*Index]*Array, len(g.order)),
		names:  g.byName,
	}
	for _, idx := range g.order {
		arr, err := evaluateIndex(idx, size, src, batch.values)
		if err != nil {
			return nil, err
		}
		batch.values[idx] = arr
	}
	return batch, nil
}

func evaluateIndex(idx *Index, size int, src rand.Source, subs map[*Index]*Array) (arr *Array, err error) {
	switch idx.kind {
	case INDEX_CONSTANT:
		return Full(size, 1, idx.scalar), nil
	case INDEX_SERIES:
		return Row(idx.series), nil
	case INDEX_STOCHASTIC:
		return NewArray(size, 1, idx.dist.Sample(size, src)), nil
	}
	args := make([]*Array, len(idx.deps))
	for i, dep := range idx.deps {
		v, ok := subs[dep]
		if !ok {
			return nil, errors.Wrapf(ErrUnregisteredIndex, "Can't evaluate '%s': '%s' has no value", idx.Name, dep.Name)
		}
		args[i] = v
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("Can't evaluate '%s': %v", idx.Name, r)
		}
	}()
	return idx.expr(args...), nil
}
