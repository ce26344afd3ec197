package formula

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func cellKey(row, col int) NodeKey {
	return CellKey(Address{Sheet: 1, Row: row, Col: col})
}

func TestNodeKeyOrder(t *testing.T) {
	keys := []NodeKey{
		VariableKey("b"),
		cellKey(1, 0),
		VariableKey("A"),
		CellKey(Address{Sheet: 2}),
		cellKey(0, 3),
	}
	want := []NodeKey{
		cellKey(0, 3),
		cellKey(1, 0),
		CellKey(Address{Sheet: 2}),
		VariableKey("a"),
		VariableKey("b"),
	}
	assert.Equal(t, want, sortedKeys(map[NodeKey]struct{}{
		keys[0]: {}, keys[1]: {}, keys[2]: {}, keys[3]: {}, keys[4]: {},
	}))
	assert.Equal(t, "rate", VariableKey("Rate").String())
	assert.Equal(t, "D1", cellKey(0, 3).String())
}

func TestDependencyGraphEdges(t *testing.T) {
	dg := NewDependencyGraph()
	b1, c1 := cellKey(0, 1), cellKey(0, 2)

	dg.SetPrecedents(b1, []Dependency{cellDep(0, 0)})
	dg.SetPrecedents(c1, []Dependency{RegionDependency(NewRegion(1, 0, 0, 9, 0)), VariableDependency("x")})

	assert.Equal(t, []NodeKey{b1, c1}, dg.DirectDependents(cellKey(0, 0)))
	assert.Equal(t, []NodeKey{c1}, dg.DirectDependents(cellKey(5, 0)))
	assert.Empty(t, dg.DirectDependents(cellKey(5, 1)))
	assert.Equal(t, []NodeKey{c1}, dg.DirectDependents(VariableKey("x")))
	assert.True(t, dg.HasDependents(Address{Sheet: 1, Row: 9}))
	assert.False(t, dg.HasDependents(Address{Sheet: 1, Row: 10}))
	assert.Equal(t, 2, dg.NodeCount())
	assert.Equal(t, 1, dg.RangeObserverCount())

	// replacing the reads drops the old edges
	dg.SetPrecedents(c1, []Dependency{cellDep(3, 3)})
	assert.Equal(t, []NodeKey{b1}, dg.DirectDependents(cellKey(0, 0)))
	assert.Empty(t, dg.DirectDependents(VariableKey("x")))
	assert.Equal(t, 0, dg.RangeObserverCount())
	if diff := cmp.Diff([]Dependency{cellDep(3, 3)}, dg.Precedents(c1)); diff != "" {
		t.Errorf("precedents (-want +got):\n%s", diff)
	}

	dg.ClearPrecedents(b1)
	assert.False(t, dg.HasDependents(Address{Sheet: 1}))
	assert.Nil(t, dg.Precedents(b1))
	assert.Equal(t, 1, dg.NodeCount())

	// no reads means no node
	dg.SetPrecedents(b1, nil)
	assert.Equal(t, 1, dg.NodeCount())
}

func TestDependencyGraphQueries(t *testing.T) {
	dg := NewDependencyGraph()
	a2, a3, a4, v := cellKey(1, 0), cellKey(2, 0), cellKey(3, 0), VariableKey("total")

	dg.SetPrecedents(a2, []Dependency{cellDep(0, 0)})
	dg.SetPrecedents(a3, []Dependency{cellDep(1, 0)})
	dg.SetPrecedents(v, []Dependency{RegionDependency(NewRegion(1, 2, 0, 2, 0))})
	dg.SetPrecedents(a4, []Dependency{VariableDependency("total")})
	dg.SetPrecedents(cellKey(0, 5), []Dependency{CellDependency(Address{Sheet: 2})})

	assert.Equal(t, []NodeKey{a2, a3, a4, v}, dg.Closure([]NodeKey{cellKey(0, 0)})[1:])
	assert.Equal(t, []NodeKey{a4, v}, dg.Closure([]NodeKey{a3})[1:])

	assert.Equal(t, []NodeKey{a2, a3, v}, dg.DependentsOfRegion(NewRegion(1, 0, 0, 5, 0)))
	assert.Equal(t, []NodeKey{v}, dg.DependentsOfRegion(NewRegion(1, 2, 0, 2, 3)))

	assert.Equal(t, []NodeKey{cellKey(0, 5)}, dg.ReadersOfSheet(2))
	assert.Equal(t, []NodeKey{a2, a3, v}, dg.ReadersOfSheet(1))
}

func TestDependencyGraphClosureWithCycle(t *testing.T) {
	dg := NewDependencyGraph()
	a1, b1 := cellKey(0, 0), cellKey(0, 1)
	dg.SetPrecedents(a1, []Dependency{cellDep(0, 1)})
	dg.SetPrecedents(b1, []Dependency{cellDep(0, 0)})
	assert.Equal(t, []NodeKey{a1, b1}, dg.Closure([]NodeKey{a1}))
}
