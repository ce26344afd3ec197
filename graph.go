package formula

import (
	"slices"
	"strings"
)

// NodeKey names a node in the dependency graph: a cell, or a variable when
// Variable is set.
type NodeKey struct {
	Addr     Address
	Variable string
}

func CellKey(addr Address) NodeKey { return NodeKey{Addr: addr} }

// VariableKey normalizes the name to lower case.
func VariableKey(name string) NodeKey { return NodeKey{Variable: strings.ToLower(name)} }

func (k NodeKey) IsVariable() bool { return k.Variable != "" }

// Compare orders cells by (sheet, row, column), then variables by name.
func (k NodeKey) Compare(o NodeKey) int {
	switch {
	case k.IsVariable() && o.IsVariable():
		return strings.Compare(k.Variable, o.Variable)
	case k.IsVariable():
		return 1
	case o.IsVariable():
		return -1
	}
	return k.Addr.Compare(o.Addr)
}

func (k NodeKey) String() string {
	if k.IsVariable() {
		return k.Variable
	}
	return k.Addr.String()
}

// DependencyGraph records, for every formula node, what it read the last
// time it was evaluated, and indexes those reads the other way round so a
// changed cell finds its dependents.
//
// edges are dynamic: they are replaced wholesale after every evaluation, so
// a branch of IF that was not taken contributes no edge.
type DependencyGraph struct {
	precedents        map[NodeKey][]Dependency                    // node -> reads from its last evaluation
	cellObservers     map[Address]map[NodeKey]struct{}            // cell -> nodes reading it directly
	rangeObservers    map[SheetID]map[Region]map[NodeKey]struct{} // range -> nodes reading it
	variableObservers map[string]map[NodeKey]struct{}             // variable -> nodes reading it
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		precedents:        make(map[NodeKey][]Dependency),
		cellObservers:     make(map[Address]map[NodeKey]struct{}),
		rangeObservers:    make(map[SheetID]map[Region]map[NodeKey]struct{}),
		variableObservers: make(map[string]map[NodeKey]struct{}),
	}
}

func addObserver[K comparable](m map[K]map[NodeKey]struct{}, k K, node NodeKey) {
	set, exists := m[k]
	if !exists {
		set = make(map[NodeKey]struct{})
		m[k] = set
	}
	set[node] = struct{}{}
}

func removeObserver[K comparable](m map[K]map[NodeKey]struct{}, k K, node NodeKey) {
	if set, exists := m[k]; exists {
		delete(set, node)
		if len(set) == 0 {
			delete(m, k)
		}
	}
}

// SetPrecedents replaces the outgoing edges of node with reads.
func (dg *DependencyGraph) SetPrecedents(node NodeKey, reads []Dependency) {
	dg.ClearPrecedents(node)
	if len(reads) == 0 {
		return
	}
	dg.precedents[node] = slices.Clone(reads)
	for _, dep := range reads {
		switch dep.Kind {
		case DepCell:
			addObserver(dg.cellObservers, dep.Cell(), node)
		case DepRegion:
			ranges, exists := dg.rangeObservers[dep.Region.Sheet]
			if !exists {
				ranges = make(map[Region]map[NodeKey]struct{})
				dg.rangeObservers[dep.Region.Sheet] = ranges
			}
			addObserver(ranges, dep.Region, node)
		case DepVariable:
			addObserver(dg.variableObservers, dep.Variable, node)
		}
	}
}

// ClearPrecedents removes every outgoing edge of node.
func (dg *DependencyGraph) ClearPrecedents(node NodeKey) {
	for _, dep := range dg.precedents[node] {
		switch dep.Kind {
		case DepCell:
			removeObserver(dg.cellObservers, dep.Cell(), node)
		case DepRegion:
			if ranges, exists := dg.rangeObservers[dep.Region.Sheet]; exists {
				removeObserver(ranges, dep.Region, node)
				if len(ranges) == 0 {
					delete(dg.rangeObservers, dep.Region.Sheet)
				}
			}
		case DepVariable:
			removeObserver(dg.variableObservers, dep.Variable, node)
		}
	}
	delete(dg.precedents, node)
}

// Precedents returns what node read on its last evaluation.
func (dg *DependencyGraph) Precedents(node NodeKey) []Dependency {
	return dg.precedents[node]
}

func sortedKeys(set map[NodeKey]struct{}) []NodeKey {
	out := make([]NodeKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.SortFunc(out, NodeKey.Compare)
	return out
}

// DirectDependents returns the nodes that read key directly or through a
// range containing it, sorted.
func (dg *DependencyGraph) DirectDependents(key NodeKey) []NodeKey {
	set := make(map[NodeKey]struct{})
	dg.collectDependents(key, set)
	return sortedKeys(set)
}

func (dg *DependencyGraph) collectDependents(key NodeKey, set map[NodeKey]struct{}) {
	if key.IsVariable() {
		for node := range dg.variableObservers[key.Variable] {
			set[node] = struct{}{}
		}
		return
	}
	for node := range dg.cellObservers[key.Addr] {
		set[node] = struct{}{}
	}
	for region, observers := range dg.rangeObservers[key.Addr.Sheet] {
		if region.Contains(key.Addr) {
			for node := range observers {
				set[node] = struct{}{}
			}
		}
	}
}

// DependentsOfRegion returns the nodes reading any cell of region, sorted.
func (dg *DependencyGraph) DependentsOfRegion(region Region) []NodeKey {
	set := make(map[NodeKey]struct{})
	for addr, observers := range dg.cellObservers {
		if region.Contains(addr) {
			for node := range observers {
				set[node] = struct{}{}
			}
		}
	}
	for r, observers := range dg.rangeObservers[region.Sheet] {
		if r.Intersects(region) {
			for node := range observers {
				set[node] = struct{}{}
			}
		}
	}
	return sortedKeys(set)
}

// ReadersOfSheet returns every node that read anything on sheet, sorted.
func (dg *DependencyGraph) ReadersOfSheet(sheet SheetID) []NodeKey {
	set := make(map[NodeKey]struct{})
	for node, reads := range dg.precedents {
		for _, dep := range reads {
			if dep.Kind != DepVariable && dep.Region.Sheet == sheet {
				set[node] = struct{}{}
				break
			}
		}
	}
	return sortedKeys(set)
}

// Closure returns the seeds plus all their transitive dependents, sorted.
func (dg *DependencyGraph) Closure(seeds []NodeKey) []NodeKey {
	set := make(map[NodeKey]struct{}, len(seeds))
	queue := slices.Clone(seeds)
	for _, s := range seeds {
		set[s] = struct{}{}
	}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		direct := make(map[NodeKey]struct{})
		dg.collectDependents(key, direct)
		for node := range direct {
			if _, seen := set[node]; !seen {
				set[node] = struct{}{}
				queue = append(queue, node)
			}
		}
	}
	return sortedKeys(set)
}

// HasDependents reports whether anything reads addr.
func (dg *DependencyGraph) HasDependents(addr Address) bool {
	if len(dg.cellObservers[addr]) > 0 {
		return true
	}
	for region := range dg.rangeObservers[addr.Sheet] {
		if region.Contains(addr) {
			return true
		}
	}
	return false
}

// NodeCount returns the number of nodes with at least one precedent
func (dg *DependencyGraph) NodeCount() int {
	return len(dg.precedents)
}

// RangeObserverCount returns the number of observed ranges
func (dg *DependencyGraph) RangeObserverCount() int {
	n := 0
	for _, ranges := range dg.rangeObservers {
		n += len(ranges)
	}
	return n
}
