package formula

import "fmt"

// Environment is what a formula can read while it evaluates.
type Environment interface {
	CellValue(addr Address) Value
	RegionValues(region Region) *Sequence
	// VariableValue looks up a variable by lower case name.
	VariableValue(name string) (Value, bool)
	SheetDefined(id SheetID) bool
}

// DependencyKind tags what a single read touched.
type DependencyKind uint8

const (
	DepCell DependencyKind = iota
	DepRegion
	DepVariable
)

// Dependency is one realized read: a cell, a region or a variable.
type Dependency struct {
	Kind     DependencyKind
	Region   Region
	Variable string
}

func CellDependency(addr Address) Dependency {
	return Dependency{Kind: DepCell, Region: addr.Region()}
}

func RegionDependency(region Region) Dependency {
	return Dependency{Kind: DepRegion, Region: region}
}

func VariableDependency(name string) Dependency {
	return Dependency{Kind: DepVariable, Variable: name}
}

// Cell returns the address of a DepCell dependency.
func (d Dependency) Cell() Address {
	return d.Region.TopLeft()
}

func (d Dependency) String() string {
	switch d.Kind {
	case DepCell:
		return fmt.Sprintf("cell(%d:%s)", d.Region.Sheet, d.Region)
	case DepRegion:
		return fmt.Sprintf("range(%d:%s)", d.Region.Sheet, d.Region)
	}
	return "var(" + d.Variable + ")"
}

// ReadSet is the ordered, de-duplicated set of references dereferenced by
// one evaluation.
type ReadSet struct {
	items []Dependency
	seen  map[Dependency]struct{}
	// Volatile is set when a volatile function was called.
	Volatile bool
}

func NewReadSet() *ReadSet {
	return &ReadSet{seen: make(map[Dependency]struct{})}
}

func (rs *ReadSet) Add(dep Dependency) {
	if _, ok := rs.seen[dep]; ok {
		return
	}
	rs.seen[dep] = struct{}{}
	rs.items = append(rs.items, dep)
}

func (rs *ReadSet) AddCell(addr Address) { rs.Add(CellDependency(addr)) }

func (rs *ReadSet) AddRegion(region Region) { rs.Add(RegionDependency(region)) }

func (rs *ReadSet) AddVariable(name string) { rs.Add(VariableDependency(name)) }

func (rs *ReadSet) Contains(d Dependency) bool {
	if rs == nil {
		return false
	}
	_, ok := rs.seen[d]
	return ok
}

// Items returns the reads in the order they happened.
func (rs *ReadSet) Items() []Dependency {
	if rs == nil {
		return nil
	}
	return rs.items
}

func (rs *ReadSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.items)
}

// Evaluation carries the state of a single formula evaluation.
type Evaluation struct {
	env       Environment
	functions *FunctionRegistry
	reads     *ReadSet
}

// Evaluate walks the tree against env and returns its value along with the
// references it actually read. unvisited branches of IF and friends are not
// part of the read set.
func Evaluate(node ASTNode, env Environment, functions *FunctionRegistry) (Value, *ReadSet) {
	ev := &Evaluation{
		env:       env,
		functions: functions,
		reads:     NewReadSet(),
	}
	return node.Eval(ev), ev.reads
}
