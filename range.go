package formula

import (
	"slices"
	"strings"
)

// VariableTable holds workbook-level names. names are case-insensitive and
// keep the spelling they were first defined with.
type VariableTable struct {
	values map[string]Value  // lower case name -> plain value
	names  map[string]string // lower case name -> name as written
}

// NewVariableTable creates an empty variable table
func NewVariableTable() *VariableTable {
	return &VariableTable{
		values: make(map[string]Value),
		names:  make(map[string]string),
	}
}

// Define sets a plain value, creating the name if needed.
func (vt *VariableTable) Define(name string, value Value) {
	key := strings.ToLower(name)
	if _, exists := vt.names[key]; !exists {
		vt.names[key] = name
	}
	vt.values[key] = value
}

// Get returns the plain value of a variable.
func (vt *VariableTable) Get(name string) (Value, bool) {
	v, exists := vt.values[strings.ToLower(name)]
	return v, exists
}

// Undefine forgets a name. it reports whether the name existed.
func (vt *VariableTable) Undefine(name string) bool {
	key := strings.ToLower(name)
	if _, exists := vt.values[key]; !exists {
		return false
	}
	delete(vt.values, key)
	delete(vt.names, key)
	return true
}

// Names returns the defined names as written, sorted case-insensitively.
func (vt *VariableTable) Names() []string {
	out := make([]string, 0, len(vt.names))
	for _, name := range vt.names {
		out = append(out, name)
	}
	slices.SortFunc(out, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return out
}

// Count returns the number of defined variables
func (vt *VariableTable) Count() int {
	return len(vt.values)
}

// materialize reads a region of a worksheet into a Sequence. only occupied
// cells are visited; empty cells stay blank so functions can apply their own
// blank policy.
func materialize(w *Worksheet, region Region) *Sequence {
	seq := NewSequence(region.Height(), region.Width())
	if w == nil {
		return seq
	}
	for addr, v := range w.CellsIn(region) {
		seq.Set(addr.Row-region.Top, addr.Col-region.Left, v)
	}
	return seq
}
