package formula

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapEnv is an Environment over plain maps. sheet 1 always exists.
type mapEnv struct {
	cells     map[Address]Value
	variables map[string]Value
	sheets    map[SheetID]bool
}

func newMapEnv() *mapEnv {
	return &mapEnv{
		cells:     make(map[Address]Value),
		variables: make(map[string]Value),
		sheets:    map[SheetID]bool{1: true},
	}
}

func (m *mapEnv) set(row, col int, v Value) *mapEnv {
	m.cells[Address{Sheet: 1, Row: row, Col: col}] = v
	return m
}

func (m *mapEnv) CellValue(addr Address) Value {
	return m.cells[addr]
}

func (m *mapEnv) RegionValues(region Region) *Sequence {
	seq := NewSequence(region.Height(), region.Width())
	for addr := range region.Cells() {
		seq.Set(addr.Row-region.Top, addr.Col-region.Left, m.cells[addr])
	}
	return seq
}

func (m *mapEnv) VariableValue(name string) (Value, bool) {
	v, ok := m.variables[name]
	return v, ok
}

func (m *mapEnv) SheetDefined(id SheetID) bool {
	return m.sheets[id]
}

func evaluateText(t *testing.T, env Environment, text string) (Value, *ReadSet) {
	t.Helper()
	node, err := Parse(text, testParserContext())
	require.NoError(t, err, text)
	return Evaluate(node, env, NewBuiltinRegistry(nil, nil))
}

func cellDep(row, col int) Dependency {
	return CellDependency(Address{Sheet: 1, Row: row, Col: col})
}

func TestEvaluateReads(t *testing.T) {
	env := newMapEnv().
		set(0, 0, 1.0).
		set(0, 1, 2.0).
		set(1, 0, true)

	tests := []struct {
		name  string
		text  string
		want  Value
		reads []Dependency
	}{
		{
			name:  "in order without duplicates",
			text:  "=B1+A1+B1",
			want:  5.0,
			reads: []Dependency{cellDep(0, 1), cellDep(0, 0)},
		},
		{
			name:  "taken branch only",
			text:  "=IF(A2, A1, B1)",
			want:  1.0,
			reads: []Dependency{cellDep(1, 0), cellDep(0, 0)},
		},
		{
			name:  "choose reads one choice",
			text:  "=CHOOSE(2, C1, B1, D1)",
			want:  2.0,
			reads: []Dependency{cellDep(0, 1)},
		},
		{
			name:  "and stops early",
			text:  "=AND(FALSE, A1)",
			want:  false,
			reads: []Dependency{},
		},
		{
			name:  "range",
			text:  "=SUM(A1:B1)",
			want:  3.0,
			reads: []Dependency{RegionDependency(NewRegion(1, 0, 0, 0, 1))},
		},
		{
			name:  "undefined variable is still a read",
			text:  "=Rate*2",
			want:  NewFormulaError(ErrorCodeName, "unknown name 'Rate'"),
			reads: []Dependency{VariableDependency("rate")},
		},
		{
			name:  "missing sheet",
			text:  "=Sheet2!A1",
			want:  NewFormulaError(ErrorCodeRef, "sheet does not exist"),
			reads: []Dependency{CellDependency(Address{Sheet: 2})},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reads := evaluateText(t, env, tt.text)
			if fe, ok := tt.want.(*FormulaError); ok {
				gotErr, isErr := got.(*FormulaError)
				require.True(t, isErr, "got %v", got)
				assert.Equal(t, fe.Code, gotErr.Code)
			} else {
				assert.Equal(t, tt.want, got)
			}
			items := reads.Items()
			if items == nil {
				items = []Dependency{}
			}
			if diff := cmp.Diff(tt.reads, items); diff != "" {
				t.Errorf("reads (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluateVariables(t *testing.T) {
	env := newMapEnv()
	env.variables["rate"] = 0.25
	env.variables["block"] = SequenceOf(1, 3, 1.0, 2.0, 3.0)

	got, _ := evaluateText(t, env, "=RATE*100")
	assert.Equal(t, 25.0, got)

	got, _ = evaluateText(t, env, "=SUM(Block)")
	assert.Equal(t, 6.0, got)

	got, _ = evaluateText(t, env, "=Block+1")
	fe, ok := got.(*FormulaError)
	require.True(t, ok)
	assert.Equal(t, ErrorCodeValue, fe.Code)
}

func TestEvaluateVolatile(t *testing.T) {
	_, reads := evaluateText(t, newMapEnv(), "=IF(FALSE, RAND(), 1)")
	assert.False(t, reads.Volatile)
	_, reads = evaluateText(t, newMapEnv(), "=RAND()*0")
	assert.True(t, reads.Volatile)
}

func TestEvaluateArrays(t *testing.T) {
	got, _ := evaluateText(t, newMapEnv(), "={1,2;3,4}")
	seq, ok := got.(*Sequence)
	require.True(t, ok)
	assert.Equal(t, 2, seq.Rows)
	assert.Equal(t, 2, seq.Cols)
	assert.Equal(t, 3.0, seq.At(1, 0))

	got, _ = evaluateText(t, newMapEnv(), "=SUM({1,2;3,-4})")
	assert.Equal(t, 2.0, got)
}

func TestReadSet(t *testing.T) {
	rs := NewReadSet()
	rs.AddCell(Address{Sheet: 1})
	rs.AddCell(Address{Sheet: 1})
	rs.AddVariable("x")
	assert.Equal(t, 2, rs.Len())
	assert.True(t, rs.Contains(VariableDependency("x")))
	assert.False(t, rs.Contains(VariableDependency("y")))

	var empty *ReadSet
	assert.Equal(t, 0, empty.Len())
	assert.Nil(t, empty.Items())
}
