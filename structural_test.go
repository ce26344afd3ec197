package formula

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertRows(t *testing.T) {
	t.Run("ShiftAndGrow", func(t *testing.T) {
		NewEngineTestCase(t, "Insert one row").
			Set("A1", 1).
			Set("A2", 2).
			Set("A3", 3).
			Set("B2", 20).
			Set("C1", "=SUM(A1:A5)").
			Set("C2", "=B2").
			AssertCellEq("C1", 6).
			InsertRows("Sheet1", 1, 1).
			ExpectNoError().
			AssertFormula("C1", "=SUM(A1:A6)").
			AssertFormula("C3", "=B3").
			AssertNoFormula("C2").
			AssertCellEmpty("A2").
			AssertCellEq("A3", 2).
			AssertCellEq("C3", 20).
			AssertCellEq("C1", 6).
			Set("A2", 10).
			AssertCellEq("C1", 16).
			End()
	})

	t.Run("Boundaries", func(t *testing.T) {
		NewEngineTestCase(t, "Insert at lo shifts the range").
			Set("E1", "=SUM(A2:A3)").
			InsertRows("Sheet1", 1, 1).
			AssertFormula("E1", "=SUM(A3:A4)").
			InsertRows("Sheet1", 4, 2).
			AssertFormula("E1", "=SUM(A3:A4)").
			InsertRows("Sheet1", 3, 1).
			AssertFormula("E1", "=SUM(A3:A5)").
			End()
	})

	t.Run("SpellingIsKept", func(t *testing.T) {
		NewEngineTestCase(t, "Absolute, lower case and qualified").
			Set("E1", "=$A$2 + a2 + Sheet1!A2 + sum( $a2:B$3 )").
			InsertRows("Sheet1", 0, 1).
			AssertFormula("E2", "=$A$3 + a3 + Sheet1!A3 + sum( $a3:B$4 )").
			End()
	})

	t.Run("ReversedCorners", func(t *testing.T) {
		NewEngineTestCase(t, "Range written bottom up").
			Set("E1", "=SUM(A3:A1)").
			InsertRows("Sheet1", 0, 1).
			AssertFormula("E2", "=SUM(A4:A2)").
			End()
	})

	t.Run("OtherSheet", func(t *testing.T) {
		NewEngineTestCase(t, "Edit on another sheet").
			AddSheet("Data").
			Set("Data!A1", 7).
			Set("A1", "=Data!A1 + A2").
			InsertRows("Data", 0, 1).
			AssertFormula("A1", "=Data!A2 + A2").
			AssertCellEq("A1", 7).
			End()
	})
}

func TestRemoveRows(t *testing.T) {
	t.Run("RefErrorsAndShrink", func(t *testing.T) {
		NewEngineTestCase(t, "Remove a referenced row").
			Set("A1", 1).
			Set("A2", 2).
			Set("A3", 3).
			Set("C1", "=A2*10").
			Set("D1", "=SUM(A1:A3)").
			AssertCellEq("C1", 20).
			AssertCellEq("D1", 6).
			RemoveRows("Sheet1", 1, 1).
			ExpectNoError().
			AssertFormula("C1", "=#REF!*10").
			AssertCellErr("C1", ErrorCodeRef).
			AssertFormula("D1", "=SUM(A1:A2)").
			AssertCellEq("D1", 4).
			End()
	})

	t.Run("WholeRangeRemoved", func(t *testing.T) {
		NewEngineTestCase(t, "Range disappears").
			Set("A2", 5).
			Set("C1", "=SUM(A2:A3)+1").
			RemoveRows("Sheet1", 1, 2).
			AssertFormula("C1", "=SUM(#REF!)+1").
			AssertCellErr("C1", ErrorCodeRef).
			End()
	})

	t.Run("FormulaCellRemoved", func(t *testing.T) {
		NewEngineTestCase(t, "Removed formula and its readers").
			Set("A1", 4).
			Set("A2", "=A1*2").
			Set("B1", "=A2+1").
			AssertCellEq("B1", 9).
			AssertFormulaCount(2).
			RemoveRows("Sheet1", 1, 1).
			AssertFormulaCount(1).
			AssertFormula("B1", "=#REF!+1").
			AssertCellErr("B1", ErrorCodeRef).
			AssertCellEmpty("A2").
			End()
	})

	t.Run("CellsBelowMoveUp", func(t *testing.T) {
		NewEngineTestCase(t, "Shift up").
			Set("A5", 3).
			Set("B5", "=A5*A5").
			Set("D9", "=B5").
			RemoveRows("Sheet1", 0, 2).
			AssertFormula("B3", "=A3*A3").
			AssertFormula("D7", "=B3").
			AssertCellEq("D7", 9).
			Set("A3", 4).
			AssertCellEq("D7", 16).
			End()
	})
}

func TestColumns(t *testing.T) {
	NewEngineTestCase(t, "Insert and remove columns").
		Set("A1", 5).
		Set("B1", "=A1*2").
		InsertColumns("Sheet1", 1, 1).
		AssertFormula("C1", "=A1*2").
		AssertCellEq("C1", 10).
		InsertColumns("Sheet1", 0, 1).
		AssertFormula("D1", "=B1*2").
		AssertCellEq("B1", 5).
		AssertCellEq("D1", 10).
		RemoveColumns("Sheet1", 0, 2).
		AssertFormula("B1", "=#REF!*2").
		AssertCellErr("B1", ErrorCodeRef).
		End()

	NewEngineTestCase(t, "Column ranges").
		Set("A1", 1).
		Set("B1", 2).
		Set("C1", 3).
		Set("A2", "=SUM(A1:C1)").
		RemoveColumns("Sheet1", 1, 1).
		AssertFormula("A2", "=SUM(A1:B1)").
		AssertCellEq("A2", 4).
		End()
}

func TestPermute(t *testing.T) {
	t.Run("ValuesOnly", func(t *testing.T) {
		NewEngineTestCase(t, "Outside readers see new contents").
			Set("A1", 1).
			Set("A2", 2).
			Set("A3", 3).
			Set("C1", "=A1").
			Set("C2", "=SUM(A1:A2)").
			Sort("A1:A3", 2, 1, 0).
			ExpectNoError().
			AssertCellEq("A1", 3).
			AssertCellEq("A3", 1).
			AssertFormula("C1", "=A1").
			AssertCellEq("C1", 3).
			AssertCellEq("C2", 5).
			End()
	})

	t.Run("FormulasFollowTheirRow", func(t *testing.T) {
		NewEngineTestCase(t, "Rows with formulas").
			Set("A1", 1).
			Set("A2", 2).
			Set("A3", 3).
			Set("B1", "=A1*10").
			Set("B2", "=A2*10").
			Set("B3", "=A3*10").
			Set("D1", "=A1").
			Sort("A1:B3", 2, 1, 0).
			ExpectNoError().
			AssertFormula("B1", "=A1*10").
			AssertFormula("B3", "=A3*10").
			AssertCellEq("B1", 30).
			AssertCellEq("B2", 20).
			AssertCellEq("B3", 10).
			AssertCellEq("D1", 3).
			End()
	})

	t.Run("Rotate", func(t *testing.T) {
		NewEngineTestCase(t, "Rotation").
			Set("A1", "a").
			Set("A2", "b").
			Set("A3", "c").
			Sort("A1:A3", 1, 2, 0).
			AssertCellEq("A1", "b").
			AssertCellEq("A2", "c").
			AssertCellEq("A3", "a").
			End()
	})
}

func TestInvalidEdits(t *testing.T) {
	tc := NewEngineTestCase(t, "Rejected edits").
		Set("A1", 1).
		Set("B1", "=A1")
	sheet := tc.Engine().DefaultSheet()

	tc.Edit(StructuralEdit{Op: InsertRows, Sheet: sheet, Index: 0, Count: 0}).
		ExpectAppError(InvalidArgument).
		Edit(StructuralEdit{Op: RemoveRows, Sheet: sheet, Index: -1, Count: 1}).
		ExpectAppError(InvalidArgument).
		Edit(StructuralEdit{Op: InsertColumns, Sheet: sheet, Index: MaxColumns, Count: 1}).
		ExpectAppError(OutOfRange).
		Edit(StructuralEdit{Op: Permute, Sheet: sheet, Block: NewRegion(sheet, 0, 0, 2, 0), Order: []int{0, 0, 1}}).
		ExpectAppError(InvalidArgument).
		Edit(StructuralEdit{Op: Permute, Sheet: sheet, Block: NewRegion(sheet, 0, 0, 2, 0), Order: []int{1, 0}}).
		ExpectAppError(InvalidArgument).
		Edit(StructuralEdit{Op: InsertRows, Sheet: 99, Index: 0, Count: 1}).
		ExpectAppError(NotFound).
		AssertFormula("B1", "=A1").
		AssertCellEq("B1", 1).
		End()

	err := tc.Engine().ApplyStructuralEdit(StructuralEdit{Op: EditOp(42), Sheet: sheet})
	assert.True(t, errors.Is(err, ErrInvalidEdit))
}

func TestEditInverse(t *testing.T) {
	t.Run("InsertThenRemove", func(t *testing.T) {
		tc := NewEngineTestCase(t, "Undo insert").
			Set("A1", 1).
			Set("A2", 2).
			Set("C1", "=SUM(A1:A5)").
			Set("C2", "=B2")
		eng := tc.Engine()
		sheet := eng.DefaultSheet()
		c1, c2 := Address{Sheet: sheet, Row: 0, Col: 2}, Address{Sheet: sheet, Row: 1, Col: 2}
		before := [][]Dependency{eng.Precedents(c1), eng.Precedents(c2)}

		edit := StructuralEdit{Op: InsertRows, Sheet: sheet, Index: 1, Count: 1}
		tc.Edit(edit).
			ExpectNoError().
			AssertFormula("C3", "=B3").
			Edit(edit.Inverse()).
			ExpectNoError().
			AssertFormula("C1", "=SUM(A1:A5)").
			AssertFormula("C2", "=B2").
			AssertCellEq("A2", 2).
			AssertCellEq("C1", 3).
			End()

		after := [][]Dependency{eng.Precedents(c1), eng.Precedents(c2)}
		if diff := cmp.Diff(before, after); diff != "" {
			t.Errorf("precedents changed across insert and remove (-before +after):\n%s", diff)
		}
	})

	t.Run("InsertPastEdgeRejected", func(t *testing.T) {
		tc := NewEngineTestCase(t, "Insert would push a reference off the grid").
			Set("A2", 2).
			Set("A3", 3).
			Set("B3", 30).
			Set("C1", "=SUM(A2:A5)+$B$3+A1048576").
			AssertCellEq("C1", 35).
			InsertRows("Sheet1", 3, 2).
			ExpectAppError(OutOfRange).
			AssertFormula("C1", "=SUM(A2:A5)+$B$3+A1048576").
			AssertCellEq("C1", 35)
		sheet := tc.Engine().DefaultSheet()

		// a range starting inside the pushed-off band is rejected too
		tc.Set("D1", "=SUM(E1048575:E1048576)").
			InsertRows("Sheet1", 0, 2).
			ExpectAppError(OutOfRange).
			AssertFormula("D1", "=SUM(E1048575:E1048576)")

		// as is plain content in the band
		tc.Clear("C1").
			Clear("D1").
			Set("XFD1", 1).
			InsertColumns("Sheet1", 0, 1).
			ExpectAppError(OutOfRange).
			AssertCellEq("XFD1", 1).
			AssertCellEq("A2", 2)

		err := tc.Engine().ApplyStructuralEdit(StructuralEdit{Op: InsertColumns, Sheet: sheet, Index: 5, Count: 1})
		assert.True(t, errors.Is(err, ErrInvalidEdit))

		// ranges reaching the edge are clamped, the edit goes through
		tc.Clear("XFD1").
			Set("F1", "=SUM(A1:A1048576)").
			InsertRows("Sheet1", 0, 1).
			ExpectNoError().
			AssertFormula("F2", "=SUM(A2:A1048576)").
			AssertCellEq("F2", 5).
			End()
	})

	t.Run("PermuteBack", func(t *testing.T) {
		tc := NewEngineTestCase(t, "Undo sort").
			Set("A1", 1).
			Set("A2", 2).
			Set("A3", 3)
		sheet := tc.Engine().DefaultSheet()
		edit := StructuralEdit{Op: Permute, Sheet: sheet, Block: NewRegion(sheet, 0, 0, 2, 0), Order: []int{1, 2, 0}}
		tc.Edit(edit).
			AssertCellEq("A1", 2).
			Edit(edit.Inverse()).
			AssertCellEq("A1", 1).
			AssertCellEq("A2", 2).
			AssertCellEq("A3", 3).
			End()
	})
}

func TestVariablesFollowEdits(t *testing.T) {
	tc := NewEngineTestCase(t, "Named range after insert").
		Set("A1", 1).
		Set("A2", 2).
		SetVariable("data", "=Sheet1!A1:A2").
		Set("C1", "=SUM(data)").
		AssertCellEq("C1", 3).
		InsertRows("Sheet1", 0, 1).
		ExpectNoError()

	text, ok := tc.Engine().GetVariableFormula("data")
	require.True(t, ok)
	assert.Equal(t, "=Sheet1!A2:A3", text)
	tc.AssertCellEq("C2", 3).
		Set("A3", 5).
		AssertCellEq("C2", 6).
		End()
}

func TestRewriteReferences(t *testing.T) {
	ctx := &ParserContext{Sheet: 1, ResolveSheet: func(string) SheetID { return 2 }}
	tests := []struct {
		name   string
		text   string
		edit   StructuralEdit
		follow bool
		want   string
	}{
		{
			name: "untouched",
			text: "=A1+B1",
			edit: StructuralEdit{Op: InsertRows, Sheet: 1, Index: 5, Count: 1},
			want: "=A1+B1",
		},
		{
			name: "unicode before reference",
			text: `="héllo"&A7`,
			edit: StructuralEdit{Op: InsertRows, Sheet: 1, Index: 0, Count: 2},
			want: `="héllo"&A9`,
		},
		{
			name: "removed cell",
			text: "=A2+A3",
			edit: StructuralEdit{Op: RemoveRows, Sheet: 1, Index: 1, Count: 1},
			want: "=#REF!+A2",
		},
		{
			name: "other sheet untouched",
			text: "=Other!A2+A2",
			edit: StructuralEdit{Op: InsertRows, Sheet: 1, Index: 0, Count: 1},
			want: "=Other!A2+A3",
		},
		{
			name: "permute without follow",
			text: "=A1",
			edit: StructuralEdit{Op: Permute, Sheet: 1, Block: NewRegion(1, 0, 0, 1, 0), Order: []int{1, 0}},
			want: "=A1",
		},
		{
			name:   "permute with follow",
			text:   "=A1",
			edit:   StructuralEdit{Op: Permute, Sheet: 1, Block: NewRegion(1, 0, 0, 1, 0), Order: []int{1, 0}},
			follow: true,
			want:   "=A2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ast, err := Parse(tt.text, ctx)
			require.NoError(t, err)
			got, changed := rewriteReferences(tt.text, ast, tt.edit, tt.follow)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != tt.text, changed)
		})
	}
}
