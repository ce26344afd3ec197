package formula

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEditOpNames(t *testing.T) {
	for _, op := range []EditOp{InsertRows, RemoveRows, InsertColumns, RemoveColumns, Permute} {
		got, ok := ParseEditOp(op.String())
		assert.True(t, ok, op.String())
		assert.Equal(t, op, got)
	}
	_, ok := ParseEditOp("delete_rows")
	assert.False(t, ok)
	assert.Equal(t, "EditOp(9)", EditOp(9).String())
}

func TestEditValidate(t *testing.T) {
	tests := []struct {
		name string
		edit StructuralEdit
		code AppErrorCode
	}{
		{"ok", StructuralEdit{Op: InsertRows, Sheet: 1, Index: 3, Count: 2}, OK},
		{"negative index", StructuralEdit{Op: RemoveColumns, Sheet: 1, Index: -1, Count: 1}, InvalidArgument},
		{"zero count", StructuralEdit{Op: InsertColumns, Sheet: 1, Count: 0}, InvalidArgument},
		{"past the last row", StructuralEdit{Op: RemoveRows, Sheet: 1, Index: MaxRows - 1, Count: 2}, OutOfRange},
		{"last column", StructuralEdit{Op: RemoveColumns, Sheet: 1, Index: MaxColumns - 1, Count: 1}, OK},
		{"permute", StructuralEdit{Op: Permute, Sheet: 1, Block: NewRegion(1, 0, 0, 2, 1), Order: []int{2, 0, 1}}, OK},
		{"permute short order", StructuralEdit{Op: Permute, Sheet: 1, Block: NewRegion(1, 0, 0, 2, 1), Order: []int{1, 0}}, InvalidArgument},
		{"permute repeat", StructuralEdit{Op: Permute, Sheet: 1, Block: NewRegion(1, 0, 0, 1, 0), Order: []int{0, 0}}, InvalidArgument},
		{"permute off grid", StructuralEdit{Op: Permute, Sheet: 1, Block: Region{Sheet: 1, Top: -1, Bottom: 0}, Order: []int{0, 1}}, OutOfRange},
		{"unknown op", StructuralEdit{Op: EditOp(42), Sheet: 1, Count: 1}, InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.edit.Validate()
			assert.Equal(t, tt.code, ErrorCodeOf(err))
			if tt.code != OK {
				assert.True(t, errors.Is(err, ErrInvalidEdit))
			}
		})
	}
}

func TestTranslateAddress(t *testing.T) {
	at := func(row, col int) Address { return Address{Sheet: 1, Row: row, Col: col} }
	tests := []struct {
		name string
		edit StructuralEdit
		in   Address
		want Address
		ok   bool
	}{
		{"insert above", StructuralEdit{Op: InsertRows, Sheet: 1, Index: 2, Count: 3}, at(2, 0), at(5, 0), true},
		{"insert below", StructuralEdit{Op: InsertRows, Sheet: 1, Index: 2, Count: 3}, at(1, 0), at(1, 0), true},
		{"pushed off", StructuralEdit{Op: InsertRows, Sheet: 1, Index: 0, Count: 1}, at(MaxRows-1, 0), Address{}, false},
		{"removed", StructuralEdit{Op: RemoveRows, Sheet: 1, Index: 2, Count: 2}, at(3, 4), Address{}, false},
		{"after removal", StructuralEdit{Op: RemoveRows, Sheet: 1, Index: 2, Count: 2}, at(4, 4), at(2, 4), true},
		{"columns", StructuralEdit{Op: InsertColumns, Sheet: 1, Index: 1, Count: 1}, at(7, 1), at(7, 2), true},
		{"column removed", StructuralEdit{Op: RemoveColumns, Sheet: 1, Index: 1, Count: 1}, at(7, 1), Address{}, false},
		{"other sheet", StructuralEdit{Op: RemoveRows, Sheet: 2, Index: 0, Count: 5}, at(1, 1), at(1, 1), true},
		{"permute inside", StructuralEdit{Op: Permute, Sheet: 1, Block: NewRegion(1, 1, 0, 3, 1), Order: []int{2, 0, 1}}, at(1, 0), at(2, 0), true},
		{"permute outside", StructuralEdit{Op: Permute, Sheet: 1, Block: NewRegion(1, 1, 0, 3, 1), Order: []int{2, 0, 1}}, at(1, 2), at(1, 2), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.edit.TranslateAddress(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestTranslateRegion(t *testing.T) {
	rows := func(top, bottom int) Region { return NewRegion(1, top, 0, bottom, 1) }
	tests := []struct {
		name string
		edit StructuralEdit
		in   Region
		want Region
		ok   bool
	}{
		{"insert at top shifts", StructuralEdit{Op: InsertRows, Sheet: 1, Index: 2, Count: 1}, rows(2, 4), rows(3, 5), true},
		{"insert inside grows", StructuralEdit{Op: InsertRows, Sheet: 1, Index: 3, Count: 2}, rows(2, 4), rows(2, 6), true},
		{"insert below is ignored", StructuralEdit{Op: InsertRows, Sheet: 1, Index: 5, Count: 2}, rows(2, 4), rows(2, 4), true},
		{"insert clamps at the edge", StructuralEdit{Op: InsertRows, Sheet: 1, Index: 3, Count: 2}, rows(2, MaxRows-1), rows(2, MaxRows-1), true},
		{"remove inside shrinks", StructuralEdit{Op: RemoveRows, Sheet: 1, Index: 3, Count: 1}, rows(2, 4), rows(2, 3), true},
		{"remove top edge", StructuralEdit{Op: RemoveRows, Sheet: 1, Index: 1, Count: 2}, rows(2, 4), rows(1, 2), true},
		{"remove bottom edge", StructuralEdit{Op: RemoveRows, Sheet: 1, Index: 4, Count: 3}, rows(2, 4), rows(2, 3), true},
		{"remove above shifts", StructuralEdit{Op: RemoveRows, Sheet: 1, Index: 0, Count: 2}, rows(2, 4), rows(0, 2), true},
		{"remove everything", StructuralEdit{Op: RemoveRows, Sheet: 1, Index: 1, Count: 5}, rows(2, 4), Region{}, false},
		{"columns", StructuralEdit{Op: RemoveColumns, Sheet: 1, Index: 0, Count: 1}, rows(2, 4), NewRegion(1, 2, 0, 4, 0), true},
		{"permute leaves ranges", StructuralEdit{Op: Permute, Sheet: 1, Block: rows(2, 3), Order: []int{1, 0}}, rows(2, 4), rows(2, 4), true},
		{"other sheet", StructuralEdit{Op: RemoveRows, Sheet: 2, Index: 0, Count: 9}, rows(2, 4), rows(2, 4), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.edit.TranslateRegion(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestEditInverseRoundTrip(t *testing.T) {
	insert := StructuralEdit{Op: InsertColumns, Sheet: 1, Index: 2, Count: 3}
	undo := insert.Inverse()
	assert.Equal(t, RemoveColumns, undo.Op)
	assert.Equal(t, insert, undo.Inverse())

	for _, a := range []Address{{Sheet: 1, Col: 1}, {Sheet: 1, Row: 4, Col: 2}, {Sheet: 1, Col: 30}} {
		moved, ok := insert.TranslateAddress(a)
		assert.True(t, ok)
		back, ok := undo.TranslateAddress(moved)
		assert.True(t, ok)
		assert.Equal(t, a, back)
	}

	perm := StructuralEdit{Op: Permute, Sheet: 1, Block: NewRegion(1, 0, 0, 3, 0), Order: []int{3, 1, 0, 2}}
	inv := perm.Inverse()
	assert.Equal(t, []int{2, 1, 3, 0}, inv.Order)
	for row := 0; row < 4; row++ {
		a := Address{Sheet: 1, Row: row}
		moved, _ := perm.TranslateAddress(a)
		back, _ := inv.TranslateAddress(moved)
		assert.Equal(t, a, back)
	}
}

func TestEditAffected(t *testing.T) {
	assert.Equal(t, Region{Sheet: 2, Top: 4, Bottom: MaxRows - 1, Right: MaxColumns - 1},
		StructuralEdit{Op: RemoveRows, Sheet: 2, Index: 4, Count: 1}.Affected())
	assert.Equal(t, Region{Sheet: 2, Left: 4, Bottom: MaxRows - 1, Right: MaxColumns - 1},
		StructuralEdit{Op: InsertColumns, Sheet: 2, Index: 4, Count: 1}.Affected())
	assert.Equal(t, NewRegion(3, 1, 1, 2, 2),
		StructuralEdit{Op: Permute, Sheet: 3, Block: Region{Top: 1, Left: 1, Bottom: 2, Right: 2}}.Affected())
}
