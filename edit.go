package formula

import "fmt"

// EditOp is the kind of structural edit applied to a sheet.
type EditOp uint8

const (
	InsertRows EditOp = iota
	RemoveRows
	InsertColumns
	RemoveColumns
	Permute
)

func (op EditOp) String() string {
	switch op {
	case InsertRows:
		return "insert_rows"
	case RemoveRows:
		return "remove_rows"
	case InsertColumns:
		return "insert_columns"
	case RemoveColumns:
		return "remove_columns"
	case Permute:
		return "permute"
	}
	return fmt.Sprintf("EditOp(%d)", uint8(op))
}

// ParseEditOp maps the textual names used by scripts and the shell.
func ParseEditOp(s string) (EditOp, bool) {
	for _, op := range []EditOp{InsertRows, RemoveRows, InsertColumns, RemoveColumns, Permute} {
		if op.String() == s {
			return op, true
		}
	}
	return 0, false
}

// StructuralEdit describes an insertion, removal or row reordering on one
// sheet.
//
// For Permute, Block is the reordered rectangle and Order[i] is the offset
// (relative to Block.Top) of the row that ends up at offset i. Index and
// Count are ignored.
type StructuralEdit struct {
	Op    EditOp
	Sheet SheetID
	Index int
	Count int
	Block Region
	Order []int
}

func (e StructuralEdit) isRowEdit() bool {
	return e.Op == InsertRows || e.Op == RemoveRows
}

func (e StructuralEdit) limit() int {
	if e.isRowEdit() {
		return MaxRows
	}
	return MaxColumns
}

// Validate checks the edit against grid limits without looking at any
// content.
func (e StructuralEdit) Validate() error {
	switch e.Op {
	case InsertRows, InsertColumns, RemoveRows, RemoveColumns:
		if e.Index < 0 {
			return wrapError(InvalidArgument, ErrInvalidEdit, "%s: negative index %d", e.Op, e.Index)
		}
		if e.Count <= 0 {
			return wrapError(InvalidArgument, ErrInvalidEdit, "%s: count must be positive, got %d", e.Op, e.Count)
		}
		if e.Index+e.Count > e.limit() {
			return wrapError(OutOfRange, ErrInvalidEdit, "%s: %d+%d exceeds grid limit %d", e.Op, e.Index, e.Count, e.limit())
		}
	case Permute:
		b := e.Block
		if b.Top < 0 || b.Left < 0 || b.Bottom < b.Top || b.Right < b.Left || !ValidCoordinate(b.Bottom, b.Right) {
			return wrapError(OutOfRange, ErrInvalidEdit, "permute: bad block %s", b)
		}
		if len(e.Order) != b.Height() {
			return wrapError(InvalidArgument, ErrInvalidEdit, "permute: order has %d entries, block has %d rows", len(e.Order), b.Height())
		}
		seen := make([]bool, len(e.Order))
		for _, o := range e.Order {
			if o < 0 || o >= len(e.Order) || seen[o] {
				return wrapError(InvalidArgument, ErrInvalidEdit, "permute: order is not a permutation")
			}
			seen[o] = true
		}
	default:
		return wrapError(InvalidArgument, ErrInvalidEdit, "unknown edit op %d", e.Op)
	}
	return nil
}

func (e StructuralEdit) inserts() bool {
	return e.Op == InsertRows || e.Op == InsertColumns
}

// overflow returns the band of the sheet an insert pushes past the grid
// edge. ok is false for every other op.
func (e StructuralEdit) overflow() (Region, bool) {
	switch e.Op {
	case InsertRows:
		return Region{Sheet: e.Sheet, Top: MaxRows - e.Count, Left: 0, Bottom: MaxRows - 1, Right: MaxColumns - 1}, true
	case InsertColumns:
		return Region{Sheet: e.Sheet, Top: 0, Left: MaxColumns - e.Count, Bottom: MaxRows - 1, Right: MaxColumns - 1}, true
	}
	return Region{}, false
}

// Inverse returns the edit that undoes e. an insert accepted by the engine
// never pushes a value or a reference off the grid, so applying the inverse
// restores the sheet.
func (e StructuralEdit) Inverse() StructuralEdit {
	inv := e
	switch e.Op {
	case InsertRows:
		inv.Op = RemoveRows
	case RemoveRows:
		inv.Op = InsertRows
	case InsertColumns:
		inv.Op = RemoveColumns
	case RemoveColumns:
		inv.Op = InsertColumns
	case Permute:
		inv.Order = make([]int, len(e.Order))
		for i, o := range e.Order {
			inv.Order[o] = i
		}
	}
	return inv
}

// destinations maps old block offsets to new ones for a Permute.
func (e StructuralEdit) destinations() []int {
	dst := make([]int, len(e.Order))
	for i, o := range e.Order {
		dst[o] = i
	}
	return dst
}

// shift translates one coordinate along the edit axis. ok is false when the
// coordinate was removed or pushed off the grid.
func (e StructuralEdit) shift(c int) (int, bool) {
	switch e.Op {
	case InsertRows, InsertColumns:
		if c < e.Index {
			return c, true
		}
		if c+e.Count >= e.limit() {
			return 0, false
		}
		return c + e.Count, true
	case RemoveRows, RemoveColumns:
		switch {
		case c < e.Index:
			return c, true
		case c >= e.Index+e.Count:
			return c - e.Count, true
		}
		return 0, false
	}
	return c, true
}

// TranslateAddress moves a single cell. ok is false when the cell no longer
// exists after the edit. addresses on other sheets are untouched.
func (e StructuralEdit) TranslateAddress(a Address) (Address, bool) {
	if a.Sheet != e.Sheet {
		return a, true
	}
	switch e.Op {
	case InsertRows, RemoveRows:
		row, ok := e.shift(a.Row)
		a.Row = row
		return a, ok
	case InsertColumns, RemoveColumns:
		col, ok := e.shift(a.Col)
		a.Col = col
		return a, ok
	case Permute:
		if b := e.Affected(); b.Contains(a) {
			a.Row = b.Top + e.destinations()[a.Row-b.Top]
		}
	}
	return a, true
}

// translateSpan moves the [lo, hi] span of a region along the edit axis.
// an insert inside the span expands it; a removal overlapping it contracts
// it.
func (e StructuralEdit) translateSpan(lo, hi int) (int, int, bool) {
	switch e.Op {
	case InsertRows, InsertColumns:
		if lo >= e.Index {
			lo += e.Count
		}
		if hi >= e.Index {
			hi += e.Count
		}
		if hi >= e.limit() {
			hi = e.limit() - 1
		}
		if lo > hi {
			return 0, 0, false
		}
		return lo, hi, true
	case RemoveRows, RemoveColumns:
		end := e.Index + e.Count
		switch {
		case lo >= end:
			lo -= e.Count
		case lo >= e.Index:
			lo = e.Index
		}
		switch {
		case hi >= end:
			hi -= e.Count
		case hi >= e.Index:
			hi = e.Index - 1
		}
		if lo > hi {
			return 0, 0, false
		}
		return lo, hi, true
	}
	return lo, hi, true
}

// TranslateRegion moves a range. ok is false when every row (or column) of
// the region was removed. Permute leaves ranges alone: they observe the new
// contents.
func (e StructuralEdit) TranslateRegion(r Region) (Region, bool) {
	if r.Sheet != e.Sheet {
		return r, true
	}
	var ok bool
	switch e.Op {
	case InsertRows, RemoveRows:
		r.Top, r.Bottom, ok = e.translateSpan(r.Top, r.Bottom)
	case InsertColumns, RemoveColumns:
		r.Left, r.Right, ok = e.translateSpan(r.Left, r.Right)
	default:
		ok = true
	}
	return r, ok
}

// Affected returns the region of the sheet whose cells may change address.
func (e StructuralEdit) Affected() Region {
	switch e.Op {
	case InsertRows, RemoveRows:
		return Region{Sheet: e.Sheet, Top: e.Index, Left: 0, Bottom: MaxRows - 1, Right: MaxColumns - 1}
	case InsertColumns, RemoveColumns:
		return Region{Sheet: e.Sheet, Top: 0, Left: e.Index, Bottom: MaxRows - 1, Right: MaxColumns - 1}
	}
	b := e.Block
	b.Sheet = e.Sheet
	return b
}
