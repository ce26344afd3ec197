package formula

import (
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SheetID identifies a worksheet inside a workbook. zero is reserved for
// "no sheet".
type SheetID uint32

// grid limits, shared with the xlsx format
const (
	MaxRows    = excelize.TotalRows
	MaxColumns = excelize.MaxColumns
)

// Address is a single cell coordinate. Row and Col are zero-based.
type Address struct {
	Sheet SheetID
	Row   int
	Col   int
}

// Region returns the degenerate region covering just this cell.
func (a Address) Region() Region {
	return Region{Sheet: a.Sheet, Top: a.Row, Left: a.Col, Bottom: a.Row, Right: a.Col}
}

// Compare orders addresses by sheet, then row, then column.
func (a Address) Compare(b Address) int {
	switch {
	case a.Sheet != b.Sheet:
		if a.Sheet < b.Sheet {
			return -1
		}
		return 1
	case a.Row != b.Row:
		if a.Row < b.Row {
			return -1
		}
		return 1
	case a.Col != b.Col:
		if a.Col < b.Col {
			return -1
		}
		return 1
	}
	return 0
}

func (a Address) Less(b Address) bool {
	return a.Compare(b) < 0
}

// String renders the address in A1 form without a sheet prefix.
func (a Address) String() string {
	return ColumnName(a.Col) + strconv.Itoa(a.Row+1)
}

// ColumnName converts a zero-based column index to letters (0 -> "A").
func ColumnName(col int) string {
	name, err := excelize.ColumnNumberToName(col + 1)
	if err != nil {
		return "#REF!"
	}
	return name
}

// ColumnIndex converts column letters to a zero-based index. lower case is
// accepted.
func ColumnIndex(name string) (int, error) {
	n, err := excelize.ColumnNameToNumber(strings.ToUpper(name))
	if err != nil {
		return 0, err
	}
	return n - 1, nil
}

// ValidCoordinate reports whether row/col fall inside the grid.
func ValidCoordinate(row, col int) bool {
	return row >= 0 && row < MaxRows && col >= 0 && col < MaxColumns
}

// Region is an inclusive rectangle of cells on one sheet. Bottom >= Top and
// Right >= Left always hold for regions built with NewRegion.
type Region struct {
	Sheet  SheetID
	Top    int
	Left   int
	Bottom int
	Right  int
}

// NewRegion builds a region from two corners in any order.
func NewRegion(sheet SheetID, r1, c1, r2, c2 int) Region {
	if r2 < r1 {
		r1, r2 = r2, r1
	}
	if c2 < c1 {
		c1, c2 = c2, c1
	}
	return Region{Sheet: sheet, Top: r1, Left: c1, Bottom: r2, Right: c2}
}

func (r Region) Height() int { return r.Bottom - r.Top + 1 }
func (r Region) Width() int  { return r.Right - r.Left + 1 }
func (r Region) Size() int   { return r.Height() * r.Width() }

// IsCell reports whether the region covers exactly one cell.
func (r Region) IsCell() bool {
	return r.Top == r.Bottom && r.Left == r.Right
}

func (r Region) TopLeft() Address {
	return Address{Sheet: r.Sheet, Row: r.Top, Col: r.Left}
}

// Contains reports whether the address lies inside the region.
func (r Region) Contains(a Address) bool {
	return a.Sheet == r.Sheet &&
		a.Row >= r.Top && a.Row <= r.Bottom &&
		a.Col >= r.Left && a.Col <= r.Right
}

// ContainsRegion reports whether o lies entirely inside r.
func (r Region) ContainsRegion(o Region) bool {
	return r.Sheet == o.Sheet &&
		o.Top >= r.Top && o.Bottom <= r.Bottom &&
		o.Left >= r.Left && o.Right <= r.Right
}

func (r Region) Intersects(o Region) bool {
	return r.Sheet == o.Sheet &&
		r.Top <= o.Bottom && o.Top <= r.Bottom &&
		r.Left <= o.Right && o.Left <= r.Right
}

// Intersection returns the overlap of two regions. ok is false when they do
// not overlap.
func (r Region) Intersection(o Region) (Region, bool) {
	if !r.Intersects(o) {
		return Region{}, false
	}
	return Region{
		Sheet:  r.Sheet,
		Top:    max(r.Top, o.Top),
		Left:   max(r.Left, o.Left),
		Bottom: min(r.Bottom, o.Bottom),
		Right:  min(r.Right, o.Right),
	}, true
}

// Cells iterates the region row-major.
func (r Region) Cells() iter.Seq[Address] {
	return func(yield func(Address) bool) {
		for row := r.Top; row <= r.Bottom; row++ {
			for col := r.Left; col <= r.Right; col++ {
				if !yield(Address{Sheet: r.Sheet, Row: row, Col: col}) {
					return
				}
			}
		}
	}
}

// String renders "A1:B2", or "A1" for a single cell.
func (r Region) String() string {
	start := Address{Row: r.Top, Col: r.Left}.String()
	if r.IsCell() {
		return start
	}
	return fmt.Sprintf("%s:%s", start, Address{Row: r.Bottom, Col: r.Right}.String())
}

// parseA1 parses a bare "A1" / "$A$1" style reference into zero-based
// coordinates.
func parseA1(s string) (row, col int, ok bool) {
	i := 0
	if i < len(s) && s[i] == '$' {
		i++
	}
	start := i
	for i < len(s) && isAlpha(rune(s[i])) {
		i++
	}
	if i == start || i-start > 3 {
		return 0, 0, false
	}
	letters := s[start:i]
	if i < len(s) && s[i] == '$' {
		i++
	}
	digits := s[i:]
	if digits == "" {
		return 0, 0, false
	}
	for _, ch := range digits {
		if !isDigit(ch) {
			return 0, 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, 0, false
	}
	c, err := ColumnIndex(letters)
	if err != nil {
		return 0, 0, false
	}
	if !ValidCoordinate(n-1, c) {
		return 0, 0, false
	}
	return n - 1, c, true
}
