package formula

import (
	"fmt"
	"iter"
	"strings"
)

// CellStore is the cell and variable storage the engine computes over. the
// engine owns formulas; the store only ever sees values.
type CellStore interface {
	GetValue(addr Address) Value
	// SetValue writes a plain value and notifies OnValueChanged listeners.
	SetValue(addr Address, value Value)
	// SetComputedValue writes a formula result. listeners are not notified.
	SetComputedValue(addr Address, value Value)
	ClearValue(addr Address)
	RegionValues(region Region) *Sequence
	// MoveCells relocates stored values for a validated structural edit.
	MoveCells(edit StructuralEdit)
	// Cells yields the non-empty cells of a sheet in (row, column) order.
	Cells(sheet SheetID) iter.Seq2[Address, Value]

	GetVariable(name string) (Value, bool)
	SetVariableValue(name string, value Value)
	ClearVariable(name string)
	VariableNames() []string

	OnValueChanged(fn func(addr Address))

	AddSheet(name string) (SheetID, error)
	ResolveSheet(name string) SheetID
	LookupSheet(name string) (SheetID, bool)
	SheetName(id SheetID) (string, bool)
	SheetDefined(id SheetID) bool
	Sheets() []SheetID
}

// Workbook is the default CellStore: a table of chunked worksheets sharing
// one string table, plus workbook variables.
type Workbook struct {
	worksheets *WorksheetTable
	strings    *StringTable
	variables  *VariableTable
	listeners  []func(Address)
}

var _ CellStore = (*Workbook)(nil)

// NewWorkbook creates a workbook with the named sheets already defined.
func NewWorkbook(sheets ...string) *Workbook {
	wb := &Workbook{
		worksheets: NewWorksheetTable(),
		strings:    NewStringTable(),
		variables:  NewVariableTable(),
	}
	for _, name := range sheets {
		wb.worksheets.DefineWorksheet(name, wb.strings)
	}
	return wb
}

func (wb *Workbook) sheet(id SheetID) *Worksheet {
	w, _ := wb.worksheets.GetWorksheet(id)
	return w
}

func (wb *Workbook) GetValue(addr Address) Value {
	w := wb.sheet(addr.Sheet)
	if w == nil {
		return nil
	}
	return w.Get(addr.Row, addr.Col)
}

func (wb *Workbook) SetValue(addr Address, value Value) {
	wb.SetComputedValue(addr, value)
	wb.notify(addr)
}

func (wb *Workbook) SetComputedValue(addr Address, value Value) {
	if w := wb.sheet(addr.Sheet); w != nil {
		w.Set(addr.Row, addr.Col, value)
	}
}

func (wb *Workbook) ClearValue(addr Address) {
	w := wb.sheet(addr.Sheet)
	if w == nil {
		return
	}
	w.Remove(addr.Row, addr.Col)
	wb.notify(addr)
}

func (wb *Workbook) notify(addr Address) {
	for _, fn := range wb.listeners {
		fn(addr)
	}
}

func (wb *Workbook) RegionValues(region Region) *Sequence {
	return materialize(wb.sheet(region.Sheet), region)
}

// MoveCells lifts every value in the affected part of the sheet and drops
// it back at its translated address. values whose cells were removed are
// discarded.
func (wb *Workbook) MoveCells(edit StructuralEdit) {
	w := wb.sheet(edit.Sheet)
	if w == nil {
		return
	}
	type moved struct {
		addr  Address
		value Value
	}
	var lifted []moved
	for addr, v := range w.CellsIn(edit.Affected()) {
		lifted = append(lifted, moved{addr, v})
	}
	for _, m := range lifted {
		w.Remove(m.addr.Row, m.addr.Col)
	}
	for _, m := range lifted {
		if to, ok := edit.TranslateAddress(m.addr); ok {
			w.Set(to.Row, to.Col, m.value)
		}
	}
}

func (wb *Workbook) Cells(sheet SheetID) iter.Seq2[Address, Value] {
	w := wb.sheet(sheet)
	if w == nil {
		return func(func(Address, Value) bool) {}
	}
	return w.Cells()
}

func (wb *Workbook) GetVariable(name string) (Value, bool) {
	return wb.variables.Get(name)
}

func (wb *Workbook) SetVariableValue(name string, value Value) {
	wb.variables.Define(name, storedValue(value))
}

func (wb *Workbook) ClearVariable(name string) {
	wb.variables.Undefine(name)
}

func (wb *Workbook) VariableNames() []string {
	return wb.variables.Names()
}

// OnValueChanged registers a listener for plain value writes.
func (wb *Workbook) OnValueChanged(fn func(addr Address)) {
	wb.listeners = append(wb.listeners, fn)
}

// AddSheet defines a sheet. a name that formulas already referenced keeps
// the ID it was given then.
func (wb *Workbook) AddSheet(name string) (SheetID, error) {
	if strings.TrimSpace(name) == "" {
		return 0, wrapError(InvalidArgument, ErrInvalidAddress, "sheet name is empty")
	}
	id, created := wb.worksheets.DefineWorksheet(name, wb.strings)
	if !created {
		return id, wrapError(AlreadyExists, ErrSheetExists, "sheet '%s'", name)
	}
	return id, nil
}

// ResolveSheet returns the ID for a sheet name, interning unknown names.
func (wb *Workbook) ResolveSheet(name string) SheetID {
	return wb.worksheets.InternWorksheet(name)
}

// LookupSheet returns the ID of a defined sheet.
func (wb *Workbook) LookupSheet(name string) (SheetID, bool) {
	id, ok := wb.worksheets.GetWorksheetID(name)
	if !ok || !wb.worksheets.IsWorksheetDefined(id) {
		return 0, false
	}
	return id, true
}

func (wb *Workbook) SheetName(id SheetID) (string, bool) {
	return wb.worksheets.GetWorksheetName(id)
}

func (wb *Workbook) SheetDefined(id SheetID) bool {
	return wb.worksheets.IsWorksheetDefined(id)
}

func (wb *Workbook) Sheets() []SheetID {
	return wb.worksheets.Defined()
}

// Stats summarizes storage use.
func (wb *Workbook) Stats() string {
	cells := 0
	for _, id := range wb.Sheets() {
		cells += wb.sheet(id).GetTotalCells()
	}
	return fmt.Sprintf("%d sheets, %d cells, %d strings, %d variables",
		len(wb.Sheets()), cells, wb.strings.Count(), wb.variables.Count())
}
