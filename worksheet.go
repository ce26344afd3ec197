package formula

import (
	"iter"
	"math/bits"
	"slices"
	"strings"
)

// WorksheetTable maps sheet names to IDs. a name can be referenced by a
// formula before the sheet exists; it then has an ID but no definition, and
// reads from it evaluate to #REF! until it is defined.
type WorksheetTable struct {
	nameToID map[string]SheetID // lower case name -> ID, defined or not
	idToName map[SheetID]string // ID -> name as first written

	definedWorksheets map[SheetID]*Worksheet
	order             []SheetID // defined sheets in creation order

	nextID SheetID
}

// NewWorksheetTable creates a new worksheet table
func NewWorksheetTable() *WorksheetTable {
	return &WorksheetTable{
		nameToID:          make(map[string]SheetID),
		idToName:          make(map[SheetID]string),
		definedWorksheets: make(map[SheetID]*Worksheet),
		nextID:            1, // 0 is never a valid sheet
	}
}

// InternWorksheet returns the ID for name, allocating an undefined entry the
// first time the name is seen. names are case-insensitive.
func (wt *WorksheetTable) InternWorksheet(name string) SheetID {
	key := strings.ToLower(name)
	if id, exists := wt.nameToID[key]; exists {
		return id
	}
	id := wt.nextID
	wt.nameToID[key] = id
	wt.idToName[id] = name
	wt.nextID++
	return id
}

// DefineWorksheet gives an interned or new name a backing worksheet. it
// returns false when the sheet was already defined.
func (wt *WorksheetTable) DefineWorksheet(name string, st *StringTable) (SheetID, bool) {
	id := wt.InternWorksheet(name)
	if _, exists := wt.definedWorksheets[id]; exists {
		return id, false
	}
	wt.definedWorksheets[id] = NewWorksheet(id, st)
	wt.order = append(wt.order, id)
	return id, true
}

// GetWorksheet returns the Worksheet for a given ID
func (wt *WorksheetTable) GetWorksheet(id SheetID) (*Worksheet, bool) {
	worksheet, exists := wt.definedWorksheets[id]
	return worksheet, exists
}

// IsWorksheetDefined checks if a worksheet has a definition
func (wt *WorksheetTable) IsWorksheetDefined(id SheetID) bool {
	_, exists := wt.definedWorksheets[id]
	return exists
}

// GetWorksheetID returns the ID for a worksheet name
func (wt *WorksheetTable) GetWorksheetID(name string) (SheetID, bool) {
	id, exists := wt.nameToID[strings.ToLower(name)]
	return id, exists
}

// GetWorksheetName returns the name for a worksheet ID
func (wt *WorksheetTable) GetWorksheetName(id SheetID) (string, bool) {
	name, exists := wt.idToName[id]
	return name, exists
}

// Defined returns the defined sheets in creation order.
func (wt *WorksheetTable) Defined() []SheetID {
	return slices.Clone(wt.order)
}

// CountUndefined returns the number of names referenced but never defined.
func (wt *WorksheetTable) CountUndefined() int {
	return len(wt.nameToID) - len(wt.definedWorksheets)
}

// ChunkKey represents the key for indexing chunks in Worksheet
type ChunkKey struct {
	ChunkRow int
	ChunkCol int
}

// cellKind is the type tag stored per cell in a chunk.
type cellKind uint8

const (
	kindEmpty cellKind = iota
	kindNumber
	kindString
	kindBoolean
	kindError
)

// Worksheet is sparse cell storage for one sheet.
//
// cells are partitioned into 256x256 chunks. a chunk allocates its value
// arrays lazily based on the kinds of value actually present, and text is
// interned through the workbook's StringTable. plain values and computed
// formula results share the same slots; the formula itself lives in the
// engine.
type Worksheet struct {
	id         SheetID
	chunks     map[ChunkKey]*Chunk
	strings    *StringTable
	totalCells int
}

const (
	ChunkRows = 256 // rows per chunk - power of 2 for efficient modulo
	ChunkCols = 256 // columns per chunk
	ChunkSize = ChunkRows * ChunkCols
)

// Chunk is a 256x256 block of cells in structure-of-arrays layout. Types
// and OccupiedBitmap always exist; Numbers and StringIDs are allocated on
// first use.
type Chunk struct {
	Types          []uint8
	NonEmptyCount  int
	OccupiedBitmap []uint64

	Numbers   []float64 // numbers, booleans as 0/1, error codes
	StringIDs []uint32  // interned text and error messages
}

// NewWorksheet creates a new worksheet
func NewWorksheet(id SheetID, st *StringTable) *Worksheet {
	return &Worksheet{
		id:      id,
		chunks:  make(map[ChunkKey]*Chunk),
		strings: st,
	}
}

func chunkIndex(row, col int) (ChunkKey, int) {
	key := ChunkKey{ChunkRow: row / ChunkRows, ChunkCol: col / ChunkCols}
	// column-first indexing for better cache locality on column scans
	return key, (col%ChunkCols)*ChunkRows + row%ChunkRows
}

// getChunk retrieves or creates a chunk
func (w *Worksheet) getChunk(key ChunkKey) *Chunk {
	chunk, exists := w.chunks[key]
	if !exists {
		chunk = &Chunk{
			Types:          make([]uint8, ChunkSize),
			OccupiedBitmap: make([]uint64, ChunkSize/64),
		}
		w.chunks[key] = chunk
	}
	return chunk
}

// Get returns the value at row/col, nil when empty.
func (w *Worksheet) Get(row, col int) Value {
	key, idx := chunkIndex(row, col)
	chunk, exists := w.chunks[key]
	if !exists {
		return nil
	}
	return w.read(chunk, idx)
}

func (w *Worksheet) read(chunk *Chunk, idx int) Value {
	switch cellKind(chunk.Types[idx]) {
	case kindNumber:
		return chunk.Numbers[idx]
	case kindBoolean:
		return chunk.Numbers[idx] != 0
	case kindString:
		s, _ := w.strings.GetString(chunk.StringIDs[idx])
		return s
	case kindError:
		message, _ := w.strings.GetString(chunk.StringIDs[idx])
		return &FormulaError{Code: ErrorCode(chunk.Numbers[idx]), Message: message}
	}
	return nil
}

// Set stores a value. nil, and anything that is not a storable value,
// empties the cell.
func (w *Worksheet) Set(row, col int, value Value) {
	value = storedValue(value)
	if value == nil {
		w.Remove(row, col)
		return
	}

	key, idx := chunkIndex(row, col)
	chunk := w.getChunk(key)
	w.release(chunk, idx)

	switch v := value.(type) {
	case float64:
		chunk.Types[idx] = uint8(kindNumber)
		chunk.numbers()[idx] = v
	case bool:
		chunk.Types[idx] = uint8(kindBoolean)
		if v {
			chunk.numbers()[idx] = 1
		} else {
			chunk.numbers()[idx] = 0
		}
	case string:
		chunk.Types[idx] = uint8(kindString)
		chunk.stringIDs()[idx] = w.strings.Intern(v)
	case *FormulaError:
		chunk.Types[idx] = uint8(kindError)
		chunk.numbers()[idx] = float64(v.Code)
		chunk.stringIDs()[idx] = w.strings.Intern(v.Message)
	default:
		w.Remove(row, col)
		return
	}

	if chunk.OccupiedBitmap[idx/64]&(1<<(idx%64)) == 0 {
		chunk.OccupiedBitmap[idx/64] |= 1 << (idx % 64)
		chunk.NonEmptyCount++
		w.totalCells++
	}
}

func (c *Chunk) numbers() []float64 {
	if c.Numbers == nil {
		c.Numbers = make([]float64, ChunkSize)
	}
	return c.Numbers
}

func (c *Chunk) stringIDs() []uint32 {
	if c.StringIDs == nil {
		c.StringIDs = make([]uint32, ChunkSize)
	}
	return c.StringIDs
}

// release drops the string reference held by a slot, if any.
func (w *Worksheet) release(chunk *Chunk, idx int) {
	switch cellKind(chunk.Types[idx]) {
	case kindString, kindError:
		w.strings.RemoveReference(chunk.StringIDs[idx])
		chunk.StringIDs[idx] = 0
	}
	chunk.Types[idx] = uint8(kindEmpty)
}

// Remove empties a cell. chunks left without cells are dropped.
func (w *Worksheet) Remove(row, col int) {
	key, idx := chunkIndex(row, col)
	chunk, exists := w.chunks[key]
	if !exists || chunk.OccupiedBitmap[idx/64]&(1<<(idx%64)) == 0 {
		return
	}
	w.release(chunk, idx)
	chunk.OccupiedBitmap[idx/64] &^= 1 << (idx % 64)
	chunk.NonEmptyCount--
	w.totalCells--
	if chunk.NonEmptyCount == 0 {
		delete(w.chunks, key)
	}
}

// Cells yields every non-empty cell in (row, column) order.
func (w *Worksheet) Cells() iter.Seq2[Address, Value] {
	return w.occupied(nil)
}

// CellsIn yields the non-empty cells inside region in (row, column) order.
// small regions are probed cell by cell; larger ones only visit the chunks
// they overlap.
func (w *Worksheet) CellsIn(region Region) iter.Seq2[Address, Value] {
	if region.Size() > 4*ChunkSize {
		return w.occupied(&region)
	}
	return func(yield func(Address, Value) bool) {
		for addr := range region.Cells() {
			if v := w.Get(addr.Row, addr.Col); v != nil {
				if !yield(addr, v) {
					return
				}
			}
		}
	}
}

// occupied collects the set cells of every chunk overlapping region (all
// chunks when region is nil) and yields them sorted.
func (w *Worksheet) occupied(region *Region) iter.Seq2[Address, Value] {
	return func(yield func(Address, Value) bool) {
		type entry struct {
			addr  Address
			value Value
		}
		var out []entry
		for key, chunk := range w.chunks {
			if region != nil && !region.Intersects(chunkRegion(w.id, key)) {
				continue
			}
			for word, bitsSet := range chunk.OccupiedBitmap {
				for bitsSet != 0 {
					bit := bits.TrailingZeros64(bitsSet)
					bitsSet &^= 1 << bit
					idx := word*64 + bit
					addr := Address{
						Sheet: w.id,
						Row:   key.ChunkRow*ChunkRows + idx%ChunkRows,
						Col:   key.ChunkCol*ChunkCols + idx/ChunkRows,
					}
					if region != nil && !region.Contains(addr) {
						continue
					}
					out = append(out, entry{addr, w.read(chunk, idx)})
				}
			}
		}
		slices.SortFunc(out, func(a, b entry) int { return a.addr.Compare(b.addr) })
		for _, e := range out {
			if !yield(e.addr, e.value) {
				return
			}
		}
	}
}

func chunkRegion(sheet SheetID, key ChunkKey) Region {
	top, left := key.ChunkRow*ChunkRows, key.ChunkCol*ChunkCols
	return NewRegion(sheet, top, left, top+ChunkRows-1, left+ChunkCols-1)
}

// GetTotalCells returns the total number of non-empty cells
func (w *Worksheet) GetTotalCells() int {
	return w.totalCells
}
