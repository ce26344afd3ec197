package formula

import "slices"

// FormulaState tracks where a formula entry is in the recalculation cycle.
type FormulaState uint8

const (
	Clean FormulaState = iota
	Dirty
	// Evaluating is set while the entry's tree is being walked; reading an
	// entry in this state is a runtime cycle.
	Evaluating
	// CircularError marks an entry found on a cycle. it holds #CIRCULAR!
	// until an edit breaks the cycle.
	CircularError
)

func (s FormulaState) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case Evaluating:
		return "evaluating"
	case CircularError:
		return "circular"
	}
	return "unknown"
}

// FormulaEntry is one installed formula: the text as entered, its parsed
// tree and its last computed value.
type FormulaEntry struct {
	Key      NodeKey
	Text     string
	AST      ASTNode
	Value    Value
	State    FormulaState
	Volatile bool
}

// FormulaTable owns every formula entry, keyed by cell or variable, with a
// per-sheet index for region lookups.
type FormulaTable struct {
	entries  map[NodeKey]*FormulaEntry
	bySheet  map[SheetID]map[Address]struct{} // sheet -> cells holding formulas
	volatile map[NodeKey]struct{}
}

// NewFormulaTable creates a new formula table
func NewFormulaTable() *FormulaTable {
	return &FormulaTable{
		entries:  make(map[NodeKey]*FormulaEntry),
		bySheet:  make(map[SheetID]map[Address]struct{}),
		volatile: make(map[NodeKey]struct{}),
	}
}

// Get returns the entry at key, if any.
func (ft *FormulaTable) Get(key NodeKey) (*FormulaEntry, bool) {
	entry, exists := ft.entries[key]
	return entry, exists
}

// Put installs entry, replacing whatever was at its key.
func (ft *FormulaTable) Put(entry *FormulaEntry) {
	ft.Remove(entry.Key)
	ft.entries[entry.Key] = entry
	if !entry.Key.IsVariable() {
		addr := entry.Key.Addr
		cells, exists := ft.bySheet[addr.Sheet]
		if !exists {
			cells = make(map[Address]struct{})
			ft.bySheet[addr.Sheet] = cells
		}
		cells[addr] = struct{}{}
	}
	if entry.Volatile {
		ft.volatile[entry.Key] = struct{}{}
	}
}

// Remove deletes the entry at key and returns it.
func (ft *FormulaTable) Remove(key NodeKey) (*FormulaEntry, bool) {
	entry, exists := ft.entries[key]
	if !exists {
		return nil, false
	}
	delete(ft.entries, key)
	delete(ft.volatile, key)
	if !key.IsVariable() {
		if cells, ok := ft.bySheet[key.Addr.Sheet]; ok {
			delete(cells, key.Addr)
			if len(cells) == 0 {
				delete(ft.bySheet, key.Addr.Sheet)
			}
		}
	}
	return entry, true
}

// Len returns the number of installed formulas, cells and variables.
func (ft *FormulaTable) Len() int {
	return len(ft.entries)
}

func sortEntries(out []*FormulaEntry) []*FormulaEntry {
	slices.SortFunc(out, func(a, b *FormulaEntry) int { return a.Key.Compare(b.Key) })
	return out
}

// InRegion returns the cell formulas inside region, sorted.
func (ft *FormulaTable) InRegion(region Region) []*FormulaEntry {
	var out []*FormulaEntry
	for addr := range ft.bySheet[region.Sheet] {
		if region.Contains(addr) {
			out = append(out, ft.entries[CellKey(addr)])
		}
	}
	return sortEntries(out)
}

// OnSheet returns every cell formula on sheet, sorted.
func (ft *FormulaTable) OnSheet(sheet SheetID) []*FormulaEntry {
	out := make([]*FormulaEntry, 0, len(ft.bySheet[sheet]))
	for addr := range ft.bySheet[sheet] {
		out = append(out, ft.entries[CellKey(addr)])
	}
	return sortEntries(out)
}

// All returns every entry, sorted.
func (ft *FormulaTable) All() []*FormulaEntry {
	out := make([]*FormulaEntry, 0, len(ft.entries))
	for _, entry := range ft.entries {
		out = append(out, entry)
	}
	return sortEntries(out)
}

// Volatile returns the keys of entries calling a volatile function, sorted.
func (ft *FormulaTable) Volatile() []NodeKey {
	return sortedKeys(ft.volatile)
}
