package formula

// StringTable interns cell text so repeated strings across a workbook are
// stored once. entries are reference counted and dropped when the last cell
// holding them is overwritten.
type StringTable struct {
	ids       map[string]uint32
	values    map[uint32]string
	refCounts map[uint32]int
	nextID    uint32
}

// NewStringTable creates a new string table
func NewStringTable() *StringTable {
	return &StringTable{
		ids:       make(map[string]uint32),
		values:    make(map[uint32]string),
		refCounts: make(map[uint32]int),
		nextID:    1, // 0 marks an empty slot
	}
}

// Intern returns the ID for s and takes a reference on it.
func (st *StringTable) Intern(s string) uint32 {
	if id, exists := st.ids[s]; exists {
		st.refCounts[id]++
		return id
	}
	id := st.nextID
	st.nextID++
	st.ids[s] = id
	st.values[id] = s
	st.refCounts[id] = 1
	return id
}

// GetString retrieves a string by its ID
func (st *StringTable) GetString(id uint32) (string, bool) {
	s, exists := st.values[id]
	return s, exists
}

// RemoveReference releases one reference. the string is forgotten when the
// count reaches zero; the return value reports that.
func (st *StringTable) RemoveReference(id uint32) bool {
	s, exists := st.values[id]
	if !exists {
		return false
	}
	st.refCounts[id]--
	if st.refCounts[id] > 0 {
		return false
	}
	delete(st.ids, s)
	delete(st.values, id)
	delete(st.refCounts, id)
	return true
}

// Count returns the number of unique strings in the table
func (st *StringTable) Count() int {
	return len(st.ids)
}
