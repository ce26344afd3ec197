package formula

import (
	"iter"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Value represents a computed cell or expression value.
// types:
//   - float64: numeric values (integers are converted to float64)
//   - string: text values
//   - bool: boolean values (TRUE/FALSE)
//   - nil: empty cells
//   - *FormulaError: error values (#DIV/0!, #VALUE!, etc.)
//   - *Sequence: a flattened range or array. only valid as an intermediate
//     or function argument, never stored in a cell.
type Value any

// ErrorCode represents standard spreadsheet error codes following
// Excel conventions
type ErrorCode uint8

const (
	ErrorCodeNull     ErrorCode = 1 // #NULL! - no cells in common between ranges
	ErrorCodeDiv0     ErrorCode = 2 // #DIV/0! - division by zero
	ErrorCodeValue    ErrorCode = 3 // #VALUE! - wrong type of argument or operand
	ErrorCodeRef      ErrorCode = 4 // #REF! - invalid cell reference
	ErrorCodeName     ErrorCode = 5 // #NAME? - unrecognized function or variable name
	ErrorCodeNum      ErrorCode = 6 // #NUM! - domain error, or number too large or small
	ErrorCodeNA       ErrorCode = 7 // #N/A - wrong number of arguments, no value available
	ErrorCodeOther    ErrorCode = 8 // #ERROR! - all other errors
	ErrorCodeCircular ErrorCode = 9 // #CIRCULAR! - runtime dependency cycle
)

// ErrorMapper maps error code numbers to their string representations
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeNull:     "#NULL!",
	ErrorCodeDiv0:     "#DIV/0!",
	ErrorCodeValue:    "#VALUE!",
	ErrorCodeRef:      "#REF!",
	ErrorCodeName:     "#NAME?",
	ErrorCodeNum:      "#NUM!",
	ErrorCodeNA:       "#N/A",
	ErrorCodeOther:    "#ERROR!",
	ErrorCodeCircular: "#CIRCULAR!",
}

// ParseErrorCode maps an error tag such as "#div/0!" (any case) back to its
// code.
func ParseErrorCode(tag string) (ErrorCode, bool) {
	upper := strings.ToUpper(tag)
	for code, s := range ErrorMapper {
		if s == upper {
			return code, true
		}
	}
	return 0, false
}

// FormulaError is an error value. it flows through evaluation like any other
// value and is displayed by its tag.
type FormulaError struct {
	Code    ErrorCode
	Message string
}

func (e *FormulaError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Tag()
}

// Tag is the display form, e.g. "#REF!".
func (e *FormulaError) Tag() string {
	return ErrorMapper[e.Code]
}

func NewFormulaError(code ErrorCode, message string) *FormulaError {
	if message == "" {
		message = ErrorMapper[code]
	}
	return &FormulaError{
		Code:    code,
		Message: message,
	}
}

// Sequence is a rectangular block of values. only non-blank slots are
// stored, keyed by their row-major offset, so a range over a mostly empty
// sheet costs what its occupied cells cost, however large its shape.
type Sequence struct {
	Rows int
	Cols int

	offsets []int // ascending row*Cols+col of each stored value
	values  []Value
}

// NewSequence returns an all-blank sequence of the given shape.
func NewSequence(rows, cols int) *Sequence {
	return &Sequence{Rows: rows, Cols: cols}
}

// SequenceOf builds a sequence from row-major values. nil entries are blank.
func SequenceOf(rows, cols int, values ...Value) *Sequence {
	seq := NewSequence(rows, cols)
	for i, v := range values {
		seq.setOffset(i, v)
	}
	return seq
}

// Len is the number of slots, blanks included.
func (s *Sequence) Len() int { return s.Rows * s.Cols }

// Count is the number of non-blank slots.
func (s *Sequence) Count() int { return len(s.values) }

// At returns the value at a zero-based row/col inside the block.
func (s *Sequence) At(row, col int) Value {
	return s.atOffset(row*s.Cols + col)
}

// Set stores v at a zero-based row/col. nil blanks the slot.
func (s *Sequence) Set(row, col int, v Value) {
	s.setOffset(row*s.Cols+col, v)
}

func (s *Sequence) atOffset(off int) Value {
	i, found := slices.BinarySearch(s.offsets, off)
	if !found {
		return nil
	}
	return s.values[i]
}

func (s *Sequence) setOffset(off int, v Value) {
	// row-major fills only ever append
	if n := len(s.offsets); n == 0 || s.offsets[n-1] < off {
		if v != nil {
			s.offsets = append(s.offsets, off)
			s.values = append(s.values, v)
		}
		return
	}
	i, found := slices.BinarySearch(s.offsets, off)
	switch {
	case found && v == nil:
		s.offsets = slices.Delete(s.offsets, i, i+1)
		s.values = slices.Delete(s.values, i, i+1)
	case found:
		s.values[i] = v
	case v != nil:
		s.offsets = slices.Insert(s.offsets, i, off)
		s.values = slices.Insert(s.values, i, v)
	}
}

// IterateValues yields the non-blank values in row-major order. blanks are
// never visited; Len()-Count() of them were skipped.
func (s *Sequence) IterateValues() iter.Seq[Value] {
	return func(yield func(Value) bool) {
		for _, v := range s.values {
			if !yield(v) {
				return
			}
		}
	}
}

// Entries yields the row-major offset and value of each non-blank slot.
func (s *Sequence) Entries() iter.Seq2[int, Value] {
	return func(yield func(int, Value) bool) {
		for i, off := range s.offsets {
			if !yield(off, s.values[i]) {
				return
			}
		}
	}
}

// First returns the top-left value, or nil for an empty sequence.
func (s *Sequence) First() Value {
	if s.Len() == 0 {
		return nil
	}
	return s.atOffset(0)
}

// IsError reports whether v is an error value.
func IsError(v Value) bool {
	_, ok := v.(*FormulaError)
	return ok
}

// scalar collapses a sequence used where a single value is expected. a
// one-element sequence yields its element; anything larger is #VALUE!.
func scalar(v Value) Value {
	seq, ok := v.(*Sequence)
	if !ok {
		return v
	}
	if seq.Len() == 1 {
		return seq.First()
	}
	return NewFormulaError(ErrorCodeValue, "expected a single value, got a range")
}

// storedValue converts an evaluation result into something a cell can hold.
// a sequence stores its top-left value.
func storedValue(v Value) Value {
	if seq, ok := v.(*Sequence); ok {
		if seq.Len() == 0 {
			return NewFormulaError(ErrorCodeValue, "empty array result")
		}
		return seq.First()
	}
	return v
}

// toNumber converts a value to a number: true->1, false->0, empty->0, numeric
// text parsed, anything else #VALUE!.
func toNumber(v Value) (float64, *FormulaError) {
	switch x := scalar(v).(type) {
	case float64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case nil:
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, NewFormulaError(ErrorCodeValue, "cannot convert \""+x+"\" to a number")
		}
		return f, nil
	case *FormulaError:
		return 0, x
	}
	return 0, NewFormulaError(ErrorCodeValue, "")
}

// toText converts a value to text: empty->"", booleans as TRUE/FALSE,
// numbers in their shortest form.
func toText(v Value) (string, *FormulaError) {
	switch x := scalar(v).(type) {
	case string:
		return x, nil
	case float64:
		return formatNumber(x), nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case nil:
		return "", nil
	case *FormulaError:
		return "", x
	}
	return "", NewFormulaError(ErrorCodeValue, "")
}

// toBoolean converts a value to a boolean: numbers are true when non-zero,
// empty is false, text must read TRUE or FALSE.
func toBoolean(v Value) (bool, *FormulaError) {
	switch x := scalar(v).(type) {
	case bool:
		return x, nil
	case float64:
		return x != 0, nil
	case nil:
		return false, nil
	case string:
		switch strings.ToUpper(strings.TrimSpace(x)) {
		case "TRUE":
			return true, nil
		case "FALSE":
			return false, nil
		}
		return false, NewFormulaError(ErrorCodeValue, "cannot convert \""+x+"\" to a boolean")
	case *FormulaError:
		return false, x
	}
	return false, NewFormulaError(ErrorCodeValue, "")
}

// formatNumber renders a number with at most 15 significant digits, which
// hides binary noise such as 0.1+0.2.
func formatNumber(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return ErrorMapper[ErrorCodeNum]
	}
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(f, 'g', 15, 64), 64)
	if err != nil {
		rounded = f
	}
	abs := math.Abs(rounded)
	if abs != 0 && (abs >= 1e21 || abs < 1e-9) {
		return strconv.FormatFloat(rounded, 'G', -1, 64)
	}
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}

// FormatValue renders any value for display.
func FormatValue(v Value) string {
	switch x := v.(type) {
	case *FormulaError:
		return x.Tag()
	case *Sequence:
		return FormatValue(x.First())
	}
	s, _ := toText(v)
	return s
}

// typeRank orders values of different types the way Excel does:
// numbers < text < booleans.
func typeRank(v Value) int {
	switch v.(type) {
	case float64:
		return 0
	case string:
		return 1
	case bool:
		return 2
	}
	return 3
}

// compareValues orders two scalar values. an empty side takes the zero value
// of the other side's type, so an empty cell equals 0, "" and FALSE.
func compareValues(a, b Value) (int, *FormulaError) {
	a, b = scalar(a), scalar(b)
	if err, ok := a.(*FormulaError); ok {
		return 0, err
	}
	if err, ok := b.(*FormulaError); ok {
		return 0, err
	}
	if a == nil {
		a = zeroLike(b)
	}
	if b == nil {
		b = zeroLike(a)
	}
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1, nil
		}
		return 1, nil
	}
	switch x := a.(type) {
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case string:
		return strings.Compare(strings.ToLower(x), strings.ToLower(b.(string))), nil
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0, nil
		case !x:
			return -1, nil
		}
		return 1, nil
	}
	return 0, nil
}

func zeroLike(v Value) Value {
	switch v.(type) {
	case string:
		return ""
	case bool:
		return false
	}
	return 0.0
}

// sameValue reports whether a recomputed value is unchanged. errors compare
// by code; sequences always count as changed.
func sameValue(a, b Value) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case float64:
		y, ok := b.(float64)
		return ok && (x == y || (math.IsNaN(x) && math.IsNaN(y)))
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case *FormulaError:
		y, ok := b.(*FormulaError)
		return ok && x.Code == y.Code
	}
	return false
}

// numberResult guards arithmetic results: NaN and infinities become #NUM!.
func numberResult(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return NewFormulaError(ErrorCodeNum, "result is not a finite number")
	}
	return f
}

// NormalizeValue converts a Go value handed to the engine into a Value.
// integer and float kinds become float64; anything that is not a value
// type is rejected with ok false.
func NormalizeValue(v any) (Value, bool) {
	switch x := v.(type) {
	case nil, float64, string, bool, *FormulaError:
		return x, true
	case *Sequence:
		return storedValue(x), true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return nil, false
}
