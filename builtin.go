package formula

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// BuiltInFunctions contains all spreadsheet built-in functions
type BuiltInFunctions struct {
	clock Clock
	rng   RandomGenerator
}

// Excel date/time constants
const (
	// December 30, 1899 00:00:00 UTC in Unix milliseconds
	EXCEL_EPOCH_MS = -2209161600000
	MS_PER_DAY     = 86400000
)

func number(name string) Param   { return Param{Name: name, Type: ParamNumber} }
func text(name string) Param     { return Param{Name: name, Type: ParamText} }
func boolean(name string) Param  { return Param{Name: name, Type: ParamBoolean} }
func anyValue(name string) Param { return Param{Name: name, Type: ParamAny} }
func sequence(name string) Param { return Param{Name: name, Type: ParamSequence} }

func optional(p Param) Param {
	p.Optional = true
	return p
}

func repeating(p Param) Param {
	p.Repeating = true
	return p
}

// NewBuiltinRegistry returns a registry holding every built-in function.
// nil clock or rng fall back to the wall clock and math/rand.
func NewBuiltinRegistry(clock Clock, rng RandomGenerator) *FunctionRegistry {
	if clock == nil {
		clock = &WallClock{}
	}
	if rng == nil {
		rng = &DefaultRandomGenerator{}
	}
	bf := &BuiltInFunctions{clock: clock, rng: rng}
	r := NewFunctionRegistry()
	r.MustRegister(bf.Functions()...)
	return r
}

// Functions lists the built-in function table.
func (bf *BuiltInFunctions) Functions() []*Function {
	values := []Param{repeating(anyValue("value"))}
	oneNumber := []Param{number("number")}
	return []*Function{
		// aggregates
		{Name: "SUM", Params: values, Call: bf.SUM},
		{Name: "AVERAGE", Params: values, Call: bf.AVERAGE},
		{Name: "AVERAGEA", Params: values, Call: bf.AVERAGEA},
		{Name: "COUNT", Params: values, Call: bf.COUNT},
		{Name: "COUNTA", Params: values, AcceptsErrors: true, Call: bf.COUNTA},
		{Name: "MAX", Params: values, Call: bf.MAX},
		{Name: "MIN", Params: values, Call: bf.MIN},
		{Name: "MEDIAN", Params: values, Call: bf.MEDIAN},
		{Name: "MODE", Params: values, Call: bf.MODE},

		// logic
		{Name: "IF", Params: []Param{boolean("condition"), anyValue("then"), optional(anyValue("else"))}, CallLazy: bf.IF},
		{Name: "IFERROR", Params: []Param{anyValue("value"), anyValue("fallback")}, AcceptsErrors: true, CallLazy: bf.IFERROR},
		{Name: "CHOOSE", Params: []Param{number("index"), repeating(anyValue("choice"))}, CallLazy: bf.CHOOSE},
		{Name: "AND", Params: []Param{repeating(anyValue("logical"))}, CallLazy: bf.AND},
		{Name: "OR", Params: []Param{repeating(anyValue("logical"))}, CallLazy: bf.OR},
		{Name: "NOT", Params: []Param{boolean("logical")}, Call: bf.NOT},

		// text
		{Name: "CONCATENATE", Params: []Param{repeating(text("text"))}, Call: bf.CONCATENATE},
		{Name: "LEN", Params: []Param{text("text")}, Call: bf.LEN},
		{Name: "UPPER", Params: []Param{text("text")}, Call: bf.UPPER},
		{Name: "LOWER", Params: []Param{text("text")}, Call: bf.LOWER},
		{Name: "TRIM", Params: []Param{text("text")}, Call: bf.TRIM},

		// math
		{Name: "ABS", Params: oneNumber, Call: bf.ABS},
		{Name: "ROUND", Params: []Param{number("number"), optional(number("places"))}, Call: bf.ROUND},
		{Name: "FLOOR", Params: oneNumber, Call: bf.FLOOR},
		{Name: "CEILING", Params: oneNumber, Call: bf.CEILING},
		{Name: "SQRT", Params: oneNumber, Call: bf.SQRT},
		{Name: "POWER", Params: []Param{number("base"), number("exponent")}, Call: bf.POWER},
		{Name: "POW", Params: []Param{number("base"), number("exponent")}, Call: bf.POWER},
		{Name: "MOD", Params: []Param{number("dividend"), number("divisor")}, Call: bf.MOD},
		{Name: "PI", Call: bf.PI},
		{Name: "SIN", Params: oneNumber, Call: bf.SIN},
		{Name: "COS", Params: oneNumber, Call: bf.COS},
		{Name: "TAN", Params: oneNumber, Call: bf.TAN},
		{Name: "EXP", Params: oneNumber, Call: bf.EXP},
		{Name: "LN", Params: oneNumber, Call: bf.LN},
		{Name: "LOG10", Params: oneNumber, Call: bf.LOG10},

		// statistics and finance
		{Name: "SLOPE", Params: []Param{sequence("known_ys"), sequence("known_xs")}, Call: bf.SLOPE},
		{Name: "INTERCEPT", Params: []Param{sequence("known_ys"), sequence("known_xs")}, Call: bf.INTERCEPT},
		{Name: "CUMIPMT", Params: []Param{number("rate"), number("nper"), number("pv"), number("end_period")}, Call: bf.CUMIPMT},

		// volatile
		{Name: "NOW", Volatile: true, Call: bf.NOW},
		{Name: "TODAY", Volatile: true, Call: bf.TODAY},
		{Name: "RAND", Volatile: true, Call: bf.RAND},
	}
}

// collectNumbers flattens aggregate arguments. inside ranges only numbers
// count and errors propagate; direct arguments are converted, so TRUE is 1
// and "abc" is #VALUE!. empty direct arguments are skipped.
func collectNumbers(args []Value) ([]float64, *FormulaError) {
	var nums []float64
	for _, arg := range args {
		switch x := arg.(type) {
		case *Sequence:
			for v := range x.IterateValues() {
				switch y := v.(type) {
				case *FormulaError:
					return nil, y
				case float64:
					nums = append(nums, y)
				}
			}
		case nil:
		default:
			num, err := toNumber(x)
			if err != nil {
				return nil, err
			}
			nums = append(nums, num)
		}
	}
	return nums, nil
}

// SUM adds numbers. booleans and text inside ranges are ignored; blanks count
// as nothing.
func (bf *BuiltInFunctions) SUM(args []Value) Value {
	nums, err := collectNumbers(args)
	if err != nil {
		return err
	}
	sum := 0.0
	for _, num := range nums {
		sum += num
	}
	rounded, _ := strconv.ParseFloat(fmt.Sprintf("%.15f", sum), 64)
	return numberResult(rounded)
}

// AVERAGE is the mean of the numbers SUM would add. no numbers gives #DIV/0!.
func (bf *BuiltInFunctions) AVERAGE(args []Value) Value {
	nums, err := collectNumbers(args)
	if err != nil {
		return err
	}
	if len(nums) == 0 {
		return NewFormulaError(ErrorCodeDiv0, "AVERAGE has no numeric values")
	}
	sum := 0.0
	for _, num := range nums {
		sum += num
	}
	return numberResult(sum / float64(len(nums)))
}

// AVERAGEA also counts non-blank values inside ranges: TRUE is 1, FALSE and
// text are 0. blanks are skipped.
func (bf *BuiltInFunctions) AVERAGEA(args []Value) Value {
	sum := 0.0
	count := 0
	for _, arg := range args {
		if seq, ok := arg.(*Sequence); ok {
			for value := range seq.IterateValues() {
				switch v := value.(type) {
				case *FormulaError:
					return v
				case float64:
					sum += v
					count++
				case bool:
					if v {
						sum++
					}
					count++
				case string:
					count++
				}
			}
			continue
		}
		if arg == nil {
			continue
		}
		num, err := toNumber(arg)
		if err != nil {
			return err
		}
		sum += num
		count++
	}
	if count == 0 {
		return NewFormulaError(ErrorCodeDiv0, "AVERAGEA has no values")
	}
	return numberResult(sum / float64(count))
}

// COUNT counts numbers. errors, text and booleans inside ranges are skipped;
// a direct argument counts when it converts to a number.
func (bf *BuiltInFunctions) COUNT(args []Value) Value {
	count := 0
	for _, arg := range args {
		if seq, ok := arg.(*Sequence); ok {
			for value := range seq.IterateValues() {
				if _, ok := value.(float64); ok {
					count++
				}
			}
			continue
		}
		if arg == nil {
			continue
		}
		if _, err := toNumber(arg); err == nil {
			count++
		}
	}
	return float64(count)
}

// COUNTA counts every non-blank value, errors included.
func (bf *BuiltInFunctions) COUNTA(args []Value) Value {
	count := 0
	for _, arg := range args {
		if seq, ok := arg.(*Sequence); ok {
			for value := range seq.IterateValues() {
				if value != nil {
					count++
				}
			}
			continue
		}
		if arg != nil {
			count++
		}
	}
	return float64(count)
}

// MAX returns the largest number, or 0 when there are none.
func (bf *BuiltInFunctions) MAX(args []Value) Value {
	nums, err := collectNumbers(args)
	if err != nil {
		return err
	}
	if len(nums) == 0 {
		return 0.0
	}
	return slices.Max(nums)
}

// MIN returns the smallest number, or 0 when there are none.
func (bf *BuiltInFunctions) MIN(args []Value) Value {
	nums, err := collectNumbers(args)
	if err != nil {
		return err
	}
	if len(nums) == 0 {
		return 0.0
	}
	return slices.Min(nums)
}

// MEDIAN returns the middle number. no numbers gives #NUM!.
func (bf *BuiltInFunctions) MEDIAN(args []Value) Value {
	nums, err := collectNumbers(args)
	if err != nil {
		return err
	}
	if len(nums) == 0 {
		return NewFormulaError(ErrorCodeNum, "MEDIAN has no numeric values")
	}
	slices.Sort(nums)
	mid := len(nums) / 2
	if len(nums)%2 == 0 {
		return (nums[mid-1] + nums[mid]) / 2
	}
	return nums[mid]
}

// MODE returns the most frequent number, the smallest one on ties. #N/A when
// no number repeats.
func (bf *BuiltInFunctions) MODE(args []Value) Value {
	nums, err := collectNumbers(args)
	if err != nil {
		return err
	}
	if len(nums) == 0 {
		return NewFormulaError(ErrorCodeNum, "MODE has no numeric values")
	}

	frequencyMap := make(map[float64]int)
	maxFreq := 0
	for _, num := range nums {
		frequencyMap[num]++
		maxFreq = max(maxFreq, frequencyMap[num])
	}
	if maxFreq == 1 {
		return NewFormulaError(ErrorCodeNA, "MODE: no value appears more than once")
	}

	var modes []float64
	for value, freq := range frequencyMap {
		if freq == maxFreq {
			modes = append(modes, value)
		}
	}
	return slices.Min(modes)
}

// IF evaluates only the branch it takes. a missing else branch gives FALSE.
func (bf *BuiltInFunctions) IF(args []Thunk) Value {
	cond := args[0]()
	if err, ok := cond.(*FormulaError); ok {
		return err
	}
	if cond.(bool) {
		return args[1]()
	}
	if len(args) < 3 {
		return false
	}
	return args[2]()
}

// IFERROR returns its first argument unless that is an error.
func (bf *BuiltInFunctions) IFERROR(args []Thunk) Value {
	v := args[0]()
	if IsError(v) {
		return args[1]()
	}
	return v
}

// CHOOSE picks the index-th (1-based) choice and evaluates nothing else.
func (bf *BuiltInFunctions) CHOOSE(args []Thunk) Value {
	idx := args[0]()
	if err, ok := idx.(*FormulaError); ok {
		return err
	}
	i := int(idx.(float64))
	if i < 1 || i >= len(args) {
		return NewFormulaError(ErrorCodeValue, "CHOOSE index out of range")
	}
	return args[i]()
}

// logicalValues yields the logical values of one AND/OR argument. text and
// blanks inside ranges are ignored; a direct text argument must read TRUE or
// FALSE.
func logicalValues(arg Value) ([]bool, *FormulaError) {
	seq, ok := arg.(*Sequence)
	if !ok {
		if arg == nil {
			return nil, nil
		}
		b, err := toBoolean(arg)
		if err != nil {
			return nil, err
		}
		return []bool{b}, nil
	}
	var out []bool
	for v := range seq.IterateValues() {
		switch x := v.(type) {
		case *FormulaError:
			return nil, x
		case bool:
			out = append(out, x)
		case float64:
			out = append(out, x != 0)
		}
	}
	return out, nil
}

// AND stops at the first FALSE argument. no logical values gives #VALUE!.
func (bf *BuiltInFunctions) AND(args []Thunk) Value {
	seen := false
	for _, arg := range args {
		values, err := logicalValues(arg())
		if err != nil {
			return err
		}
		for _, b := range values {
			seen = true
			if !b {
				return false
			}
		}
	}
	if !seen {
		return NewFormulaError(ErrorCodeValue, "AND has no logical values")
	}
	return true
}

// OR stops at the first TRUE argument. no logical values gives #VALUE!.
func (bf *BuiltInFunctions) OR(args []Thunk) Value {
	seen := false
	for _, arg := range args {
		values, err := logicalValues(arg())
		if err != nil {
			return err
		}
		for _, b := range values {
			seen = true
			if b {
				return true
			}
		}
	}
	if !seen {
		return NewFormulaError(ErrorCodeValue, "OR has no logical values")
	}
	return false
}

func (bf *BuiltInFunctions) NOT(args []Value) Value {
	return !args[0].(bool)
}

func (bf *BuiltInFunctions) CONCATENATE(args []Value) Value {
	var b strings.Builder
	for _, arg := range args {
		b.WriteString(arg.(string))
	}
	return b.String()
}

// LEN counts characters, not bytes.
func (bf *BuiltInFunctions) LEN(args []Value) Value {
	return float64(len([]rune(args[0].(string))))
}

func (bf *BuiltInFunctions) UPPER(args []Value) Value {
	return strings.ToUpper(args[0].(string))
}

func (bf *BuiltInFunctions) LOWER(args []Value) Value {
	return strings.ToLower(args[0].(string))
}

// TRIM drops leading and trailing spaces and collapses inner runs to one.
func (bf *BuiltInFunctions) TRIM(args []Value) Value {
	return strings.Join(strings.Fields(args[0].(string)), " ")
}

func (bf *BuiltInFunctions) ABS(args []Value) Value {
	return math.Abs(args[0].(float64))
}

// ROUND rounds half away from zero to the given number of places, which may
// be negative.
func (bf *BuiltInFunctions) ROUND(args []Value) Value {
	num := args[0].(float64)
	places := 0.0
	if len(args) == 2 {
		places = math.Trunc(args[1].(float64))
	}
	multiplier := math.Pow(10, places)
	return numberResult(math.Round(num*multiplier) / multiplier)
}

func (bf *BuiltInFunctions) FLOOR(args []Value) Value {
	return math.Floor(args[0].(float64))
}

func (bf *BuiltInFunctions) CEILING(args []Value) Value {
	return math.Ceil(args[0].(float64))
}

func (bf *BuiltInFunctions) SQRT(args []Value) Value {
	num := args[0].(float64)
	if num < 0 {
		return NewFormulaError(ErrorCodeNum, "SQRT requires a non-negative argument")
	}
	return math.Sqrt(num)
}

func (bf *BuiltInFunctions) POWER(args []Value) Value {
	base, exp := args[0].(float64), args[1].(float64)
	if base == 0 && exp < 0 {
		return NewFormulaError(ErrorCodeDiv0, "zero raised to a negative power")
	}
	return numberResult(math.Pow(base, exp))
}

// MOD takes the sign of the divisor, as spreadsheets do.
func (bf *BuiltInFunctions) MOD(args []Value) Value {
	dividend, divisor := args[0].(float64), args[1].(float64)
	if divisor == 0 {
		return NewFormulaError(ErrorCodeDiv0, "Division by zero")
	}
	return numberResult(dividend - divisor*math.Floor(dividend/divisor))
}

func (bf *BuiltInFunctions) PI(args []Value) Value {
	return math.Pi
}

func (bf *BuiltInFunctions) SIN(args []Value) Value {
	return math.Sin(args[0].(float64))
}

func (bf *BuiltInFunctions) COS(args []Value) Value {
	return math.Cos(args[0].(float64))
}

func (bf *BuiltInFunctions) TAN(args []Value) Value {
	return numberResult(math.Tan(args[0].(float64)))
}

func (bf *BuiltInFunctions) EXP(args []Value) Value {
	return numberResult(math.Exp(args[0].(float64)))
}

func (bf *BuiltInFunctions) LN(args []Value) Value {
	num := args[0].(float64)
	if num <= 0 {
		return NewFormulaError(ErrorCodeNum, "LN requires a positive argument")
	}
	return math.Log(num)
}

func (bf *BuiltInFunctions) LOG10(args []Value) Value {
	num := args[0].(float64)
	if num <= 0 {
		return NewFormulaError(ErrorCodeNum, "LOG10 requires a positive argument")
	}
	return math.Log10(num)
}

// pairs returns the (x, y) points of a regression. a point is used only when
// both cells hold numbers; errors in either range propagate and differently
// shaped ranges give #VALUE!. only occupied slots of either range are
// visited, in row-major order.
func pairs(ys, xs *Sequence) ([]float64, []float64, *FormulaError) {
	if ys.Rows != xs.Rows || ys.Cols != xs.Cols {
		return nil, nil, NewFormulaError(ErrorCodeValue, "ranges have different shapes")
	}
	offsets := make([]int, 0, ys.Count()+xs.Count())
	for off := range ys.Entries() {
		offsets = append(offsets, off)
	}
	for off := range xs.Entries() {
		offsets = append(offsets, off)
	}
	slices.Sort(offsets)
	offsets = slices.Compact(offsets)

	var outX, outY []float64
	for _, off := range offsets {
		yv, xv := ys.atOffset(off), xs.atOffset(off)
		if err, ok := yv.(*FormulaError); ok {
			return nil, nil, err
		}
		if err, ok := xv.(*FormulaError); ok {
			return nil, nil, err
		}
		y, okY := yv.(float64)
		x, okX := xv.(float64)
		if okX && okY {
			outX = append(outX, x)
			outY = append(outY, y)
		}
	}
	if len(outX) < 2 {
		return nil, nil, NewFormulaError(ErrorCodeDiv0, "not enough numeric pairs")
	}
	return outX, outY, nil
}

// regression returns the least squares slope and intercept.
func regression(ys, xs *Sequence) (float64, float64, *FormulaError) {
	x, y, err := pairs(ys, xs)
	if err != nil {
		return 0, 0, err
	}
	var meanX, meanY float64
	for i := range x {
		meanX += x[i]
		meanY += y[i]
	}
	meanX /= float64(len(x))
	meanY /= float64(len(y))

	var num, den float64
	for i := range x {
		num += (x[i] - meanX) * (y[i] - meanY)
		den += (x[i] - meanX) * (x[i] - meanX)
	}
	slope := 0.0
	if den != 0 {
		slope = num / den
	}
	return slope, meanY - slope*meanX, nil
}

// SLOPE(known_ys, known_xs) of the least squares line.
func (bf *BuiltInFunctions) SLOPE(args []Value) Value {
	slope, _, err := regression(args[0].(*Sequence), args[1].(*Sequence))
	if err != nil {
		return err
	}
	return slope
}

// INTERCEPT(known_ys, known_xs) of the least squares line.
func (bf *BuiltInFunctions) INTERCEPT(args []Value) Value {
	_, intercept, err := regression(args[0].(*Sequence), args[1].(*Sequence))
	if err != nil {
		return err
	}
	return intercept
}

// CUMIPMT(rate, nper, pv, end_period) is the interest paid on a fixed-payment
// loan from the first period through end_period, as a negative number.
// payments fall at the end of each period.
func (bf *BuiltInFunctions) CUMIPMT(args []Value) Value {
	rate, nper, pv := args[0].(float64), args[1].(float64), args[2].(float64)
	end := int(args[3].(float64))
	if nper <= 0 || end < 1 || float64(end) > nper {
		return NewFormulaError(ErrorCodeNum, "CUMIPMT period out of range")
	}
	if rate == 0 {
		return 0.0
	}

	payment := pv * rate / (1 - math.Pow(1+rate, -nper))
	balance := pv
	interest := 0.0
	for p := 1; p <= end; p++ {
		periodInterest := balance * rate
		interest += periodInterest
		balance = balance + periodInterest - payment
	}
	return numberResult(-interest)
}

// NOW is the current time as a serial day number.
func (bf *BuiltInFunctions) NOW(args []Value) Value {
	now := bf.clock.Now()
	diffMs := float64(now.UnixMilli() - EXCEL_EPOCH_MS)
	return diffMs / MS_PER_DAY
}

// TODAY is the serial day number of the current date.
func (bf *BuiltInFunctions) TODAY(args []Value) Value {
	now := bf.clock.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	diffMs := float64(midnight.UnixMilli() - EXCEL_EPOCH_MS)
	return math.Floor(diffMs / MS_PER_DAY)
}

func (bf *BuiltInFunctions) RAND(args []Value) Value {
	return bf.rng.Float64()
}
