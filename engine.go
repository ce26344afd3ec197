package formula

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Engine ties the formula table, the dependency graph and a CellStore
// together and keeps every formula value current as cells change.
//
// an Engine is not safe for concurrent use; callers serialize edits.
type Engine struct {
	store     CellStore
	functions *FunctionRegistry
	formulas  *FormulaTable
	graph     *DependencyGraph
	logger    *slog.Logger
	clock     Clock
	rng       RandomGenerator

	defaultSheet SheetID
	batchDepth   int
	pending      *seedSet
	pass         *recalcPass
}

var _ Environment = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. the default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithFunctions replaces the built-in function registry.
func WithFunctions(functions *FunctionRegistry) Option {
	return func(e *Engine) { e.functions = functions }
}

// WithStore computes over store instead of a fresh single-sheet workbook.
func WithStore(store CellStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithClock sets the clock behind NOW and TODAY.
func WithClock(clock Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithRandom sets the generator behind RAND.
func WithRandom(rng RandomGenerator) Option {
	return func(e *Engine) { e.rng = rng }
}

// New creates an engine. without WithStore it starts with one sheet named
// "Sheet1".
func New(opts ...Option) *Engine {
	e := &Engine{
		formulas: NewFormulaTable(),
		graph:    NewDependencyGraph(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.store == nil {
		e.store = NewWorkbook("Sheet1")
	}
	if e.functions == nil {
		e.functions = NewBuiltinRegistry(e.clock, e.rng)
	}
	if sheets := e.store.Sheets(); len(sheets) > 0 {
		e.defaultSheet = sheets[0]
	} else {
		e.defaultSheet, _ = e.store.AddSheet("Sheet1")
	}
	e.store.OnValueChanged(e.onValueChanged)
	return e
}

// Functions returns the registry used for evaluation. custom functions may
// be registered on it at any time.
func (e *Engine) Functions() *FunctionRegistry {
	return e.functions
}

// Store returns the underlying cell store.
func (e *Engine) Store() CellStore {
	return e.store
}

// DefaultSheet is the sheet unqualified addresses resolve to.
func (e *Engine) DefaultSheet() SheetID {
	return e.defaultSheet
}

// sheet methods

// AddSheet defines a new sheet. formulas that already referenced the name
// are recalculated.
func (e *Engine) AddSheet(name string) (SheetID, error) {
	id, err := e.store.AddSheet(name)
	if err != nil {
		return id, err
	}
	readers := e.graph.ReadersOfSheet(id)
	seeds := e.seeds()
	for _, k := range readers {
		seeds.force(k)
	}
	e.logger.Info("sheet added", slog.String("sheet", name), slog.Int("readers", len(readers)))
	e.flush()
	return id, nil
}

// Sheet returns the ID of a defined sheet.
func (e *Engine) Sheet(name string) (SheetID, error) {
	id, ok := e.store.LookupSheet(name)
	if !ok {
		return 0, wrapError(NotFound, ErrSheetNotFound, "sheet '%s'", name)
	}
	return id, nil
}

// SheetNames lists defined sheets in creation order.
func (e *Engine) SheetNames() []string {
	ids := e.store.Sheets()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		name, _ := e.store.SheetName(id)
		out = append(out, name)
	}
	return out
}

func (e *Engine) checkAddress(addr Address) error {
	if !e.store.SheetDefined(addr.Sheet) {
		return wrapError(NotFound, ErrSheetNotFound, "sheet %d", addr.Sheet)
	}
	if !ValidCoordinate(addr.Row, addr.Col) {
		return wrapError(OutOfRange, ErrInvalidAddress, "row %d, column %d", addr.Row, addr.Col)
	}
	return nil
}

func (e *Engine) parserContext(sheet SheetID) *ParserContext {
	return &ParserContext{Sheet: sheet, ResolveSheet: e.store.ResolveSheet}
}

// lookupContext resolves only sheets that exist, for addresses typed by a
// caller rather than formula text.
func (e *Engine) lookupContext() *ParserContext {
	return &ParserContext{
		Sheet: e.defaultSheet,
		ResolveSheet: func(name string) SheetID {
			id, _ := e.store.LookupSheet(name)
			return id
		},
	}
}

// cell methods

// SetFormula installs a formula at addr. text must start with '='. a parse
// failure returns the *ParseError and leaves the cell as it was.
func (e *Engine) SetFormula(addr Address, text string) error {
	if err := e.checkAddress(addr); err != nil {
		return err
	}
	ast, err := Parse(text, e.parserContext(addr.Sheet))
	if err != nil {
		return err
	}
	key := CellKey(addr)
	e.graph.ClearPrecedents(key)
	e.formulas.Put(&FormulaEntry{
		Key:      key,
		Text:     text,
		AST:      ast,
		Value:    e.store.GetValue(addr),
		Volatile: containsVolatile(ast, e.functions),
	})
	e.logger.Debug("formula set", slog.String("cell", e.describeKey(key)), slog.String("text", text))
	e.seeds().force(key)
	e.flush()
	return nil
}

// SetValue writes a plain value, replacing any formula at addr.
func (e *Engine) SetValue(addr Address, value any) error {
	if err := e.checkAddress(addr); err != nil {
		return err
	}
	v, ok := NormalizeValue(value)
	if !ok {
		return wrapError(InvalidArgument, ErrInvalidValue, "%T at %s", value, e.describeKey(CellKey(addr)))
	}
	if v == nil {
		e.store.ClearValue(addr)
		return nil
	}
	e.store.SetValue(addr, v)
	return nil
}

// Clear empties every cell of region, formulas included. dependents read
// empty afterwards.
func (e *Engine) Clear(region Region) error {
	if !e.store.SheetDefined(region.Sheet) {
		return wrapError(NotFound, ErrSheetNotFound, "sheet %d", region.Sheet)
	}
	targets := make(map[Address]struct{})
	for addr := range e.store.Cells(region.Sheet) {
		if region.Contains(addr) {
			targets[addr] = struct{}{}
		}
	}
	for _, entry := range e.formulas.InRegion(region) {
		targets[entry.Key.Addr] = struct{}{}
	}
	if len(targets) == 0 {
		return nil
	}
	e.BeginBatch()
	for addr := range targets {
		e.store.ClearValue(addr)
	}
	return e.EndBatch()
}

// onValueChanged seeds a pass for a plain write, whether it came through the
// engine or straight into the store. a formula overwritten by a plain value
// is dropped.
func (e *Engine) onValueChanged(addr Address) {
	key := CellKey(addr)
	if _, ok := e.formulas.Remove(key); ok {
		e.graph.ClearPrecedents(key)
	}
	e.seeds().valueChanged(key)
	e.flush()
}

// variable methods

func validVariableName(name string) bool {
	if name == "" {
		return false
	}
	for i, ch := range name {
		if !isNameChar(ch) || (i == 0 && isDigit(ch)) {
			return false
		}
	}
	if _, _, isCell := parseA1(name); isCell {
		return false
	}
	upper := strings.ToUpper(name)
	return upper != "TRUE" && upper != "FALSE"
}

// SetVariable defines a workbook variable. text starting with '=' installs
// a formula, e.g. "=10" or a named range "=Sheet1!A2:A4"; anything else is a
// plain value. names are case-insensitive.
func (e *Engine) SetVariable(name string, value any) error {
	if !validVariableName(name) {
		return wrapError(InvalidArgument, ErrInvalidName, "'%s'", name)
	}
	key := VariableKey(name)
	if text, ok := value.(string); ok && IsFormula(text) {
		ast, err := Parse(text, e.parserContext(e.defaultSheet))
		if err != nil {
			return err
		}
		prev, _ := e.GetVariable(name)
		e.store.SetVariableValue(name, prev)
		e.graph.ClearPrecedents(key)
		e.formulas.Put(&FormulaEntry{
			Key:      key,
			Text:     text,
			AST:      ast,
			Value:    prev,
			Volatile: containsVolatile(ast, e.functions),
		})
		e.seeds().force(key)
		e.flush()
		return nil
	}
	v, ok := NormalizeValue(value)
	if !ok {
		return wrapError(InvalidArgument, ErrInvalidValue, "%T for '%s'", value, name)
	}
	if _, ok := e.formulas.Remove(key); ok {
		e.graph.ClearPrecedents(key)
	}
	e.store.SetVariableValue(name, v)
	e.seeds().valueChanged(key)
	e.flush()
	return nil
}

// ClearVariable forgets a variable. formulas reading it turn #NAME?.
func (e *Engine) ClearVariable(name string) error {
	key := VariableKey(name)
	_, stored := e.store.GetVariable(name)
	_, hasFormula := e.formulas.Remove(key)
	if !stored && !hasFormula {
		return wrapError(NotFound, ErrVariableMissing, "'%s'", name)
	}
	e.graph.ClearPrecedents(key)
	e.store.ClearVariable(name)
	e.seeds().valueChanged(key)
	e.flush()
	return nil
}

// GetVariable returns the current value of a variable. a named range
// returns its *Sequence.
func (e *Engine) GetVariable(name string) (Value, bool) {
	if entry, ok := e.formulas.Get(VariableKey(name)); ok {
		return entry.Value, true
	}
	return e.store.GetVariable(name)
}

// VariableNames lists every defined variable as first written.
func (e *Engine) VariableNames() []string {
	return e.store.VariableNames()
}

// batching

// BeginBatch defers recalculation until the matching EndBatch. batches
// nest; one pass runs when the outermost batch closes.
func (e *Engine) BeginBatch() {
	e.batchDepth++
}

// EndBatch closes a batch opened with BeginBatch.
func (e *Engine) EndBatch() error {
	if e.batchDepth == 0 {
		return wrapError(FailedPrecondition, ErrBatchNotOpen, "EndBatch without BeginBatch")
	}
	e.batchDepth--
	e.flush()
	return nil
}

// Batch runs fn inside a batch. the batch is closed even when fn fails.
func (e *Engine) Batch(fn func() error) error {
	e.BeginBatch()
	err := fn()
	if endErr := e.EndBatch(); err == nil {
		err = endErr
	}
	return err
}

func (e *Engine) seeds() *seedSet {
	if e.pending == nil {
		e.pending = newSeedSet()
	}
	return e.pending
}

// flush runs the pending pass unless a batch or a pass is open.
func (e *Engine) flush() {
	if e.batchDepth > 0 || e.pass != nil || e.pending == nil {
		return
	}
	seeds := e.pending
	e.pending = nil
	e.recalculate(seeds)
}

// recalculation

// Recalculate re-evaluates every formula.
func (e *Engine) Recalculate() {
	seeds := e.seeds()
	for _, entry := range e.formulas.All() {
		seeds.force(entry.Key)
	}
	e.flush()
}

// Evaluate computes formula text against the current workbook without
// installing it. unqualified references resolve to sheet.
func (e *Engine) Evaluate(text string, sheet SheetID) (Value, error) {
	ast, err := Parse(text, e.parserContext(sheet))
	if err != nil {
		return nil, err
	}
	v, _ := Evaluate(ast, e, e.functions)
	return v, nil
}

// Environment

func (e *Engine) CellValue(addr Address) Value {
	if e.pass != nil {
		if v := e.pass.read(CellKey(addr)); v != nil {
			return v
		}
	}
	return e.store.GetValue(addr)
}

func (e *Engine) RegionValues(region Region) *Sequence {
	if e.pass != nil {
		for _, entry := range e.formulas.InRegion(region) {
			if v := e.pass.read(entry.Key); v != nil {
				return SequenceOf(1, 1, v)
			}
		}
	}
	return e.store.RegionValues(region)
}

func (e *Engine) VariableValue(name string) (Value, bool) {
	key := VariableKey(name)
	if e.pass != nil {
		if v := e.pass.read(key); v != nil {
			return v, true
		}
	}
	if entry, ok := e.formulas.Get(key); ok {
		return entry.Value, true
	}
	return e.store.GetVariable(name)
}

func (e *Engine) SheetDefined(id SheetID) bool {
	return e.store.SheetDefined(id)
}

// queries

// GetValue returns the stored value at addr; formulas report their last
// computed value.
func (e *Engine) GetValue(addr Address) Value {
	return e.store.GetValue(addr)
}

// GetFormulaText returns the formula text at addr as entered, or as
// rewritten by structural edits.
func (e *Engine) GetFormulaText(addr Address) (string, bool) {
	entry, ok := e.formulas.Get(CellKey(addr))
	if !ok {
		return "", false
	}
	return entry.Text, true
}

// GetVariableFormula returns the formula text of a variable, if it has one.
func (e *Engine) GetVariableFormula(name string) (string, bool) {
	entry, ok := e.formulas.Get(VariableKey(name))
	if !ok {
		return "", false
	}
	return entry.Text, true
}

// State returns the recalculation state of the formula at addr.
func (e *Engine) State(addr Address) (FormulaState, bool) {
	entry, ok := e.formulas.Get(CellKey(addr))
	if !ok {
		return Clean, false
	}
	return entry.State, true
}

// GetDirectDependents returns the formula cells that read any cell of
// region, sorted by (sheet, row, column).
func (e *Engine) GetDirectDependents(region Region) []Address {
	var out []Address
	for _, k := range e.graph.DependentsOfRegion(region) {
		if !k.IsVariable() {
			out = append(out, k.Addr)
		}
	}
	return out
}

// Precedents returns what the formula at addr read on its last evaluation.
func (e *Engine) Precedents(addr Address) []Dependency {
	return e.graph.Precedents(CellKey(addr))
}

// HasDependents reports whether any formula reads addr.
func (e *Engine) HasDependents(addr Address) bool {
	return e.graph.HasDependents(addr)
}

// FormulaCount returns the number of installed formulas, variable
// formulas included.
func (e *Engine) FormulaCount() int {
	return e.formulas.Len()
}

// FormulaCells returns the cells on sheet holding a formula, sorted.
func (e *Engine) FormulaCells(sheet SheetID) []Address {
	entries := e.formulas.OnSheet(sheet)
	out := make([]Address, len(entries))
	for i, entry := range entries {
		out[i] = entry.Key.Addr
	}
	return out
}

// string conveniences

// ParseAddress parses "B2" or "Sheet2!B2". unqualified addresses are on the
// default sheet.
func (e *Engine) ParseAddress(s string) (Address, error) {
	region, err := e.ParseRegion(s)
	if err != nil {
		return Address{}, err
	}
	if !region.IsCell() {
		return Address{}, wrapError(InvalidArgument, ErrInvalidAddress, "'%s' is a range, not a cell", s)
	}
	return region.TopLeft(), nil
}

// ParseRegion parses "A1:B3" or a single address into a region.
func (e *Engine) ParseRegion(s string) (Region, error) {
	region, err := ParseRegion(s, e.lookupContext())
	if err != nil {
		return Region{}, wrapError(InvalidArgument, ErrInvalidAddress, "'%s': %v", s, err)
	}
	return region, nil
}

// Set writes value at an A1 address. text starting with '=' is installed
// as a formula.
func (e *Engine) Set(address string, value any) error {
	addr, err := e.ParseAddress(address)
	if err != nil {
		return err
	}
	if text, ok := value.(string); ok && IsFormula(text) {
		return e.SetFormula(addr, text)
	}
	return e.SetValue(addr, value)
}

// Get reads the value at an A1 address.
func (e *Engine) Get(address string) (Value, error) {
	addr, err := e.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return e.GetValue(addr), nil
}

// FormatAddress renders addr with its sheet qualifier.
func (e *Engine) FormatAddress(addr Address) string {
	name, ok := e.store.SheetName(addr.Sheet)
	if !ok {
		return fmt.Sprintf("#%d!%s", addr.Sheet, addr)
	}
	return QuoteSheetName(name) + addr.String()
}

func (e *Engine) describeKey(k NodeKey) string {
	if k.IsVariable() {
		return k.Variable
	}
	return e.FormatAddress(k.Addr)
}
