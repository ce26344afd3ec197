package formula

import (
	"log/slog"
	"slices"
	"time"
)

// seedSet accumulates what changed since the last pass.
type seedSet struct {
	keys map[NodeKey]struct{}
	// changed holds plain cells and variables whose stored value changed.
	changed map[NodeKey]struct{}
	// forced formulas are evaluated even if nothing they read changed:
	// newly set, rewritten by an edit, or reading a sheet that appeared.
	forced map[NodeKey]struct{}
}

func newSeedSet() *seedSet {
	return &seedSet{
		keys:    make(map[NodeKey]struct{}),
		changed: make(map[NodeKey]struct{}),
		forced:  make(map[NodeKey]struct{}),
	}
}

func (s *seedSet) valueChanged(k NodeKey) {
	s.keys[k] = struct{}{}
	s.changed[k] = struct{}{}
}

func (s *seedSet) force(k NodeKey) {
	s.keys[k] = struct{}{}
	s.forced[k] = struct{}{}
}

func (s *seedSet) empty() bool {
	return len(s.keys) == 0
}

// CalculationStack is the chain of formulas currently being evaluated,
// innermost last.
type CalculationStack struct {
	items      []NodeKey
	processing map[NodeKey]int // key -> index in items
}

func NewCalculationStack() *CalculationStack {
	return &CalculationStack{processing: make(map[NodeKey]int)}
}

func (cs *CalculationStack) push(k NodeKey) {
	cs.processing[k] = len(cs.items)
	cs.items = append(cs.items, k)
}

func (cs *CalculationStack) pop() (NodeKey, bool) {
	if len(cs.items) == 0 {
		return NodeKey{}, false
	}
	k := cs.items[len(cs.items)-1]
	cs.items = cs.items[:len(cs.items)-1]
	delete(cs.processing, k)
	return k, true
}

// segment returns the keys from k to the top of the stack.
func (cs *CalculationStack) segment(k NodeKey) []NodeKey {
	idx, ok := cs.processing[k]
	if !ok {
		return nil
	}
	return slices.Clone(cs.items[idx:])
}

// recalcPass is one run over a dirty set. every formula is evaluated at
// most once; reading a dirty formula evaluates it on the spot, so the order
// follows the edges realized during the pass rather than the stale ones.
type recalcPass struct {
	e        *Engine
	stack    *CalculationStack
	changed  map[NodeKey]struct{}
	forced   map[NodeKey]struct{}
	seen     map[NodeKey]struct{}
	checking map[NodeKey]struct{}
	queue    []NodeKey

	evaluated int
	skipped   int
	cycles    int
}

// recalculate runs one pass over the closure of seeds and every volatile
// formula.
func (e *Engine) recalculate(seeds *seedSet) {
	if seeds.empty() && len(e.formulas.Volatile()) == 0 {
		return
	}
	start := time.Now()

	keys := make([]NodeKey, 0, len(seeds.keys))
	for k := range seeds.keys {
		keys = append(keys, k)
	}
	for _, k := range e.formulas.Volatile() {
		keys = append(keys, k)
		seeds.forced[k] = struct{}{}
	}

	p := &recalcPass{
		e:        e,
		stack:    NewCalculationStack(),
		changed:  seeds.changed,
		forced:   seeds.forced,
		seen:     make(map[NodeKey]struct{}),
		checking: make(map[NodeKey]struct{}),
	}
	for _, k := range e.graph.Closure(keys) {
		if entry, ok := e.formulas.Get(k); ok {
			entry.State = Dirty
			p.queue = append(p.queue, k)
		}
	}

	e.pass = p
	for len(p.queue) > 0 {
		k := p.queue[0]
		p.queue = p.queue[1:]
		if entry, ok := e.formulas.Get(k); ok {
			p.visit(entry)
		}
	}
	e.pass = nil

	e.logger.Debug("recalculated",
		slog.Int("seeds", len(seeds.keys)),
		slog.Int("evaluated", p.evaluated),
		slog.Int("skipped", p.skipped),
		slog.Int("cycles", p.cycles),
		slog.Duration("elapsed", time.Since(start)))
}

// visit settles a dirty entry, evaluating it only if something it read last
// time may have changed.
func (p *recalcPass) visit(entry *FormulaEntry) {
	k := entry.Key
	if entry.State != Dirty {
		return
	}
	if _, busy := p.checking[k]; busy {
		return
	}
	p.checking[k] = struct{}{}
	need := p.needsEvaluation(entry)
	delete(p.checking, k)

	if entry.State != Dirty {
		return
	}
	if !need {
		entry.State = Clean
		p.seen[k] = struct{}{}
		p.skipped++
		return
	}
	p.evaluate(entry)
}

// pull is how a read reaches a dirty entry. an entry that is mid-check
// cannot be skipped any more and is evaluated outright.
func (p *recalcPass) pull(entry *FormulaEntry) {
	if entry.State != Dirty {
		return
	}
	if _, busy := p.checking[entry.Key]; busy {
		p.evaluate(entry)
		return
	}
	p.visit(entry)
}

// needsEvaluation reports whether any previous read of entry may now give
// a different value. precedent formulas are settled first.
func (p *recalcPass) needsEvaluation(entry *FormulaEntry) bool {
	if _, ok := p.forced[entry.Key]; ok || entry.Volatile {
		return true
	}
	for _, dep := range p.e.graph.Precedents(entry.Key) {
		switch dep.Kind {
		case DepCell:
			if p.keyChanged(CellKey(dep.Cell())) {
				return true
			}
		case DepVariable:
			if p.keyChanged(VariableKey(dep.Variable)) {
				return true
			}
		case DepRegion:
			for k := range p.changed {
				if !k.IsVariable() && dep.Region.Contains(k.Addr) {
					return true
				}
			}
			for _, inner := range p.e.formulas.InRegion(dep.Region) {
				if p.keyChanged(inner.Key) {
					return true
				}
			}
		}
	}
	return false
}

// keyChanged settles the formula at k, if any, and reports whether its value
// changed or cannot be known yet.
func (p *recalcPass) keyChanged(k NodeKey) bool {
	if _, ok := p.changed[k]; ok {
		return true
	}
	entry, ok := p.e.formulas.Get(k)
	if !ok {
		return false
	}
	p.visit(entry)
	if _, ok := p.changed[k]; ok {
		return true
	}
	return entry.State != Clean
}

// evaluate walks the entry's tree, installs the realized edges and stores
// the result. a changed result re-dirties dependents not yet seen.
func (p *recalcPass) evaluate(entry *FormulaEntry) {
	e := p.e
	k := entry.Key
	entry.State = Evaluating
	p.stack.push(k)
	value, reads := Evaluate(entry.AST, e, e.functions)
	p.stack.pop()
	p.evaluated++
	p.seen[k] = struct{}{}

	if entry.State == CircularError {
		value = NewFormulaError(ErrorCodeCircular, "circular reference")
	} else {
		entry.State = Clean
	}
	if !k.IsVariable() {
		value = storedValue(value)
	}

	e.graph.SetPrecedents(k, reads.Items())
	old := entry.Value
	entry.Value = value
	if k.IsVariable() {
		e.store.SetVariableValue(k.Variable, value)
	} else {
		e.store.SetComputedValue(k.Addr, value)
	}
	if sameValue(old, value) {
		return
	}
	p.changed[k] = struct{}{}
	for _, d := range e.graph.DirectDependents(k) {
		if _, done := p.seen[d]; done {
			continue
		}
		if de, ok := e.formulas.Get(d); ok && de.State == Clean {
			de.State = Dirty
			p.queue = append(p.queue, d)
		}
	}
}

// cycle marks every entry from k to the top of the stack as circular.
func (p *recalcPass) cycle(k NodeKey) {
	segment := p.stack.segment(k)
	for _, key := range segment {
		if entry, ok := p.e.formulas.Get(key); ok {
			entry.State = CircularError
		}
	}
	p.cycles++
	names := make([]string, len(segment))
	for i, key := range segment {
		names[i] = p.e.describeKey(key)
	}
	p.e.logger.Warn("circular reference", slog.Any("cycle", names))
}

// read resolves the formula at k, if any, before its value is used. it
// returns a non-nil value when the read closes a cycle.
func (p *recalcPass) read(k NodeKey) Value {
	entry, ok := p.e.formulas.Get(k)
	if !ok {
		return nil
	}
	switch entry.State {
	case Dirty:
		p.pull(entry)
	case Evaluating:
		p.cycle(k)
		return NewFormulaError(ErrorCodeCircular, "circular reference")
	}
	return nil
}
