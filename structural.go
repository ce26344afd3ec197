package formula

import (
	"log/slog"
	"slices"
)

// movePlan is what a structural edit does to one formula entry.
type movePlan struct {
	entry   *FormulaEntry
	key     NodeKey
	dropped bool
	text    string
	ast     ASTNode
	deps    []Dependency
}

func (mp *movePlan) touched() bool {
	return mp.dropped || mp.key != mp.entry.Key || mp.text != mp.entry.Text
}

// ApplyStructuralEdit inserts, removes or reorders rows or columns of a
// sheet. cell values and formulas move, every reference to the moved area is
// rewritten, and formulas reading the area are recalculated. an invalid edit,
// or an insert that would push a value or a reference past the grid edge,
// returns an error and changes nothing.
func (e *Engine) ApplyStructuralEdit(edit StructuralEdit) error {
	if err := edit.Validate(); err != nil {
		return err
	}
	if !e.store.SheetDefined(edit.Sheet) {
		return wrapError(NotFound, ErrSheetNotFound, "%s: sheet %d", edit.Op, edit.Sheet)
	}
	if band, ok := edit.overflow(); ok {
		if n := e.store.RegionValues(band).Count(); n > 0 {
			return wrapError(OutOfRange, ErrInvalidEdit, "%s: %d cells would be pushed off the grid", edit.Op, n)
		}
	}
	affected := edit.Affected()

	plans := make([]*movePlan, 0, e.formulas.Len())
	byOldKey := make(map[NodeKey]*movePlan)
	for _, entry := range e.formulas.All() {
		plan, err := e.planMove(entry, edit)
		if err != nil {
			return err
		}
		plans = append(plans, plan)
		byOldKey[entry.Key] = plan
	}
	readers := e.graph.DependentsOfRegion(affected)

	// nothing is mutated above this line
	e.store.MoveCells(edit)
	var moved, rewritten, dropped int
	for _, plan := range plans {
		if plan.touched() {
			e.formulas.Remove(plan.entry.Key)
			e.graph.ClearPrecedents(plan.entry.Key)
		}
	}
	seeds := e.seeds()
	for _, plan := range plans {
		switch {
		case plan.dropped:
			dropped++
			continue
		case !plan.touched():
			continue
		}
		if plan.key != plan.entry.Key {
			moved++
		}
		if plan.text != plan.entry.Text {
			rewritten++
		}
		e.formulas.Put(&FormulaEntry{
			Key:      plan.key,
			Text:     plan.text,
			AST:      plan.ast,
			Value:    plan.entry.Value,
			Volatile: containsVolatile(plan.ast, e.functions),
		})
		e.graph.SetPrecedents(plan.key, plan.deps)
		seeds.force(plan.key)
	}
	for _, k := range readers {
		if plan, ok := byOldKey[k]; ok && !plan.dropped {
			seeds.force(plan.key)
		}
	}
	for _, k := range e.graph.DependentsOfRegion(affected) {
		seeds.force(k)
	}

	name, _ := e.store.SheetName(edit.Sheet)
	e.logger.Info("structural edit",
		slog.String("op", edit.Op.String()),
		slog.String("sheet", name),
		slog.Int("index", edit.Index),
		slog.Int("count", edit.Count),
		slog.Int("moved", moved),
		slog.Int("rewritten", rewritten),
		slog.Int("dropped", dropped))
	e.flush()
	return nil
}

// planMove works out where entry ends up and what its text becomes. the
// rewritten text is reparsed here so a failure is reported before anything
// changes.
func (e *Engine) planMove(entry *FormulaEntry, edit StructuralEdit) (*movePlan, error) {
	plan := &movePlan{entry: entry, key: entry.Key, text: entry.Text, ast: entry.AST}
	follow := false
	sheet := e.defaultSheet
	if !entry.Key.IsVariable() {
		to, ok := edit.TranslateAddress(entry.Key.Addr)
		if !ok && edit.inserts() {
			return nil, wrapError(OutOfRange, ErrInvalidEdit, "%s: %s would be pushed off the grid", edit.Op, e.describeKey(entry.Key))
		}
		if !ok {
			plan.dropped = true
			return plan, nil
		}
		plan.key = CellKey(to)
		sheet = to.Sheet
		follow = edit.Op == Permute && edit.Affected().Contains(entry.Key.Addr)
	}

	if ref, ok := pushedOff(entry.AST, edit); ok {
		return nil, wrapError(OutOfRange, ErrInvalidEdit, "%s: %s in %s would be pushed off the grid", edit.Op, ref, e.describeKey(entry.Key))
	}
	text, changed := rewriteReferences(entry.Text, entry.AST, edit, follow)
	if changed {
		ast, err := Parse(text, e.parserContext(sheet))
		if err != nil {
			return nil, wrapError(Internal, err, "%s: rewriting %s as %q", edit.Op, e.describeKey(entry.Key), text)
		}
		plan.text, plan.ast = text, ast
	}
	if plan.touched() {
		plan.deps = translateDependencies(e.graph.Precedents(entry.Key), edit, follow)
	}
	return plan, nil
}

// pushedOff returns the first reference in ast that an insert would move
// past the grid edge.
func pushedOff(ast ASTNode, edit StructuralEdit) (string, bool) {
	if !edit.inserts() {
		return "", false
	}
	var found string
	Walk(ast, func(node ASTNode) {
		if found != "" {
			return
		}
		switch n := node.(type) {
		case *CellRefNode:
			if _, ok := edit.TranslateAddress(n.Ref.Address()); !ok {
				found = n.Ref.String()
			}
		case *RangeNode:
			if _, ok := edit.TranslateRegion(n.Region()); !ok {
				found = n.Start.String() + ":" + n.End.render()
			}
		}
	})
	return found, found != ""
}

// rewriteReferences splices translated reference text into the formula.
// only references whose coordinates change are rewritten, so the rest of
// the text keeps its spelling. a reference that no longer exists becomes
// #REF!.
//
// for a Permute, single-cell references into the block are redirected only
// when follow is set, i.e. the formula itself moves with the block.
func rewriteReferences(text string, ast ASTNode, edit StructuralEdit, follow bool) (string, bool) {
	type splice struct {
		pos  NodePosition
		with string
	}
	var splices []splice
	Walk(ast, func(node ASTNode) {
		switch n := node.(type) {
		case *CellRefNode:
			ref, ok := translateReference(n.Ref, edit, follow)
			switch {
			case !ok:
				splices = append(splices, splice{n.Position, ErrorMapper[ErrorCodeRef]})
			case ref != n.Ref:
				splices = append(splices, splice{n.Position, ref.String()})
			}
		case *RangeNode:
			start, end, ok := translateRange(n, edit)
			switch {
			case !ok:
				splices = append(splices, splice{n.Position, ErrorMapper[ErrorCodeRef]})
			case start != n.Start || end != n.End:
				splices = append(splices, splice{n.Position, start.String() + ":" + end.render()})
			}
		}
	})
	if len(splices) == 0 {
		return text, false
	}
	slices.SortFunc(splices, func(a, b splice) int { return b.pos.Start - a.pos.Start })
	runes := []rune(text)
	for _, s := range splices {
		runes = slices.Concat(runes[:s.pos.Start], []rune(s.with), runes[s.pos.End:])
	}
	return string(runes), true
}

func translateReference(ref Reference, edit StructuralEdit, follow bool) (Reference, bool) {
	if edit.Op == Permute && !follow {
		return ref, true
	}
	to, ok := edit.TranslateAddress(ref.Address())
	if !ok {
		return ref, false
	}
	ref.Row, ref.Col = to.Row, to.Col
	return ref, true
}

// translateRange moves both corners of a range, keeping the corner order
// the formula was written with.
func translateRange(n *RangeNode, edit StructuralEdit) (Reference, Reference, bool) {
	r, ok := edit.TranslateRegion(n.Region())
	if !ok {
		return n.Start, n.End, false
	}
	start, end := n.Start, n.End
	if start.Row <= end.Row {
		start.Row, end.Row = r.Top, r.Bottom
	} else {
		start.Row, end.Row = r.Bottom, r.Top
	}
	if start.Col <= end.Col {
		start.Col, end.Col = r.Left, r.Right
	} else {
		start.Col, end.Col = r.Right, r.Left
	}
	return start, end, true
}

// translateDependencies carries a moved entry's edges over until it is
// re-evaluated. reads of cells that no longer exist are dropped.
func translateDependencies(deps []Dependency, edit StructuralEdit, follow bool) []Dependency {
	out := make([]Dependency, 0, len(deps))
	for _, dep := range deps {
		switch dep.Kind {
		case DepCell:
			if edit.Op == Permute && !follow {
				out = append(out, dep)
				continue
			}
			if to, ok := edit.TranslateAddress(dep.Cell()); ok {
				out = append(out, CellDependency(to))
			}
		case DepRegion:
			if r, ok := edit.TranslateRegion(dep.Region); ok {
				out = append(out, RegionDependency(r))
			}
		default:
			out = append(out, dep)
		}
	}
	return out
}
