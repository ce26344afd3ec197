// Package script loads workbook scripts written in HCL and applies them to
// a formula.Engine.
//
//	sheet "Sheet1" {
//	  cell "A1" { value = 10 }
//	  cell "A2" { formula = "=A1*2" }
//	}
//	variable "rate" { value = 0.2 }
//	edit "insert_rows" {
//	  sheet = "Sheet1"
//	  index = 0
//	  count = 1
//	}
//	output = ["Sheet1!A3", "rate", "SUM(Sheet1!A1:A3)"]
//
// cells and variables are written inside one batch; edits run afterwards in
// file order. outputs are formula expressions evaluated once everything is
// applied.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/vogtb/go-spreadsheet/packages/formula/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
)

// Script is a decoded workbook script.
type Script struct {
	Filename  string
	Sheets    []Sheet
	Variables []Variable
	Edits     []Edit
	Outputs   []string
}

type Sheet struct {
	Name  string
	Cells []Cell
}

// Cell holds either a plain Value or Formula text.
type Cell struct {
	Address string
	Value   formula.Value
	Formula string
}

type Variable struct {
	Name    string
	Value   formula.Value
	Formula string
}

// Edit is a structural edit by sheet name. Range and Order are used by
// permute only.
type Edit struct {
	Op    formula.EditOp
	Sheet string
	Index int
	Count int
	Range string
	Order []int
}

// hcl schema

type hclFile struct {
	Sheets    []*hclSheet    `hcl:"sheet,block"`
	Variables []*hclVariable `hcl:"variable,block"`
	Edits     []*hclEdit     `hcl:"edit,block"`
	Output    []string       `hcl:"output,optional"`
}

type hclSheet struct {
	Name  string     `hcl:"name,label"`
	Cells []*hclCell `hcl:"cell,block"`
}

type hclCell struct {
	Address string     `hcl:"address,label"`
	Value   *cty.Value `hcl:"value,optional"`
	Formula *string    `hcl:"formula,optional"`
}

type hclVariable struct {
	Name    string     `hcl:"name,label"`
	Value   *cty.Value `hcl:"value,optional"`
	Formula *string    `hcl:"formula,optional"`
}

type hclEdit struct {
	Op    string  `hcl:"op,label"`
	Sheet string  `hcl:"sheet"`
	Index *int    `hcl:"index,optional"`
	Count *int    `hcl:"count,optional"`
	Range *string `hcl:"range,optional"`
	Order []int   `hcl:"order,optional"`
}

// Load parses the script at path.
func Load(ctx context.Context, path string) (*Script, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("loading script", slog.String("path", path))

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	s, err := Parse(src, path)
	if err != nil {
		return nil, err
	}
	logger.Debug("script loaded",
		slog.Int("sheets", len(s.Sheets)),
		slog.Int("variables", len(s.Variables)),
		slog.Int("edits", len(s.Edits)),
		slog.Int("outputs", len(s.Outputs)))
	return s, nil
}

// Parse decodes script source. filename is used in diagnostics.
func Parse(src []byte, filename string) (*Script, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse script %s: %w", filename, diags)
	}

	var root hclFile
	diags = gohcl.DecodeBody(file.Body, nil, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode script %s: %w", filename, diags)
	}

	s := &Script{Filename: filename, Outputs: root.Output}
	for _, hs := range root.Sheets {
		sheet := Sheet{Name: hs.Name}
		for _, hc := range hs.Cells {
			value, text, err := decodeContent(hc.Value, hc.Formula, fmt.Sprintf("cell %s!%s", hs.Name, hc.Address))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", filename, err)
			}
			sheet.Cells = append(sheet.Cells, Cell{Address: hc.Address, Value: value, Formula: text})
		}
		s.Sheets = append(s.Sheets, sheet)
	}
	for _, hv := range root.Variables {
		value, text, err := decodeContent(hv.Value, hv.Formula, fmt.Sprintf("variable %q", hv.Name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		s.Variables = append(s.Variables, Variable{Name: hv.Name, Value: value, Formula: text})
	}
	for i, he := range root.Edits {
		edit, err := decodeEdit(he)
		if err != nil {
			return nil, fmt.Errorf("%s: edit %d: %w", filename, i+1, err)
		}
		s.Edits = append(s.Edits, edit)
	}
	return s, nil
}

// decodeContent checks that at most one of value and formula is set.
func decodeContent(value *cty.Value, text *string, at string) (formula.Value, string, error) {
	hasValue := value != nil && !value.IsNull()
	switch {
	case hasValue && text != nil:
		return nil, "", fmt.Errorf("%s: set value or formula, not both", at)
	case text != nil:
		if !formula.IsFormula(*text) {
			return nil, "", fmt.Errorf("%s: formula must start with '=', got %q", at, *text)
		}
		return nil, *text, nil
	case !hasValue:
		return nil, "", nil
	}
	v, err := fromCty(*value)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", at, err)
	}
	return v, "", nil
}

func decodeEdit(he *hclEdit) (Edit, error) {
	op, ok := formula.ParseEditOp(he.Op)
	if !ok {
		return Edit{}, fmt.Errorf("unknown edit %q", he.Op)
	}
	edit := Edit{Op: op, Sheet: he.Sheet, Order: he.Order}
	if op == formula.Permute {
		if he.Range == nil || len(he.Order) == 0 {
			return Edit{}, errors.New("permute needs range and order")
		}
		edit.Range = *he.Range
		return edit, nil
	}
	if he.Index == nil || he.Count == nil {
		return Edit{}, fmt.Errorf("%s needs index and count", he.Op)
	}
	edit.Index, edit.Count = *he.Index, *he.Count
	return edit, nil
}

// Apply writes the script into eng. sheets that do not exist yet are added
// before any cell is written.
func (s *Script) Apply(ctx context.Context, eng *formula.Engine) error {
	logger := ctxlog.FromContext(ctx)

	for _, sheet := range s.Sheets {
		if _, err := eng.Sheet(sheet.Name); err == nil {
			continue
		}
		if _, err := eng.AddSheet(sheet.Name); err != nil {
			return fmt.Errorf("%s: sheet %q: %w", s.Filename, sheet.Name, err)
		}
	}

	err := eng.Batch(func() error {
		for _, sheet := range s.Sheets {
			prefix := formula.QuoteSheetName(sheet.Name)
			for _, cell := range sheet.Cells {
				addr, err := eng.ParseAddress(prefix + cell.Address)
				if err != nil {
					return fmt.Errorf("%s: %w", s.Filename, err)
				}
				if cell.Formula != "" {
					err = eng.SetFormula(addr, cell.Formula)
				} else {
					err = eng.SetValue(addr, cell.Value)
				}
				if err != nil {
					return fmt.Errorf("%s: %s%s: %w", s.Filename, prefix, cell.Address, err)
				}
			}
		}
		for _, v := range s.Variables {
			var value any = v.Value
			if v.Formula != "" {
				value = v.Formula
			}
			if err := eng.SetVariable(v.Name, value); err != nil {
				return fmt.Errorf("%s: variable %q: %w", s.Filename, v.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i, edit := range s.Edits {
		if err := ctx.Err(); err != nil {
			return err
		}
		se, err := edit.resolve(eng)
		if err != nil {
			return fmt.Errorf("%s: edit %d: %w", s.Filename, i+1, err)
		}
		if err := eng.ApplyStructuralEdit(se); err != nil {
			return fmt.Errorf("%s: edit %d (%s): %w", s.Filename, i+1, edit.Op, err)
		}
	}
	logger.Info("script applied",
		slog.String("script", s.Filename),
		slog.Int("formulas", eng.FormulaCount()),
		slog.Int("edits", len(s.Edits)))
	return nil
}

func (e Edit) resolve(eng *formula.Engine) (formula.StructuralEdit, error) {
	id, err := eng.Sheet(e.Sheet)
	if err != nil {
		return formula.StructuralEdit{}, err
	}
	se := formula.StructuralEdit{Op: e.Op, Sheet: id, Index: e.Index, Count: e.Count, Order: e.Order}
	if e.Op == formula.Permute {
		block, err := eng.ParseRegion(formula.QuoteSheetName(e.Sheet) + e.Range)
		if err != nil {
			return formula.StructuralEdit{}, err
		}
		se.Block = block
	}
	return se, nil
}

// Output is one evaluated output expression.
type Output struct {
	Expr  string
	Value formula.Value
}

// String renders "expr = value". ranges are written row by row with ';'
// between rows and ',' between columns; ranges too large to list are
// summarized by shape.
func (o Output) String() string {
	return o.Expr + " = " + formatOutput(o.Value)
}

// maxListed is the largest range formatOutput spells out slot by slot.
const maxListed = 1024

func formatOutput(v formula.Value) string {
	seq, ok := v.(*formula.Sequence)
	if !ok {
		return formula.FormatValue(v)
	}
	if seq.Len() > maxListed {
		return fmt.Sprintf("{%dx%d, %d values}", seq.Rows, seq.Cols, seq.Count())
	}
	var b strings.Builder
	b.WriteByte('{')
	for r := 0; r < seq.Rows; r++ {
		if r > 0 {
			b.WriteByte(';')
		}
		for c := 0; c < seq.Cols; c++ {
			if c > 0 {
				b.WriteByte(',')
			}
			b.WriteString(formula.FormatValue(seq.At(r, c)))
		}
	}
	b.WriteByte('}')
	return b.String()
}

// Evaluate computes the script's output expressions against eng.
// unqualified references resolve to the engine's default sheet.
func (s *Script) Evaluate(eng *formula.Engine) ([]Output, error) {
	out := make([]Output, 0, len(s.Outputs))
	for _, expr := range s.Outputs {
		v, err := eng.Evaluate("="+strings.TrimPrefix(expr, "="), eng.DefaultSheet())
		if err != nil {
			return nil, fmt.Errorf("%s: output %q: %w", s.Filename, expr, err)
		}
		out = append(out, Output{Expr: expr, Value: v})
	}
	return out, nil
}
