// Package xlsx moves workbooks between .xlsx files and a formula.Engine.
//
// Import loads plain values and formula text and lets the engine compute
// every result itself; cached results stored in the file are ignored.
// Export writes the engine's computed values, with the formula text
// attached to formula cells.
package xlsx

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/vogtb/go-spreadsheet/packages/formula/internal/ctxlog"
	"github.com/xuri/efp"
	"github.com/xuri/excelize/v2"
)

// Options controls Import.
type Options struct {
	// Sheets limits the import to these sheet names. empty imports every
	// sheet.
	Sheets []string
}

// Problem is a formula the engine could not install.
type Problem struct {
	Cell    string
	Formula string
	Reason  string
}

// Report summarizes an import.
type Report struct {
	Sheets   []string
	Values   int
	Formulas int
	Problems []Problem
	// Unsupported lists function names used by the workbook that the
	// engine's registry does not know. those cells evaluate to #NAME?.
	Unsupported []string
}

func (r *Report) String() string {
	s := fmt.Sprintf("%d sheets, %d values, %d formulas", len(r.Sheets), r.Values, r.Formulas)
	if len(r.Problems) > 0 {
		s += fmt.Sprintf(", %d rejected", len(r.Problems))
	}
	if len(r.Unsupported) > 0 {
		s += ", unsupported: " + strings.Join(r.Unsupported, ", ")
	}
	return s
}

// Import reads the workbook at path into eng. sheets missing from eng are
// added; all cells are written inside one batch so the engine recalculates
// once. formulas that fail to parse are reported, not fatal.
func Import(ctx context.Context, path string, eng *formula.Engine, opts Options) (*Report, error) {
	logger := ctxlog.FromContext(ctx)

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	names := f.GetSheetList()
	if len(opts.Sheets) > 0 {
		names = slices.DeleteFunc(names, func(name string) bool {
			return !slices.ContainsFunc(opts.Sheets, func(want string) bool { return strings.EqualFold(want, name) })
		})
	}

	// define every sheet first so cross-sheet references resolve
	ids := make([]formula.SheetID, len(names))
	for i, name := range names {
		id, err := eng.Sheet(name)
		if err != nil {
			if id, err = eng.AddSheet(name); err != nil {
				return nil, fmt.Errorf("failed to add sheet %q: %w", name, err)
			}
		}
		ids[i] = id
	}

	report := &Report{Sheets: names}
	unsupported := make(map[string]struct{})
	err = eng.Batch(func() error {
		for i, name := range names {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := importSheet(f, name, ids[i], eng, report, unsupported); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for name := range unsupported {
		report.Unsupported = append(report.Unsupported, name)
	}
	slices.Sort(report.Unsupported)
	for _, p := range report.Problems {
		logger.Warn("formula rejected", slog.String("cell", p.Cell), slog.String("formula", p.Formula), slog.String("reason", p.Reason))
	}
	logger.Info("workbook imported",
		slog.String("path", path),
		slog.Int("sheets", len(report.Sheets)),
		slog.Int("values", report.Values),
		slog.Int("formulas", report.Formulas),
		slog.Any("unsupported", report.Unsupported))
	return report, nil
}

func importSheet(f *excelize.File, name string, id formula.SheetID, eng *formula.Engine, report *Report, unsupported map[string]struct{}) error {
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return fmt.Errorf("failed to read sheet %q: %w", name, err)
	}
	height, width := extent(f, name, rows)

	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			addr := formula.Address{Sheet: id, Row: r, Col: c}

			text, err := f.GetCellFormula(name, cell)
			if err != nil {
				return fmt.Errorf("failed to read %s!%s: %w", name, cell, err)
			}
			if text != "" {
				for _, fn := range functionNames(text) {
					if _, ok := eng.Functions().Lookup(fn); !ok {
						unsupported[fn] = struct{}{}
					}
				}
				if err := eng.SetFormula(addr, "="+text); err != nil {
					report.Problems = append(report.Problems, Problem{
						Cell:    eng.FormatAddress(addr),
						Formula: "=" + text,
						Reason:  err.Error(),
					})
					continue
				}
				report.Formulas++
				continue
			}

			if r >= len(rows) || c >= len(rows[r]) || rows[r][c] == "" {
				continue
			}
			value, err := cellValue(f, name, cell, rows[r][c])
			if err != nil {
				return err
			}
			if err := eng.SetValue(addr, value); err != nil {
				return err
			}
			report.Values++
		}
	}
	return nil
}

// extent is the number of rows and columns to scan: the larger of what
// GetRows returned and the sheet's recorded dimension, since formula cells
// without a cached result may not show up in the rows.
func extent(f *excelize.File, name string, rows [][]string) (int, int) {
	height, width := len(rows), 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	dim, err := f.GetSheetDimension(name)
	if err != nil || dim == "" {
		return height, width
	}
	corners := strings.Split(dim, ":")
	col, row, err := excelize.CellNameToCoordinates(corners[len(corners)-1])
	if err != nil {
		return height, width
	}
	return max(height, row), max(width, col)
}

// cellValue converts the raw text of a non-formula cell.
func cellValue(f *excelize.File, name, cell, raw string) (formula.Value, error) {
	typ, err := f.GetCellType(name, cell)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s!%s: %w", name, cell, err)
	}
	switch typ {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "TRUE"), nil
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString:
		return raw, nil
	}
	return formula.ParseInput(raw), nil
}

// functionNames lists the upper-cased function names called by formula
// text (without the leading '=').
func functionNames(text string) []string {
	ps := efp.ExcelParser()
	var out []string
	for _, token := range ps.Parse(text) {
		if token.TType == efp.TokenTypeFunction && token.TSubType == efp.TokenSubTypeStart {
			out = append(out, strings.ToUpper(token.TValue))
		}
	}
	return out
}

// Export writes every sheet of eng to a new workbook at path.
func Export(ctx context.Context, eng *formula.Engine, path string) error {
	logger := ctxlog.FromContext(ctx)

	f := excelize.NewFile()
	defer f.Close()

	cells := 0
	for i, name := range eng.SheetNames() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i == 0 {
			if name != "Sheet1" {
				if err := f.SetSheetName("Sheet1", name); err != nil {
					return fmt.Errorf("failed to name sheet %q: %w", name, err)
				}
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %q: %w", name, err)
		}

		id, err := eng.Sheet(name)
		if err != nil {
			return err
		}
		for addr, value := range eng.Store().Cells(id) {
			cell, err := excelize.CoordinatesToCellName(addr.Col+1, addr.Row+1)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(name, cell, exportValue(value)); err != nil {
				return fmt.Errorf("failed to write %s!%s: %w", name, cell, err)
			}
			cells++
		}
		for _, addr := range eng.FormulaCells(id) {
			text, _ := eng.GetFormulaText(addr)
			cell, err := excelize.CoordinatesToCellName(addr.Col+1, addr.Row+1)
			if err != nil {
				return err
			}
			if err := f.SetCellFormula(name, cell, strings.TrimPrefix(text, "=")); err != nil {
				return fmt.Errorf("failed to write formula %s!%s: %w", name, cell, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	logger.Info("workbook exported", slog.String("path", path), slog.Int("cells", cells))
	return nil
}

func exportValue(v formula.Value) any {
	if fe, ok := v.(*formula.FormulaError); ok {
		return fe.Tag()
	}
	return v
}
