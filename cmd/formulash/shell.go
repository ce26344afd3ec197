package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/vogtb/go-spreadsheet/packages/formula/internal/ctxlog"
	"github.com/vogtb/go-spreadsheet/packages/formula/script"
	"github.com/vogtb/go-spreadsheet/packages/formula/xlsx"
)

const (
	historyFile = ".formulash_history"
	prompt      = "fx> "
)

const shellHelp = `  A1 = 10              set a cell (text, number, TRUE/FALSE, #ERR!)
  A2 = =A1*2           set a formula
  rate = 0.2           set a variable
  nums = =A1:A3        variable formula; a bare range names the range
  =SUM(A1:A2)          evaluate without storing
  :formula A2          show formula text
  :deps A1[:B2]        formulas reading a cell or range
  :precedents A2       what a formula read last time
  :clear A1[:B2]       clear cells
  :sheet NAME          add a sheet
  :sheets  :vars  :functions  :recalc
  :insert-rows SHEET INDEX COUNT      (also remove-rows, insert-columns,
                                       remove-columns; INDEX is zero-based)
  :permute SHEET RANGE 2,0,1          reorder the rows of RANGE
  :load FILE.hcl  :import FILE.xlsx  :export FILE.xlsx
  :help  :quit
`

// shell executes one line of input at a time against an engine.
type shell struct {
	ctx context.Context
	eng *formula.Engine
	out io.Writer
}

func newShell(ctx context.Context, eng *formula.Engine, out io.Writer) *shell {
	return &shell{ctx: ctx, eng: eng, out: out}
}

var shellCommands = []string{
	":clear", ":deps", ":export", ":formula", ":functions", ":help", ":import",
	":insert-columns", ":insert-rows", ":load", ":permute", ":precedents",
	":quit", ":recalc", ":remove-columns", ":remove-rows", ":sheet", ":sheets",
	":vars",
}

// exec runs one line. quit is set when the user asked to leave.
func (sh *shell) exec(line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case strings.HasPrefix(line, ":"):
		return sh.command(strings.Fields(line))
	case formula.IsFormula(line):
		return false, sh.evaluate(strings.TrimPrefix(line, "="))
	}

	target, input, ok := strings.Cut(line, "=")
	if !ok {
		return false, sh.evaluate(line)
	}
	return false, sh.assign(strings.TrimSpace(target), strings.TrimLeft(input, " "))
}

func (sh *shell) print(expr string, v formula.Value) {
	fmt.Fprintln(sh.out, script.Output{Expr: expr, Value: v})
}

func (sh *shell) evaluate(expr string) error {
	v, err := sh.eng.Evaluate("="+expr, sh.eng.DefaultSheet())
	if err != nil {
		return err
	}
	sh.print(expr, v)
	return nil
}

// assign writes a cell when target is an address, a variable otherwise.
func (sh *shell) assign(target, input string) error {
	if target == "" {
		return errors.New("missing target before '='")
	}
	var value any = input
	if !formula.IsFormula(input) {
		value = formula.ParseInput(input)
	}

	addr, err := sh.eng.ParseAddress(target)
	if err != nil {
		if err := sh.eng.SetVariable(target, value); err != nil {
			return err
		}
		v, _ := sh.eng.GetVariable(target)
		sh.print(target, v)
		return nil
	}
	if text, ok := value.(string); ok && formula.IsFormula(text) {
		err = sh.eng.SetFormula(addr, text)
	} else {
		err = sh.eng.SetValue(addr, value)
	}
	if err != nil {
		return err
	}
	sh.print(sh.eng.FormatAddress(addr), sh.eng.GetValue(addr))
	return nil
}

func (sh *shell) command(fields []string) (bool, error) {
	name, args := fields[0], fields[1:]
	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d argument(s), got %d", name, n, len(args))
		}
		return nil
	}

	switch name {
	case ":quit", ":q", ":exit":
		return true, nil
	case ":help":
		fmt.Fprint(sh.out, shellHelp)
	case ":sheets":
		fmt.Fprintln(sh.out, strings.Join(sh.eng.SheetNames(), " "))
	case ":sheet":
		if err := need(1); err != nil {
			return false, err
		}
		if _, err := sh.eng.AddSheet(args[0]); err != nil {
			return false, err
		}
	case ":vars":
		for _, variable := range sh.eng.VariableNames() {
			v, _ := sh.eng.GetVariable(variable)
			if text, ok := sh.eng.GetVariableFormula(variable); ok {
				fmt.Fprintf(sh.out, "%s  (%s)\n", script.Output{Expr: variable, Value: v}, text)
				continue
			}
			sh.print(variable, v)
		}
	case ":functions":
		fmt.Fprintln(sh.out, strings.Join(sh.eng.Functions().Names(), " "))
	case ":recalc":
		sh.eng.Recalculate()
	case ":formula":
		if err := need(1); err != nil {
			return false, err
		}
		addr, err := sh.eng.ParseAddress(args[0])
		if err != nil {
			return false, err
		}
		text, ok := sh.eng.GetFormulaText(addr)
		if !ok {
			return false, fmt.Errorf("%s holds no formula", sh.eng.FormatAddress(addr))
		}
		fmt.Fprintln(sh.out, text)
	case ":deps":
		if err := need(1); err != nil {
			return false, err
		}
		region, err := sh.eng.ParseRegion(args[0])
		if err != nil {
			return false, err
		}
		var names []string
		for _, addr := range sh.eng.GetDirectDependents(region) {
			names = append(names, sh.eng.FormatAddress(addr))
		}
		fmt.Fprintln(sh.out, strings.Join(names, " "))
	case ":precedents":
		if err := need(1); err != nil {
			return false, err
		}
		addr, err := sh.eng.ParseAddress(args[0])
		if err != nil {
			return false, err
		}
		var names []string
		for _, dep := range sh.eng.Precedents(addr) {
			names = append(names, sh.describe(dep))
		}
		fmt.Fprintln(sh.out, strings.Join(names, " "))
	case ":clear":
		if err := need(1); err != nil {
			return false, err
		}
		region, err := sh.eng.ParseRegion(args[0])
		if err != nil {
			return false, err
		}
		return false, sh.eng.Clear(region)
	case ":insert-rows", ":remove-rows", ":insert-columns", ":remove-columns":
		if err := need(3); err != nil {
			return false, err
		}
		return false, sh.edit(strings.ReplaceAll(name[1:], "-", "_"), args)
	case ":permute":
		if err := need(3); err != nil {
			return false, err
		}
		return false, sh.edit("permute", args)
	case ":load":
		if err := need(1); err != nil {
			return false, err
		}
		return false, sh.load(args[0])
	case ":import":
		if err := need(1); err != nil {
			return false, err
		}
		report, err := xlsx.Import(sh.ctx, args[0], sh.eng, xlsx.Options{})
		if err != nil {
			return false, err
		}
		fmt.Fprintln(sh.out, report)
	case ":export":
		if err := need(1); err != nil {
			return false, err
		}
		return false, xlsx.Export(sh.ctx, sh.eng, args[0])
	default:
		return false, fmt.Errorf("unknown command %s, try :help", name)
	}
	return false, nil
}

func (sh *shell) describe(dep formula.Dependency) string {
	if dep.Kind == formula.DepVariable {
		return dep.Variable
	}
	s := sh.eng.FormatAddress(dep.Region.TopLeft())
	if !dep.Region.IsCell() {
		s += ":" + formula.Address{Row: dep.Region.Bottom, Col: dep.Region.Right}.String()
	}
	return s
}

// edit runs a structural edit given as SHEET INDEX COUNT, or SHEET RANGE
// ORDER for permute.
func (sh *shell) edit(op string, args []string) error {
	e := script.Edit{Sheet: args[0]}
	var ok bool
	if e.Op, ok = formula.ParseEditOp(op); !ok {
		return fmt.Errorf("unknown edit %q", op)
	}
	if e.Op == formula.Permute {
		e.Range = args[1]
		for _, s := range strings.Split(args[2], ",") {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return fmt.Errorf("bad order %q: %w", args[2], err)
			}
			e.Order = append(e.Order, n)
		}
	} else {
		var err error
		if e.Index, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("bad index %q: %w", args[1], err)
		}
		if e.Count, err = strconv.Atoi(args[2]); err != nil {
			return fmt.Errorf("bad count %q: %w", args[2], err)
		}
	}
	s := &script.Script{Filename: "shell", Edits: []script.Edit{e}}
	return s.Apply(sh.ctx, sh.eng)
}

func (sh *shell) load(path string) error {
	s, err := script.Load(sh.ctx, path)
	if err != nil {
		return err
	}
	if err := s.Apply(sh.ctx, sh.eng); err != nil {
		return err
	}
	outputs, err := s.Evaluate(sh.eng)
	if err != nil {
		return err
	}
	for _, o := range outputs {
		fmt.Fprintln(sh.out, o)
	}
	return nil
}

// complete offers shell commands after ':' and function names for the word
// under the cursor.
func (sh *shell) complete(line string) []string {
	if strings.HasPrefix(line, ":") && !strings.Contains(line, " ") {
		var out []string
		for _, c := range shellCommands {
			if strings.HasPrefix(c, line) {
				out = append(out, c)
			}
		}
		return out
	}
	start := len(line)
	for start > 0 && isWordChar(line[start-1]) {
		start--
	}
	word := strings.ToUpper(line[start:])
	if word == "" {
		return nil
	}
	var out []string
	for _, name := range sh.eng.Functions().Names() {
		if strings.HasPrefix(name, word) {
			out = append(out, line[:start]+name+"(")
		}
	}
	return out
}

func isWordChar(c byte) bool {
	return c == '_' || c == '.' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func runRepl(ctx context.Context, outW io.Writer, eng *formula.Engine) error {
	logger := ctxlog.FromContext(ctx)
	sh := newShell(ctx, eng, outW)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(sh.complete)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		} else {
			logger.Debug("could not save history", slog.String("path", histPath), slog.Any("error", err))
		}
	}()

	fmt.Fprintln(outW, "formulash, :help for commands")
	for {
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			fmt.Fprintln(outW)
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ln.AppendHistory(line)

		quit, err := sh.exec(line)
		if err != nil {
			fmt.Fprintln(outW, "error:", err)
			continue
		}
		if quit {
			return nil
		}
	}
}
