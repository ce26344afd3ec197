package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/vogtb/go-spreadsheet/packages/formula/internal/cli"
	"github.com/vogtb/go-spreadsheet/packages/formula/internal/ctxlog"
	"github.com/vogtb/go-spreadsheet/packages/formula/script"
	"github.com/vogtb/go-spreadsheet/packages/formula/xlsx"
)

func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run holds the program logic so tests can drive it with their own output.
func run(outW io.Writer, args []string) error {
	cfg, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	logger := cli.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	eng := formula.New(formula.WithLogger(logger))

	switch cfg.Command {
	case "eval":
		return runEval(ctx, outW, eng, cfg.Args[0])
	case "import":
		return runImport(ctx, outW, eng, cfg.Args[0], cfg.OutPath)
	case "repl":
		return runRepl(ctx, outW, eng)
	}
	return &cli.ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", cfg.Command)}
}

func runEval(ctx context.Context, outW io.Writer, eng *formula.Engine, path string) error {
	s, err := script.Load(ctx, path)
	if err != nil {
		return err
	}
	if err := s.Apply(ctx, eng); err != nil {
		return err
	}
	outputs, err := s.Evaluate(eng)
	if err != nil {
		return err
	}
	for _, o := range outputs {
		fmt.Fprintln(outW, o)
	}
	return nil
}

func runImport(ctx context.Context, outW io.Writer, eng *formula.Engine, path, outPath string) error {
	report, err := xlsx.Import(ctx, path, eng, xlsx.Options{})
	if err != nil {
		return err
	}
	fmt.Fprintln(outW, report)
	for _, p := range report.Problems {
		fmt.Fprintf(outW, "  %s %s: %s\n", p.Cell, p.Formula, p.Reason)
	}
	if outPath == "" {
		return nil
	}
	if err := xlsx.Export(ctx, eng, outPath); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("recalculated workbook written", slog.String("path", outPath))
	return nil
}
