package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// ExitError carries the process exit code for a failed invocation.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

const usage = `
formulash - evaluate spreadsheet formulas from scripts, workbooks or a shell.

Usage:
  formulash [options] eval SCRIPT.hcl
  formulash [options] import BOOK.xlsx [--out OUT.xlsx]
  formulash [options] repl

Options:
`

// Parse processes command-line arguments. it returns the validated Config,
// whether the program should exit cleanly (help was printed), or an
// *ExitError.
func Parse(args []string, output io.Writer) (*Config, bool, error) {
	flagSet := flag.NewFlagSet("formulash", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, usage)
		flagSet.PrintDefaults()
	}

	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "warn", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if flagSet.NArg() == 0 {
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	command := flagSet.Arg(0)
	rest := flagSet.Args()[1:]
	var outPath string
	if command == "import" {
		sub := flag.NewFlagSet("import", flag.ContinueOnError)
		sub.SetOutput(output)
		out := sub.String("out", "", "Write the recalculated workbook to this xlsx file.")
		// the workbook path may come before or after --out
		var positional []string
		for len(rest) > 0 {
			if err := sub.Parse(rest); err != nil {
				if err == flag.ErrHelp {
					return nil, true, nil
				}
				return nil, false, &ExitError{Code: 2, Message: err.Error()}
			}
			rest = sub.Args()
			if len(rest) > 0 {
				positional = append(positional, rest[0])
				rest = rest[1:]
			}
		}
		rest = positional
		outPath = *out
	}

	config, err := NewConfig(Config{
		Command:   command,
		Args:      rest,
		OutPath:   outPath,
		LogFormat: logFormat,
		LogLevel:  logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return config, false, nil
}
