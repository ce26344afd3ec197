package cli

import (
	"errors"
	"fmt"
)

// commands understood by formulash, with the number of positional
// arguments each takes
var commands = map[string]int{
	"eval":   1,
	"import": 1,
	"repl":   0,
}

// Config is a validated formulash invocation.
type Config struct {
	Command string
	Args    []string

	// OutPath is where import writes the recalculated workbook. empty means
	// no export.
	OutPath string

	LogFormat string
	LogLevel  string
}

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	want, ok := commands[cfg.Command]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", cfg.Command)
	}
	if len(cfg.Args) != want {
		return nil, fmt.Errorf("%s takes %d argument(s), got %d", cfg.Command, want, len(cfg.Args))
	}
	if cfg.OutPath != "" && cfg.Command != "import" {
		return nil, errors.New("--out is only valid for import")
	}
	return &cfg, nil
}
