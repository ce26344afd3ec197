// Package cli parses formulash command lines, validates them into a Config
// and owns process-level concerns like exit codes and the logger setup.
package cli
