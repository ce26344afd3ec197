package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/vogtb/go-spreadsheet/packages/formula/internal/cli"
	"github.com/vogtb/go-spreadsheet/packages/formula/xlsx"
)

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(out, []string{"-h"})

	require.NoError(t, err)
	require.Contains(t, out.String(), "Usage:")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(out, []string{"--this-is-not-a-valid-flag"})

	require.Error(t, err)
	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestRun_Eval(t *testing.T) {
	t.Parallel()

	src := `
sheet "Sheet1" {
  cell "A1" { value = 4 }
  cell "A2" { formula = "=A1*A1" }
}
output = ["A2", "A2/0"]
`
	path := filepath.Join(t.TempDir(), "main.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))

	out := &bytes.Buffer{}
	require.NoError(t, run(out, []string{"eval", path}))
	assert.Equal(t, "A2 = 16\nA2/0 = #DIV/0!\n", out.String())
}

func TestRun_EvalBadScript(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "main.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`sheet "Sheet1" {`), 0o600))

	err := run(&bytes.Buffer{}, []string{"eval", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse script")
}

func TestRun_Import(t *testing.T) {
	t.Parallel()

	eng := formula.New()
	require.NoError(t, eng.Set("A1", 2))
	require.NoError(t, eng.Set("B1", "=A1*3"))
	dir := t.TempDir()
	in := filepath.Join(dir, "in.xlsx")
	require.NoError(t, xlsx.Export(context.Background(), eng, in))

	outPath := filepath.Join(dir, "out.xlsx")
	out := &bytes.Buffer{}
	require.NoError(t, run(out, []string{"import", in, "--out", outPath}))
	assert.Contains(t, out.String(), "1 sheets, 1 values, 1 formulas")
	_, err := os.Stat(outPath)
	require.NoError(t, err)
}

func newTestShell() (*shell, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return newShell(context.Background(), formula.New(), out), out
}

// execAll runs lines and returns what the last one printed.
func execAll(t *testing.T, sh *shell, out *bytes.Buffer, lines ...string) string {
	t.Helper()
	for _, line := range lines {
		out.Reset()
		quit, err := sh.exec(line)
		require.NoError(t, err, line)
		require.False(t, quit, line)
	}
	return strings.TrimSpace(out.String())
}

func TestShellAssignAndEvaluate(t *testing.T) {
	sh, out := newTestShell()

	assert.Equal(t, "Sheet1!A1 = 10", execAll(t, sh, out, "A1 = 10"))
	assert.Equal(t, "Sheet1!A2 = 20", execAll(t, sh, out, "A2 = =A1*2"))
	assert.Equal(t, "A2+1 = 21", execAll(t, sh, out, "=A2+1"))
	assert.Equal(t, "rate = 0.5", execAll(t, sh, out, "rate = 0.5"))
	assert.Equal(t, "A2*rate = 10", execAll(t, sh, out, "A2*rate"))
	assert.Equal(t, "Sheet1!B1 = hello", execAll(t, sh, out, "B1 = hello"))
	assert.Equal(t, "", execAll(t, sh, out, "   "))

	assert.Equal(t, "=A1*2", execAll(t, sh, out, ":formula A2"))
	assert.Equal(t, "Sheet1!A2", execAll(t, sh, out, ":deps A1"))
	assert.Equal(t, "Sheet1!A1", execAll(t, sh, out, ":precedents A2"))
	assert.Equal(t, "rate = 0.5", execAll(t, sh, out, ":vars"))
	assert.Equal(t, "Sheet1", execAll(t, sh, out, ":sheets"))
	assert.Contains(t, execAll(t, sh, out, ":functions"), "SUM")
	assert.Contains(t, execAll(t, sh, out, ":help"), ":insert-rows")
}

func TestShellVariableFormula(t *testing.T) {
	sh, out := newTestShell()
	execAll(t, sh, out, "A1 = 1", "A2 = 2")
	assert.Equal(t, "total = 3", execAll(t, sh, out, "total = =SUM(A1:A2)"))
	assert.Equal(t, "total = 3  (=SUM(A1:A2))", execAll(t, sh, out, ":vars"))
}

func TestShellStructuralEdits(t *testing.T) {
	sh, out := newTestShell()
	execAll(t, sh, out, "A1 = 10", "A2 = =A1*2")

	execAll(t, sh, out, ":insert-rows Sheet1 0 1")
	assert.Equal(t, "=A2*2", execAll(t, sh, out, ":formula A3"))
	assert.Equal(t, "A3 = 20", execAll(t, sh, out, "=A3"))

	execAll(t, sh, out, ":remove-rows Sheet1 0 1")
	assert.Equal(t, "=A1*2", execAll(t, sh, out, ":formula A2"))

	execAll(t, sh, out, "B1 = a", "B2 = b", "B3 = c", ":permute Sheet1 B1:B3 2,0,1")
	assert.Equal(t, "B1 = c", execAll(t, sh, out, "=B1"))
	assert.Equal(t, "B3 = b", execAll(t, sh, out, "=B3"))

	execAll(t, sh, out, ":sheet Data", "Data!A1 = 5", ":insert-columns Data 0 2")
	assert.Equal(t, "Data!C1 = 5", execAll(t, sh, out, "=Data!C1"))

	execAll(t, sh, out, ":clear A1:A2")
	assert.Equal(t, "A1 =", execAll(t, sh, out, "=A1"))
}

func TestShellErrors(t *testing.T) {
	sh, _ := newTestShell()
	for _, line := range []string{
		":nope",
		":formula A1",
		":deps",
		":insert-rows Sheet1 x 1",
		":insert-rows Missing 0 1",
		":permute Sheet1 A1:A3 2,x",
		"= =",
		"1 = 2",
		"A1 = =SUM(",
	} {
		_, err := sh.exec(line)
		assert.Error(t, err, line)
	}
}

func TestShellQuit(t *testing.T) {
	sh, _ := newTestShell()
	quit, err := sh.exec(":quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestShellLoad(t *testing.T) {
	src := `
variable "rate" { value = 2 }
output = ["rate*3"]
`
	path := filepath.Join(t.TempDir(), "s.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))

	sh, out := newTestShell()
	assert.Equal(t, "rate*3 = 6", execAll(t, sh, out, ":load "+path))
}

func TestShellComplete(t *testing.T) {
	sh, _ := newTestShell()
	assert.Equal(t, []string{":insert-columns", ":insert-rows"}, sh.complete(":ins"))
	assert.Contains(t, sh.complete("=A1+su"), "=A1+SUM(")
	assert.Empty(t, sh.complete("=A1+"))
}
