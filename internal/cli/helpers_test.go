package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chronicle/internal/config"
)

// testOptions returns root options as loaded from the default config, with
// the database in a fresh temp dir.
func testOptions(t *testing.T, format string) *RootOptions {
	t.Helper()
	cfg := config.Default()
	cfg.Database = filepath.Join(t.TempDir(), "chronicle.db")
	return &RootOptions{Format: format, Config: cfg}
}

// execute runs cmd with args and returns stdout and stderr.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// writeTx writes a transaction file and returns its path.
func writeTx(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// submitTx submits content and requires it to commit.
func submitTx(t *testing.T, opts *RootOptions, content string) {
	t.Helper()
	text := *opts
	text.Format = "text"
	_, _, err := execute(t, NewSubmitCommand(&text), writeTx(t, content))
	require.NoError(t, err)
}

const (
	txPabloV1 = `
- put: {id: pablo, doc: {name: Pablo, version: 1}, valid_from: "2020-01-01T00:00:00Z"}
`
	txPabloV2 = `
- put:
    id: pablo
    doc: {name: Pablo, version: 2}
    valid_from: "2021-01-01T00:00:00Z"
    valid_to: "2022-01-01T00:00:00Z"
`
	txStaleMatch = `
- match: {id: pablo, doc: {name: Pablo, version: 9}}
- put: {id: pablo, doc: {name: Pablo, version: 3}}
`
	txIvan = `
- put: {id: ivan, doc: {age: 30}}
`
	txEvictIvan = `
- evict: {id: ivan}
`
)
