package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/chronicle/internal/doc"
	"github.com/roach88/chronicle/internal/engine"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Metrics bool
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <tx-file|->",
		Short: "Submit a transaction and wait for its outcome",
		Long: `Submit one transaction and wait until it is processed.

The file holds the operation list in YAML or JSON, for example:

  - match: {id: ivan}
  - put: {id: pablo, doc: {version: 1}, valid_from: "2024-01-01T00:00:00Z"}

Use "-" to read from stdin.

Exit codes:
  0 - Transaction committed
  1 - Transaction aborted
  2 - Command error (unreadable file, invalid operations)

Examples:
  chronicle submit tx.yaml --db ./chronicle.db
  echo '[{"evict":{"id":"ivan"}}]' | chronicle submit - --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "write engine metrics to stderr after the transaction")

	return cmd
}

func runSubmit(cmd *cobra.Command, opts *SubmitOptions, path string) error {
	ctx := context.Background()
	out := newFormatter(cmd, opts.RootOptions)

	ops, err := readOps(cmd.InOrStdin(), path)
	if err != nil {
		return out.Fail(ExitCommandError, "E_INVALID_TX", err.Error(), nil, nil)
	}
	out.VerboseLog("submitting %d operation(s)", len(ops))

	s, err := openSession(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.engine.Transact(ctx, ops)
	switch {
	case engine.IsValidationError(err):
		return out.Fail(ExitCommandError, "E_INVALID_TX", err.Error(), nil, nil)
	case err != nil:
		return WrapExitError(ExitCommandError, "transaction failed", err)
	}

	if opts.Metrics {
		if err := s.metrics.WriteText(cmd.ErrOrStderr()); err != nil {
			return WrapExitError(ExitCommandError, "failed to write metrics", err)
		}
	}

	result, err := newTxOutput(rec)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to render record", err)
	}
	if !rec.Committed() {
		return out.Fail(ExitFailure, "E_ABORTED",
			fmt.Sprintf("tx %d aborted: %s", rec.TxID, rec.AbortReason), result, result.writeText)
	}
	return out.Success(result, result.writeText)
}

// readOps reads an operation list from path, or from stdin for "-".
func readOps(stdin io.Reader, path string) ([]doc.Op, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	ops, err := doc.ParseOps(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return ops, nil
}
