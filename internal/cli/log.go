package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/chronicle/internal/store"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	After   int64
	WithOps bool
}

// LogResult is the log command's output.
type LogResult struct {
	Records []txOutput `json:"records"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print transaction log records",
		Long: `Print the transaction log in tx order, committed and aborted records
alike. Evicted documents appear redacted.

Examples:
  chronicle log
  chronicle log --after 10 --ops
  chronicle log --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(cmd, opts)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "only records with tx id greater than this")
	cmd.Flags().BoolVar(&opts.WithOps, "ops", false, "include submitted operations")

	return cmd
}

func runLog(cmd *cobra.Command, opts *LogOptions) error {
	ctx := context.Background()
	out := newFormatter(cmd, opts.RootOptions)

	// Reading the log needs no engine.
	st, err := store.Open(opts.Config.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	cur := st.OpenLog(ctx, opts.After, opts.WithOps)
	defer cur.Close()

	result := LogResult{Records: []txOutput{}}
	for cur.Next() {
		rec, err := newTxOutput(cur.Record())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to render record", err)
		}
		result.Records = append(result.Records, rec)
	}
	if err := cur.Err(); err != nil {
		return WrapExitError(ExitCommandError, "failed to read log", err)
	}

	return out.Success(result, func(w io.Writer) {
		if len(result.Records) == 0 {
			fmt.Fprintln(w, "No transactions found.")
			return
		}
		for _, rec := range result.Records {
			rec.writeText(w)
		}
	})
}
