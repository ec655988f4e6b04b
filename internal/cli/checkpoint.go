package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// CheckpointResult is the checkpoint command's output.
type CheckpointResult struct {
	Path     string `json:"path"`
	TxID     int64  `json:"tx_id"`
	Entities int    `json:"entities"`
}

// NewCheckpointCommand creates the checkpoint command.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Save the index to the checkpoint file",
		Long: `Save the current index to the checkpoint file so later opens replay
only the log records after it.

Examples:
  chronicle checkpoint --path ./chronicle.ckpt
  chronicle checkpoint --config chronicle.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path != "" {
				rootOpts.Config.Checkpoint.Path = path
			}
			return runCheckpoint(cmd, rootOpts)
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "checkpoint file (overrides config)")

	return cmd
}

func runCheckpoint(cmd *cobra.Command, opts *RootOptions) error {
	ctx := context.Background()
	out := newFormatter(cmd, opts)

	if opts.Config.Checkpoint.Path == "" {
		return NewExitError(ExitCommandError, "no checkpoint path: set checkpoint.path or --path")
	}

	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.engine.Checkpoint(); err != nil {
		return WrapExitError(ExitCommandError, "failed to save checkpoint", err)
	}
	txID, err := s.checkpoints.LastTxID()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read checkpoint", err)
	}

	result := CheckpointResult{
		Path:     s.checkpoints.Path(),
		TxID:     txID,
		Entities: len(s.engine.Entities()),
	}
	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Checkpoint saved to %s at tx %d (%d entities)\n", result.Path, result.TxID, result.Entities)
	})
}
