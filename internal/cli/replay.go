package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/chronicle/internal/checkpoint"
	"github.com/roach88/chronicle/internal/engine"
	"github.com/roach88/chronicle/internal/index"
	"github.com/roach88/chronicle/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
}

// ReplayCheckpoint compares recovery from the checkpoint with a full
// rebuild.
type ReplayCheckpoint struct {
	Path        string `json:"path"`
	TxID        int64  `json:"checkpoint_tx_id"`
	Fingerprint string `json:"fingerprint"`
	Matches     bool   `json:"matches"`
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	LastTxID      int64             `json:"last_tx_id"`
	Entities      int               `json:"entities"`
	Fingerprint   string            `json:"fingerprint"`
	Deterministic bool              `json:"deterministic"`
	Checkpoint    *ReplayCheckpoint `json:"checkpoint,omitempty"`
}

// OK reports whether every comparison matched.
func (r ReplayResult) OK() bool {
	return r.Deterministic && (r.Checkpoint == nil || r.Checkpoint.Matches)
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the index from the log and verify determinism",
		Long: `Rebuild the index from the transaction log twice and verify both
rebuilds produce the same fingerprint. When a checkpoint is configured,
also recover from it and verify the result matches the full rebuild.

Exit codes:
  0 - Replay is deterministic
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, etc.)

Examples:
  chronicle replay --db ./chronicle.db
  chronicle replay --config chronicle.yaml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, opts)
		},
	}

	return cmd
}

func runReplay(cmd *cobra.Command, opts *ReplayOptions) error {
	ctx := context.Background()
	out := newFormatter(cmd, opts.RootOptions)

	st, err := store.Open(opts.Config.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	first, err := rebuild(ctx, st)
	if err != nil {
		return WrapExitError(ExitCommandError, "first replay failed", err)
	}
	second, err := rebuild(ctx, st)
	if err != nil {
		return WrapExitError(ExitCommandError, "second replay failed", err)
	}
	out.VerboseLog("replayed log through tx %d", first.ix.LastTxID())

	result := ReplayResult{
		LastTxID:      first.ix.LastTxID(),
		Entities:      len(first.ix.Entities()),
		Fingerprint:   first.fingerprint,
		Deterministic: first.fingerprint == second.fingerprint,
	}

	if path := opts.Config.Checkpoint.Path; path != "" {
		cmp, err := compareCheckpoint(ctx, st, path, first.fingerprint)
		if err != nil {
			return WrapExitError(ExitCommandError, "checkpoint recovery failed", err)
		}
		result.Checkpoint = cmp
	}

	if !result.OK() {
		// Determinism failure = exit code 1
		return out.Fail(ExitFailure, "E_DETERMINISM", "determinism verification failed", result, result.writeText)
	}
	return out.Success(result, result.writeText)
}

type rebuilt struct {
	ix          *index.Index
	fingerprint string
}

func rebuild(ctx context.Context, st *store.Store) (rebuilt, error) {
	ix, err := engine.Rebuild(ctx, st)
	if err != nil {
		return rebuilt{}, err
	}
	fp, err := ix.Fingerprint()
	if err != nil {
		return rebuilt{}, err
	}
	return rebuilt{ix: ix, fingerprint: fp}, nil
}

func compareCheckpoint(ctx context.Context, st *store.Store, path, want string) (*ReplayCheckpoint, error) {
	cp, err := checkpoint.Open(path, checkpoint.Options{})
	if err != nil {
		return nil, err
	}
	defer cp.Close()

	saved, err := cp.LastTxID()
	if err != nil {
		return nil, err
	}
	ix, err := engine.Recover(ctx, st, cp)
	if err != nil {
		return nil, err
	}
	fp, err := ix.Fingerprint()
	if err != nil {
		return nil, err
	}
	return &ReplayCheckpoint{Path: path, TxID: saved, Fingerprint: fp, Matches: fp == want}, nil
}

func (r ReplayResult) writeText(w io.Writer) {
	status := "✓"
	if !r.Deterministic {
		status = "✗"
	}
	fmt.Fprintf(w, "Replay Summary: through tx %d, %d entities\n", r.LastTxID, r.Entities)
	fmt.Fprintf(w, "%s Fingerprint: %s\n", status, r.Fingerprint)
	if !r.Deterministic {
		fmt.Fprintln(w, "  Warning: Non-deterministic replay detected!")
	}

	if c := r.Checkpoint; c != nil {
		status = "✓"
		if !c.Matches {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Checkpoint at tx %d: %s\n", status, c.TxID, c.Fingerprint)
		if !c.Matches {
			fmt.Fprintln(w, "  Warning: Recovery from checkpoint differs from full replay!")
		}
	}
	fmt.Fprintln(w)

	if r.OK() {
		fmt.Fprintln(w, "✓ Replay verified deterministic")
		return
	}
	fmt.Fprintln(w, "✗ Determinism verification failed")
}
