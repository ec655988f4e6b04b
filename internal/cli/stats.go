package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/chronicle/internal/doc"
	"github.com/roach88/chronicle/internal/store"
)

// StatsResult is the stats command's output.
type StatsResult struct {
	LastTxID    int64            `json:"last_tx_id"`
	LastTxTime  string           `json:"last_tx_time,omitempty"`
	Committed   int              `json:"committed"`
	Aborted     int              `json:"aborted"`
	Entities    int              `json:"entities"`
	Evictions   []store.Eviction `json:"evictions"`
	Fingerprint string           `json:"fingerprint"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the database",
		Long: `Summarize the transaction log and index: record counts by outcome,
entities, evictions and the index fingerprint.

Examples:
  chronicle stats --db ./chronicle.db --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, rootOpts)
		},
	}

	return cmd
}

func runStats(cmd *cobra.Command, opts *RootOptions) error {
	ctx := context.Background()
	out := newFormatter(cmd, opts)

	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	head, headTime, err := s.store.Head(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read log head", err)
	}
	counts, err := s.store.CountTransactions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count transactions", err)
	}
	evictions, err := s.store.ListEvictions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list evictions", err)
	}
	fp, err := s.engine.Fingerprint()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to fingerprint index", err)
	}

	result := StatsResult{
		LastTxID:    head,
		Committed:   counts[doc.OutcomeCommitted],
		Aborted:     counts[doc.OutcomeAborted],
		Entities:    len(s.engine.Entities()),
		Evictions:   evictions,
		Fingerprint: fp,
	}
	if head > 0 {
		result.LastTxTime = doc.FormatTime(headTime)
	}

	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Transactions: %d (%d committed, %d aborted)\n", result.LastTxID, result.Committed, result.Aborted)
		if result.LastTxTime != "" {
			fmt.Fprintf(w, "Last tx time: %s\n", result.LastTxTime)
		}
		fmt.Fprintf(w, "Entities:     %d\n", result.Entities)
		fmt.Fprintf(w, "Evictions:    %d\n", len(result.Evictions))
		for _, ev := range result.Evictions {
			fmt.Fprintf(w, "  %s at tx %d\n", ev.EntityID, ev.TxID)
		}
		fmt.Fprintf(w, "Fingerprint:  %s\n", result.Fingerprint)
	})
}
