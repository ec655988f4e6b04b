package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/chronicle/internal/doc"
	"github.com/roach88/chronicle/internal/engine"
)

// QueryOptions holds the point-in-time flags shared by entity and history.
type QueryOptions struct {
	*RootOptions
	AsOfTx   int64
	AsOfTime string
	At       string
}

func (o *QueryOptions) addFlags(cmd *cobra.Command, withAt bool) {
	cmd.Flags().Int64Var(&o.AsOfTx, "as-of-tx", 0, "read as of this transaction id (default: latest)")
	cmd.Flags().StringVar(&o.AsOfTime, "as-of-time", "", "read as of the last transaction at or before this time (RFC 3339)")
	if withAt {
		cmd.Flags().StringVar(&o.At, "at", "", "valid time to read at (RFC 3339, default: now)")
	}
}

// dbOptions converts the flags to view options.
func (o *QueryOptions) dbOptions(cmd *cobra.Command) ([]engine.DBOption, error) {
	var opts []engine.DBOption
	if cmd.Flags().Changed("as-of-tx") {
		opts = append(opts, engine.AsOfTx(o.AsOfTx))
	}
	asOf, err := parseTimeFlag("as-of-time", o.AsOfTime)
	if err != nil {
		return nil, err
	}
	if asOf != nil {
		opts = append(opts, engine.AsOfTxTime(*asOf))
	}
	at, err := parseTimeFlag("at", o.At)
	if err != nil {
		return nil, err
	}
	if at != nil {
		opts = append(opts, engine.AtValidTime(*at))
	}
	return opts, nil
}

// view opens a session and the requested view. The caller closes the
// session.
func (o *QueryOptions) view(ctx context.Context, cmd *cobra.Command) (*session, *engine.View, error) {
	dbOpts, err := o.dbOptions(cmd)
	if err != nil {
		return nil, nil, err
	}
	s, err := openSession(ctx, o.RootOptions)
	if err != nil {
		return nil, nil, err
	}
	v, err := s.engine.DB(dbOpts...)
	if err != nil {
		s.Close()
		return nil, nil, WrapExitError(ExitCommandError, "failed to open view", err)
	}
	return s, v, nil
}

// EntityResult is the entity command's output.
type EntityResult struct {
	TxID      int64         `json:"tx_id"`
	ValidTime string        `json:"valid_time"`
	Doc       *doc.Document `json:"doc,omitempty"`
}

// NewEntityCommand creates the entity command.
func NewEntityCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "entity <id>",
		Short: "Show an entity as of a point in both time axes",
		Long: `Show the document an entity holds at a valid time, as the database
knew it at a transaction.

Exit codes:
  0 - Entity visible
  1 - Entity not visible at that point
  2 - Command error

Examples:
  chronicle entity pablo
  chronicle entity pablo --at 2021-06-01T00:00:00Z
  chronicle entity pablo --as-of-tx 3 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntity(cmd, opts, doc.EntityID(args[0]))
		},
	}
	opts.addFlags(cmd, true)

	return cmd
}

func runEntity(cmd *cobra.Command, opts *QueryOptions, id doc.EntityID) error {
	ctx := context.Background()
	out := newFormatter(cmd, opts.RootOptions)

	s, v, err := opts.view(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	d, found, err := v.Entity(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read entity", err)
	}
	result := EntityResult{TxID: v.TxID(), ValidTime: doc.FormatTime(v.ValidTime())}
	if !found {
		return out.Fail(ExitFailure, "E_NOT_FOUND",
			fmt.Sprintf("entity %q not visible at %s as of tx %d", id, result.ValidTime, result.TxID), result, nil)
	}
	result.Doc = &d
	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s as of tx %d at %s\n", id, result.TxID, result.ValidTime)
		fmt.Fprintf(w, "  %s\n", render(d.Attrs))
	})
}

// HistoryResult is the history command's output.
type HistoryResult struct {
	ID       doc.EntityID     `json:"id"`
	TxID     int64            `json:"tx_id"`
	Versions []engine.Version `json:"versions"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "List an entity's versions along valid time",
		Long: `List the versions of an entity along valid time, as the database knew
them at a transaction.

Exit codes:
  0 - At least one version
  1 - No versions
  2 - Command error

Examples:
  chronicle history pablo
  chronicle history pablo --as-of-time 2024-01-01T00:00:05Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts, doc.EntityID(args[0]))
		},
	}
	opts.addFlags(cmd, false)

	return cmd
}

func runHistory(cmd *cobra.Command, opts *QueryOptions, id doc.EntityID) error {
	ctx := context.Background()
	out := newFormatter(cmd, opts.RootOptions)

	s, v, err := opts.view(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	versions, err := v.History(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}
	result := HistoryResult{ID: id, TxID: v.TxID(), Versions: versions}
	if len(versions) == 0 {
		return out.Fail(ExitFailure, "E_NOT_FOUND",
			fmt.Sprintf("entity %q has no versions as of tx %d", id, result.TxID), result, nil)
	}
	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s: %d version(s) as of tx %d\n", id, len(versions), result.TxID)
		for _, ver := range versions {
			to := "∞"
			if ver.ValidTo != nil {
				to = doc.FormatTime(*ver.ValidTo)
			}
			fmt.Fprintf(w, "  [%s, %s) tx %d %s\n", doc.FormatTime(ver.ValidFrom), to, ver.TxID, render(ver.Doc.Attrs))
		}
	})
}
