package cli

import (
	"context"
	"errors"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/chronicle/internal/checkpoint"
	"github.com/roach88/chronicle/internal/engine"
	"github.com/roach88/chronicle/internal/metrics"
	"github.com/roach88/chronicle/internal/store"
)

// session is an open database with a running engine.
type session struct {
	store       *store.Store
	engine      *engine.Engine
	checkpoints *checkpoint.Store // nil without a configured path
	metrics     *metrics.Metrics  // nil when disabled

	cancel context.CancelFunc
	done   chan error
}

// openSession opens the configured database and starts the engine's Run
// loop. Callers must Close it.
func openSession(ctx context.Context, opts *RootOptions) (*session, error) {
	cfg := opts.Config
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	s := &session{store: st}

	engineOpts := []engine.Option{
		engine.WithMaxOpsPerTx(cfg.Engine.MaxOpsPerTx),
		engine.WithMaxInvokeDepth(cfg.Engine.MaxInvokeDepth),
		engine.WithCacheSize(cfg.Engine.CacheSize),
		engine.WithSyncTimeout(cfg.Engine.SyncTimeout),
	}
	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
		engineOpts = append(engineOpts, engine.WithMetrics(s.metrics))
	}
	if cfg.Checkpoint.Path != "" {
		cp, err := checkpoint.Open(cfg.Checkpoint.Path, checkpoint.Options{})
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open checkpoint", err)
		}
		s.checkpoints = cp
		engineOpts = append(engineOpts, engine.WithCheckpointer(cp, cfg.Checkpoint.Every))
	}

	eng, err := engine.New(ctx, st, engineOpts...)
	if err != nil {
		s.closeStores()
		return nil, WrapExitError(ExitCommandError, "failed to open engine", err)
	}
	s.engine = eng

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() { s.done <- eng.Run(runCtx) }()
	return s, nil
}

// Close drains the engine and closes the stores.
func (s *session) Close() error {
	var result *multierror.Error
	s.engine.Stop()
	if err := <-s.done; err != nil && !errors.Is(err, context.Canceled) {
		result = multierror.Append(result, err)
	}
	s.cancel()
	if err := s.closeStores(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (s *session) closeStores() error {
	var result *multierror.Error
	if s.checkpoints != nil {
		if err := s.checkpoints.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.store.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
