package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/partnum/internal/assign"
	"github.com/roach88/partnum/internal/config"
	"github.com/roach88/partnum/internal/store"
)

// session is an open mapping store with its orchestrator, shared by every
// store-backed command.
type session struct {
	cfg      *config.Config
	store    *store.Store
	orch     *assign.Orchestrator
	registry *prometheus.Registry

	metricsFile string
}

// loadConfig resolves configuration: .env, the CUE file, environment
// overrides, then flags.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if err := config.LoadDotEnv(""); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if opts.StorePath != "" {
		cfg.Store.Path = opts.StorePath
	}
	if opts.Backend != "" {
		cfg.Store.Backend = opts.Backend
	}
	return cfg, cfg.Validate()
}

// openBackend opens the durable backend the config names.
func openBackend(cfg *config.Config) (store.Backend, error) {
	path := cfg.StorePath()
	switch cfg.Store.Backend {
	case config.BackendJSONFile:
		return store.OpenJSONFile(path)
	case config.BackendSQLite:
		return store.OpenSQLite(path, cfg.Store.Timeout)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// openSession loads config and opens the store. Errors are command errors
// (exit code 2) already reported through f.
func openSession(ctx context.Context, opts *RootOptions, f *OutputFormatter) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		_ = f.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, ErrCodeConfig, err)
	}

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, fail(f, ExitCommandError, fmt.Errorf("open store %s: %w", cfg.StorePath(), err))
	}

	registry := prometheus.NewRegistry()
	metrics := assign.NewMetrics(registry)

	st, err := store.Open(ctx, backend,
		store.WithTimeout(cfg.Store.Timeout),
		store.WithFlushObserver(metrics.ObserveFlush),
	)
	if err != nil {
		backend.Close()
		return nil, fail(f, ExitCommandError, err)
	}

	orch, err := assign.New(ctx, st, cfg.Normalizer(),
		assign.WithAllocator(cfg.NewAllocator()),
		assign.WithMetrics(metrics),
	)
	if err != nil {
		st.Close()
		return nil, fail(f, ExitCommandError, err)
	}

	f.VerboseLog("store: %s (%s)", cfg.StorePath(), cfg.Store.Backend)
	slog.Debug("store opened", "backend", cfg.Store.Backend, "path", cfg.StorePath())

	return &session{
		cfg:         cfg,
		store:       st,
		orch:        orch,
		registry:    registry,
		metricsFile: opts.MetricsTextfile,
	}, nil
}

// Close closes the store and writes the metrics textfile if one was asked
// for.
func (s *session) Close() error {
	var result *multierror.Error
	if err := s.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close store: %w", err))
	}
	if s.metricsFile != "" {
		if err := prometheus.WriteToTextfile(s.metricsFile, s.registry); err != nil {
			result = multierror.Append(result, fmt.Errorf("write metrics: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// withSession runs fn against an open session and closes it afterwards.
func withSession(cmd *cobra.Command, opts *RootOptions, f *OutputFormatter, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx, opts, f)
	if err != nil {
		return err
	}
	err = fn(ctx, s)
	if closeErr := s.Close(); closeErr != nil {
		slog.Error("error closing session", "error", closeErr)
		if err == nil {
			err = fail(f, ExitFailure, closeErr)
		}
	}
	return err
}
