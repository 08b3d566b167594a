// Package bootstrap assembles an Executor, its authoritative store, and its
// tracing provider from a config.Config. cmd/taskexecd, cmd/taskexecctl,
// and cmd/taskmonitor all build their runtime through this single path, so
// the wiring between config, store, applier, and executor lives in exactly
// one place.
package bootstrap

import (
	"context"
	"fmt"

	"taskexec/internal/config"
	"taskexec/internal/log"
	"taskexec/internal/pubsub"
	"taskexec/internal/taskexec/executor"
	"taskexec/internal/taskexec/store"
	"taskexec/internal/taskexec/store/sqlitestore"
	"taskexec/internal/taskexec/task"
	"taskexec/internal/taskexec/tracing"
)

// Runtime bundles every long-lived resource a running executor owns, so
// callers have a single handle to shut down in reverse wiring order.
type Runtime struct {
	Executor *executor.Executor
	Events   *pubsub.Broker[task.Event]
	Tracer   *tracing.Provider

	db *sqlitestore.DB
}

// Start opens the authoritative store, the tracing provider, and the
// executor in that order, wiring each into the next. If cfg.Tracing is
// disabled, Tracer is a zero-overhead no-op provider (see tracing.NewProvider).
func Start(cfg config.Config) (*Runtime, error) {
	db, err := sqlitestore.NewDB(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: opening store: %w", err)
	}

	tracingCfg := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  cfg.Tracing.ServiceName,
	}
	provider, err := tracing.NewProvider(tracingCfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: starting tracer: %w", err)
	}

	events := pubsub.NewBroker[task.Event]()
	applier := store.NewApplier(db.ModelStore())

	middleware := tracing.NewListenerMiddleware(tracing.MiddlewareConfig{Tracer: provider.Tracer()})

	exec, err := executor.New(executor.Config{
		ListenAddr:      cfg.ListenAddr,
		WorkerBinary:    cfg.WorkerBinary,
		PluginDirs:      cfg.PluginDirs,
		PluginEnv:       cfg.PluginEnv,
		ShutdownTimeout: cfg.Executor.ShutdownTimeout,
		StartupTimeout:  cfg.Executor.StartupTimeout,
		Applier:         applier,
		Events:          events,
		Tracer:          middleware,
	})
	if err != nil {
		_ = provider.Shutdown(context.Background())
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: starting executor: %w", err)
	}

	return &Runtime{Executor: exec, Events: events, Tracer: provider, db: db}, nil
}

// Close tears down the executor, tracer, and store, in that order, logging
// (rather than failing fast on) any individual shutdown error so the others
// still run.
func (r *Runtime) Close() error {
	var firstErr error
	if err := r.Executor.Close(); err != nil {
		log.Error(log.CatExecutor, "closing executor", "error", err.Error())
		firstErr = err
	}
	r.Events.Close()
	if err := r.Tracer.Shutdown(context.Background()); err != nil {
		log.Error(log.CatExecutor, "shutting down tracer", "error", err.Error())
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := r.db.Close(); err != nil {
		log.Error(log.CatExecutor, "closing store", "error", err.Error())
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
