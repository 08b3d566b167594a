package executor

import (
	"time"

	"taskexec/internal/pubsub"
	"taskexec/internal/taskexec/store"
	"taskexec/internal/taskexec/task"
	"taskexec/internal/taskexec/tracing"
)

// Config configures a new Executor.
type Config struct {
	// ListenAddr is the address to bind the parent's loopback socket.
	// Defaults to an ephemeral port on loopback ("127.0.0.1:0").
	ListenAddr string

	// WorkerBinary is the path to the taskworker executable spawned per
	// submitted task.
	WorkerBinary string

	// PluginDirs are extra module search directories propagated to the
	// worker's environment.
	PluginDirs []string

	// PluginEnv holds additional environment variables merged into the
	// worker's inherited environment.
	PluginEnv map[string]string

	// ShutdownTimeout bounds how long Close waits for the listener to
	// join. Defaults to 60s.
	ShutdownTimeout time.Duration

	// StartupTimeout bounds how long New waits for the listener to
	// signal readiness. Defaults to 60s.
	StartupTimeout time.Duration

	Applier *store.Applier
	Events  *pubsub.Broker[task.Event]
	Tracer  tracing.Middleware // optional; nil runs the listener untraced
}

func (c *Config) setDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:0"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 60 * time.Second
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = 60 * time.Second
	}
}
