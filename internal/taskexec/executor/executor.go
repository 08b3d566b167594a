// Package executor implements the parent-side lifecycle: socket setup,
// worker spawn, task registry, and graceful shutdown.
package executor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"taskexec/internal/log"
	"taskexec/internal/taskexec/listener"
	"taskexec/internal/taskexec/task"
)

// Executor owns the parent's listen socket, the task registry, and the
// worker processes it spawns.
type Executor struct {
	cfg      Config
	ln       net.Listener
	listener *listener.Listener
	registry *task.Registry

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// New binds the listen socket, starts the accept loop, and waits for it to
// signal readiness.
func New(cfg Config) (*Executor, error) {
	cfg.setDefaults()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("executor: binding %s: %w", cfg.ListenAddr, err)
	}

	registry := task.NewRegistry()
	l := listener.New(ln, registry, cfg.Applier, cfg.Events, cfg.Tracer)

	e := &Executor{
		cfg:      cfg,
		ln:       ln,
		listener: l,
		registry: registry,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(e.done)
		l.Run(context.Background())
	}()

	if err := l.WaitReady(cfg.StartupTimeout); err != nil {
		_ = ln.Close()
		return nil, err
	}

	log.Info(log.CatExecutor, "executor started", "addr", ln.Addr().String())
	return e, nil
}

// Addr returns the parent's listen address, passed to spawned workers as
// the port they connect back to.
func (e *Executor) Addr() net.Addr {
	return e.ln.Addr()
}

// Submit registers t and spawns a worker process to run it. Submit returns
// as soon as the worker has been started; it does not wait for any
// message from it.
func (e *Executor) Submit(ctx context.Context, t *task.Task) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.mu.Unlock()

	t.State = task.StateSubmitted
	e.registry.Insert(t)

	port := 0
	if tcpAddr, ok := e.ln.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	args := ArgsFile{
		TaskID:          t.ID,
		Implementation:  fmt.Sprintf("%s.%s", t.Callable.ModulePath, t.Callable.Attribute),
		OperationInputs: t.Inputs,
		Port:            port,
		Context:         t.Context,
	}

	argsPath, err := writeArgsFile(args)
	if err != nil {
		e.registry.Remove(t.ID)
		return err
	}

	cmd := exec.CommandContext(ctx, e.cfg.WorkerBinary, argsPath)
	cmd.Env = e.workerEnv()

	if err := cmd.Start(); err != nil {
		e.registry.Remove(t.ID)
		_ = os.Remove(argsPath)
		return fmt.Errorf("executor: spawning worker for task %s: %w", t.ID, err)
	}

	log.Debug(log.CatExecutor, "spawned worker", "task_id", t.ID, "pid", cmd.Process.Pid)

	// Reap the worker process in the background without blocking Submit;
	// the executor doesn't track its exit status.
	go func() { _ = cmd.Wait() }()

	return nil
}

// workerEnv builds the spawned worker's environment: the parent's full
// environment, plugin-specific entries, and an augmented module search
// path listing the executor's configured plugin directories.
func (e *Executor) workerEnv() []string {
	env := os.Environ()
	for k, v := range e.cfg.PluginEnv {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	if len(e.cfg.PluginDirs) > 0 {
		env = append(env, "TASKEXEC_MODULE_PATH="+strings.Join(e.cfg.PluginDirs, string(os.PathListSeparator)))
	}
	return env
}

// Close is idempotent. It wakes the listener with a closed self-message,
// closes the listen socket, and waits (bounded by ShutdownTimeout) for the
// accept loop to return. Close does not wait for outstanding tasks.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if err := e.wakeListener(); err != nil {
		log.Debug(log.CatExecutor, "self-wakeup failed", "error", err.Error())
	}
	_ = e.ln.Close()

	select {
	case <-e.done:
		log.Info(log.CatExecutor, "executor closed")
		return nil
	case <-time.After(e.cfg.ShutdownTimeout):
		return ErrTimeout
	}
}

func (e *Executor) wakeListener() error {
	conn, err := net.Dial("tcp", e.ln.Addr().String())
	if err != nil {
		return err
	}
	defer conn.Close()

	return sendClosed(conn)
}
