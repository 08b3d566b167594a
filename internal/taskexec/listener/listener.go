// Package listener implements the parent-side accept loop: a single
// cooperative loop over one net.Listener that dispatches each inbound
// worker message to the task registry and diff applier, and writes back
// an ack frame (possibly carrying an exception).
package listener

import (
	"context"
	"net"
	"sync"
	"time"

	"taskexec/internal/log"
	"taskexec/internal/pubsub"
	"taskexec/internal/taskexec/protocol"
	"taskexec/internal/taskexec/store"
	"taskexec/internal/taskexec/task"
	"taskexec/internal/taskexec/tracing"
	"taskexec/internal/taskexec/wire"
)

// Listener accepts worker connections on a listen socket owned by the
// caller (the executor) and drives the message dispatch loop that applies
// each worker's reported state transitions to the task registry and store.
type Listener struct {
	ln       net.Listener
	registry *task.Registry
	applier  *store.Applier
	events   *pubsub.Broker[task.Event]
	wrap     tracing.Middleware

	ready     chan struct{}
	readyOnce sync.Once
}

// New builds a Listener over ln. middleware may be nil, in which case
// dispatch runs untraced.
func New(ln net.Listener, registry *task.Registry, applier *store.Applier, events *pubsub.Broker[task.Event], middleware tracing.Middleware) *Listener {
	if middleware == nil {
		middleware = func(next tracing.MessageHandler) tracing.MessageHandler { return next }
	}
	return &Listener{
		ln:       ln,
		registry: registry,
		applier:  applier,
		events:   events,
		wrap:     middleware,
		ready:    make(chan struct{}),
	}
}

// Addr returns the bound listen address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// WaitReady blocks until the accept loop has started, or returns
// ErrStartupTimeout after timeout.
func (l *Listener) WaitReady(timeout time.Duration) error {
	select {
	case <-l.ready:
		return nil
	case <-time.After(timeout):
		return ErrStartupTimeout
	}
}

// Run drives the accept loop until a closed message is received or the
// listen socket is closed out from under it. It signals readiness once,
// on entry, before the first Accept call.
func (l *Listener) Run(ctx context.Context) {
	l.readyOnce.Do(func() { close(l.ready) })

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			log.Debug(log.CatListener, "accept loop exiting", "error", err.Error())
			return
		}

		if exit := l.handleConn(ctx, conn); exit {
			return
		}
	}
}

// handleConn processes exactly one inbound connection: one request frame,
// dispatch, one response frame. Reports whether the loop should exit
// (i.e. a closed message was received).
func (l *Listener) handleConn(ctx context.Context, conn net.Conn) bool {
	defer conn.Close()

	payload, err := wire.ReadFrame(conn)
	if err != nil {
		log.Debug(log.CatListener, "reading request frame failed", "error", err.Error())
		return false
	}

	msg, err := protocol.Decode(payload)
	if err != nil {
		log.Debug(log.CatListener, "decoding request failed", "error", err.Error())
		return false
	}

	if msg.Type == protocol.MessageClosed {
		return true
	}

	var respException *protocol.RemoteError
	handler := l.wrap(func(ctx context.Context, taskID, messageType string) error {
		return l.dispatch(ctx, msg, &respException)
	})

	if err := handler(ctx, msg.TaskID, string(msg.Type)); err != nil {
		log.Debug(log.CatListener, "dispatch error", "task_id", msg.TaskID, "type", msg.Type, "error", err.Error())
	}

	resp := protocol.Message{Type: msg.Type, TaskID: msg.TaskID, Exception: respException}
	respPayload, err := protocol.Encode(resp)
	if err != nil {
		log.Debug(log.CatListener, "encoding response failed", "error", err.Error())
		return false
	}
	if err := wire.WriteFrame(conn, respPayload); err != nil {
		log.Debug(log.CatListener, "writing response frame failed", "error", err.Error())
	}
	return false
}

func (l *Listener) dispatch(ctx context.Context, msg protocol.Message, respException **protocol.RemoteError) error {
	switch msg.Type {
	case protocol.MessageStarted:
		return l.handleStarted(msg)
	case protocol.MessageSucceeded:
		return l.handleSucceeded(ctx, msg, respException)
	case protocol.MessageFailed:
		return l.handleFailed(ctx, msg, respException)
	case protocol.MessageApplyTrackedChanges:
		return l.handleApplyTrackedChanges(ctx, msg, respException)
	default:
		*respException = protocol.FromError(ErrUnknownMessageType, "")
		return ErrUnknownMessageType
	}
}

func (l *Listener) handleStarted(msg protocol.Message) error {
	t, ok := l.registry.Get(msg.TaskID)
	if !ok {
		log.Debug(log.CatListener, "started for unknown task", "task_id", msg.TaskID)
		return nil
	}
	t.State = task.StateRunning
	l.publish(msg.TaskID, task.StateRunning)
	return nil
}

func (l *Listener) handleSucceeded(ctx context.Context, msg protocol.Message, respException **protocol.RemoteError) error {
	t, _ := l.registry.Get(msg.TaskID)
	l.registry.Remove(msg.TaskID)

	_, err := l.applier.Apply(ctx, msg.TrackedChanges, msg.NewInstances)
	if err != nil {
		remote := protocol.FromError(err, "")
		*respException = remote
		if t != nil {
			t.State = task.StateFailed
			t.Exception = remote
		}
		l.publish(msg.TaskID, task.StateFailed)
		return err
	}

	if t != nil {
		t.State = task.StateSucceeded
	}
	l.publish(msg.TaskID, task.StateSucceeded)
	return nil
}

func (l *Listener) handleFailed(ctx context.Context, msg protocol.Message, respException **protocol.RemoteError) error {
	t, _ := l.registry.Get(msg.TaskID)
	l.registry.Remove(msg.TaskID)

	_, applyErr := l.applier.Apply(ctx, msg.TrackedChanges, msg.NewInstances)

	combined := msg.Exception
	if applyErr != nil {
		combined = combineFailure(msg.Exception, applyErr)
		*respException = combined
	}

	if t != nil {
		t.State = task.StateFailed
		t.Exception = combined
		t.Traceback = msg.Traceback
	}
	l.publish(msg.TaskID, task.StateFailed)
	return applyErr
}

func (l *Listener) handleApplyTrackedChanges(ctx context.Context, msg protocol.Message, respException **protocol.RemoteError) error {
	if _, ok := l.registry.Get(msg.TaskID); !ok {
		log.Debug(log.CatListener, "apply_tracked_changes for unknown task", "task_id", msg.TaskID)
	}

	_, err := l.applier.Apply(ctx, msg.TrackedChanges, msg.NewInstances)
	if err != nil {
		*respException = protocol.FromError(err, "")
		return err
	}
	return nil
}

func (l *Listener) publish(taskID string, state task.State) {
	if l.events == nil {
		return
	}
	l.events.Publish(pubsub.UpdatedEvent, task.Event{TaskID: taskID, State: state})
}

// combineFailure wraps an apply-time error over the worker's original
// exception, so both are observable: the apply error is the primary
// cause (it's why the task ultimately stayed failed), the worker
// exception is its recorded Cause.
func combineFailure(workerExc *protocol.RemoteError, applyErr error) *protocol.RemoteError {
	combined := protocol.FromError(applyErr, "")
	combined.Cause = workerExc
	return combined
}
