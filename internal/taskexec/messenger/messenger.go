// Package messenger implements the worker-side client for the parent
// protocol: one short-lived connection per message, request frame sent,
// response frame awaited, connection closed.
package messenger

import (
	"context"
	"fmt"
	"net"

	"taskexec/internal/log"
	"taskexec/internal/taskexec/instrument"
	"taskexec/internal/taskexec/protocol"
	"taskexec/internal/taskexec/wire"
)

// Messenger sends status messages to the parent's listen port on behalf of
// a single task.
type Messenger struct {
	addr   string
	taskID string
	dialer net.Dialer
}

// New builds a Messenger bound to addr (the parent's listen address) and
// taskID.
func New(addr, taskID string) *Messenger {
	return &Messenger{addr: addr, taskID: taskID}
}

// Started sends the started message and awaits the parent's ack.
func (m *Messenger) Started(ctx context.Context) error {
	_, err := m.send(ctx, protocol.Message{Type: protocol.MessageStarted, TaskID: m.taskID})
	return err
}

// Succeeded sends the terminal succeeded message with the task's final
// diff.
func (m *Messenger) Succeeded(ctx context.Context, changes protocol.ModelChanges, newInstances protocol.NewInstances) error {
	_, err := m.send(ctx, protocol.Message{
		Type:           protocol.MessageSucceeded,
		TaskID:         m.taskID,
		TrackedChanges: changes,
		NewInstances:   newInstances,
	})
	return err
}

// Failed sends the terminal failed message with the task's partial diff
// and the exception that aborted it.
func (m *Messenger) Failed(ctx context.Context, changes protocol.ModelChanges, newInstances protocol.NewInstances, exception *protocol.RemoteError) error {
	_, err := m.send(ctx, protocol.Message{
		Type:           protocol.MessageFailed,
		TaskID:         m.taskID,
		TrackedChanges: changes,
		NewInstances:   newInstances,
		Exception:      exception,
	})
	return err
}

// ApplyTrackedChanges sends a mid-execution flush of the diff accumulated
// so far; it may be called multiple times over one task's lifetime.
func (m *Messenger) ApplyTrackedChanges(ctx context.Context, changes protocol.ModelChanges, newInstances protocol.NewInstances) error {
	_, err := m.send(ctx, protocol.Message{
		Type:           protocol.MessageApplyTrackedChanges,
		TaskID:         m.taskID,
		TrackedChanges: changes,
		NewInstances:   newInstances,
	})
	return err
}

// FlushScope is a convenience wrapper that snapshots scope's accumulated
// change set and sends it as an apply_tracked_changes message, for callers
// that commit mid-task.
func (m *Messenger) FlushScope(ctx context.Context, scope *instrument.Scope) error {
	changes, newInstances := scope.ChangeSet().Snapshot()
	return m.ApplyTrackedChanges(ctx, changes, newInstances)
}

// send opens a fresh connection, writes msg as a single frame, reads
// exactly one response frame, and closes. If the response carries an
// exception, send returns it as an error so the worker can abort rather
// than continue against state the parent failed to commit.
func (m *Messenger) send(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	conn, err := m.dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("messenger: dialing %s: %w", m.addr, err)
	}
	defer conn.Close()

	log.Debug(log.CatMessenger, "sending message", "task_id", m.taskID, "type", msg.Type)

	payload, err := protocol.Encode(msg)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("messenger: encoding %s: %w", msg.Type, err)
	}
	if err := wire.WriteFrame(conn, payload); err != nil {
		return protocol.Message{}, fmt.Errorf("messenger: writing %s frame: %w", msg.Type, err)
	}

	respPayload, err := wire.ReadFrame(conn)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("messenger: reading response to %s: %w", msg.Type, err)
	}

	resp, err := protocol.Decode(respPayload)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("messenger: decoding response to %s: %w", msg.Type, err)
	}

	if resp.Exception != nil {
		return resp, resp.Exception
	}
	return resp, nil
}
