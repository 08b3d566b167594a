package workerentry_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskexec/internal/taskexec/callable"
	"taskexec/internal/taskexec/instrument"
	"taskexec/internal/taskexec/protocol"
	"taskexec/internal/taskexec/wire"
	"taskexec/internal/taskexec/workerentry"
)

type argsFileJSON struct {
	TaskID          string               `json:"task_id"`
	Implementation  string               `json:"implementation"`
	OperationInputs map[string]any       `json:"operation_inputs"`
	Port            int                  `json:"port"`
	Context         protocol.ContextBlob `json:"context"`
}

func writeTestArgsFile(t *testing.T, port int, implementation string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "args-*.json")
	require.NoError(t, err)
	defer f.Close()

	err = json.NewEncoder(f).Encode(argsFileJSON{
		TaskID:          "t1",
		Implementation:  implementation,
		OperationInputs: map[string]any{"x": float64(1)},
		Port:            port,
		Context:         protocol.ContextBlob{ContextClass: "pkgtest.Ctx", Context: map[string]any{"k": "v"}},
	})
	require.NoError(t, err)
	return f.Name()
}

// recordingParent accepts every connection on a loopback listener, decodes
// one frame each, records it, and replies with an ack carrying no
// exception unless respond overrides it.
type recordingParent struct {
	ln        net.Listener
	mu        chan struct{}
	messages  []protocol.Message
	respondFn func(protocol.Message) protocol.Message
}

func newRecordingParent(t *testing.T, respond func(protocol.Message) protocol.Message) *recordingParent {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &recordingParent{ln: ln, mu: make(chan struct{}, 16), respondFn: respond}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go p.handle(conn)
		}
	}()
	return p
}

func (p *recordingParent) handle(conn net.Conn) {
	defer conn.Close()
	payload, err := wire.ReadFrame(conn)
	if err != nil {
		return
	}
	req, err := protocol.Decode(payload)
	if err != nil {
		return
	}
	p.messages = append(p.messages, req)

	resp := protocol.Message{Type: req.Type, TaskID: req.TaskID}
	if p.respondFn != nil {
		resp = p.respondFn(req)
	}
	respPayload, err := protocol.Encode(resp)
	if err != nil {
		return
	}
	_ = wire.WriteFrame(conn, respPayload)
	p.mu <- struct{}{}
}

func (p *recordingParent) port() int {
	return p.ln.Addr().(*net.TCPAddr).Port
}

func (p *recordingParent) waitForMessages(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-p.mu:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d/%d", i+1, n)
		}
	}
}

func fakeLoader(t *testing.T) instrument.Loader {
	t.Helper()
	return fakeLoaderFunc(func(model, entityID string) (map[string]any, bool) {
		return nil, false
	})
}

type fakeLoaderFunc func(model, entityID string) (map[string]any, bool)

func (f fakeLoaderFunc) Load(model, entityID string) (map[string]any, bool) {
	return f(model, entityID)
}

func TestRun_CallableSucceeds_SendsStartedThenSucceeded(t *testing.T) {
	callable.Register("pkgtest.workerentry.Ok", func(ctx context.Context, facade *instrument.Facade, taskCtx, inputs map[string]any) error {
		facade.Set("Node", "n1", "title", nil, "hello")
		return nil
	})

	parent := newRecordingParent(t, nil)
	argsPath := writeTestArgsFile(t, parent.port(), "pkgtest.workerentry.Ok")

	registry := instrument.NewRegistry()
	resolver := callable.NewResolver(time.Minute)
	built := false
	buildCtx := func(blob protocol.ContextBlob) (map[string]any, instrument.Loader, error) {
		built = true
		require.Equal(t, "pkgtest.Ctx", blob.ContextClass)
		return blob.Context, fakeLoader(t), nil
	}

	workerentry.Run(context.Background(), argsPath, registry, resolver, buildCtx)

	parent.waitForMessages(t, 2)
	require.True(t, built)
	require.NoFileExists(t, argsPath)

	require.Equal(t, protocol.MessageStarted, parent.messages[0].Type)
	require.Equal(t, protocol.MessageSucceeded, parent.messages[1].Type)
	require.Equal(t, "hello", parent.messages[1].TrackedChanges["Node"]["n1"]["title"].Scalar.Current)
}

func TestRun_CallableReturnsError_SendsFailedWithDiff(t *testing.T) {
	callable.Register("pkgtest.workerentry.Fails", func(ctx context.Context, facade *instrument.Facade, taskCtx, inputs map[string]any) error {
		facade.Set("Node", "n1", "title", nil, "partial")
		return errors.New("boom")
	})

	parent := newRecordingParent(t, nil)
	argsPath := writeTestArgsFile(t, parent.port(), "pkgtest.workerentry.Fails")

	registry := instrument.NewRegistry()
	resolver := callable.NewResolver(time.Minute)
	buildCtx := func(blob protocol.ContextBlob) (map[string]any, instrument.Loader, error) {
		return blob.Context, fakeLoader(t), nil
	}

	workerentry.Run(context.Background(), argsPath, registry, resolver, buildCtx)

	parent.waitForMessages(t, 2)
	require.Equal(t, protocol.MessageFailed, parent.messages[1].Type)
	require.Contains(t, parent.messages[1].Exception.Message, "boom")
	require.Equal(t, "partial", parent.messages[1].TrackedChanges["Node"]["n1"]["title"].Scalar.Current)
}

func TestRun_CallablePanics_SendsFailedInsteadOfCrashing(t *testing.T) {
	callable.Register("pkgtest.workerentry.Panics", func(ctx context.Context, facade *instrument.Facade, taskCtx, inputs map[string]any) error {
		panic("unexpected")
	})

	parent := newRecordingParent(t, nil)
	argsPath := writeTestArgsFile(t, parent.port(), "pkgtest.workerentry.Panics")

	registry := instrument.NewRegistry()
	resolver := callable.NewResolver(time.Minute)
	buildCtx := func(blob protocol.ContextBlob) (map[string]any, instrument.Loader, error) {
		return blob.Context, fakeLoader(t), nil
	}

	require.NotPanics(t, func() {
		workerentry.Run(context.Background(), argsPath, registry, resolver, buildCtx)
	})

	parent.waitForMessages(t, 2)
	require.Equal(t, protocol.MessageFailed, parent.messages[1].Type)
	require.Contains(t, parent.messages[1].Exception.Message, "panicked")
}

func TestRun_UnresolvableCallable_SendsStartedThenFailed(t *testing.T) {
	parent := newRecordingParent(t, nil)
	argsPath := writeTestArgsFile(t, parent.port(), "pkgtest.workerentry.DoesNotExist")

	registry := instrument.NewRegistry()
	resolver := callable.NewResolver(time.Minute)
	buildCtx := func(blob protocol.ContextBlob) (map[string]any, instrument.Loader, error) {
		return blob.Context, fakeLoader(t), nil
	}

	workerentry.Run(context.Background(), argsPath, registry, resolver, buildCtx)

	parent.waitForMessages(t, 2)
	require.Equal(t, protocol.MessageStarted, parent.messages[0].Type)
	require.Equal(t, protocol.MessageFailed, parent.messages[1].Type)
}

func TestRun_ContextBuildFails_SendsFailedWithoutStarted(t *testing.T) {
	parent := newRecordingParent(t, nil)
	argsPath := writeTestArgsFile(t, parent.port(), "pkgtest.workerentry.Unreached")

	registry := instrument.NewRegistry()
	resolver := callable.NewResolver(time.Minute)
	buildCtx := func(blob protocol.ContextBlob) (map[string]any, instrument.Loader, error) {
		return nil, nil, errors.New("bad context class")
	}

	workerentry.Run(context.Background(), argsPath, registry, resolver, buildCtx)

	parent.waitForMessages(t, 1)
	require.Len(t, parent.messages, 1)
	require.Equal(t, protocol.MessageFailed, parent.messages[0].Type)
	require.Contains(t, parent.messages[0].Exception.Message, "bad context class")
}
