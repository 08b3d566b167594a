package executor

import (
	"io"

	"taskexec/internal/taskexec/protocol"
	"taskexec/internal/taskexec/wire"
)

// sendClosed writes a single closed message frame to conn. The listener
// exits its accept loop on receipt without writing a response, so the
// connection is simply closed by the caller afterward.
func sendClosed(conn io.Writer) error {
	payload, err := protocol.Encode(protocol.Message{Type: protocol.MessageClosed})
	if err != nil {
		return err
	}
	return wire.WriteFrame(conn, payload)
}
