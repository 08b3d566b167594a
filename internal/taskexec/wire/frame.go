// Package wire implements the length-prefixed frame codec used between the
// executor and its worker processes: each frame is a 4-byte little-endian
// length prefix followed by that many bytes of payload.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds the accepted payload length, guarding against a
// corrupt length prefix causing an unbounded allocation.
const MaxFrameSize = 64 << 20 // 64 MiB

// ErrFrameTooLarge is returned when a frame's declared length exceeds MaxFrameSize.
var ErrFrameTooLarge = fmt.Errorf("wire: frame exceeds maximum size of %d bytes", MaxFrameSize)

// ReadFrame reads one length-prefixed frame from r: 4 bytes giving the
// payload length, then exactly that many payload bytes. A short read at any
// point (including on the length prefix) is a protocol error — framing
// errors are fatal for the connection and are never retried.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: reading frame length: %w", err)
	}

	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: reading frame payload (want %d bytes): %w", n, err)
	}

	return payload, nil
}

// WriteFrame writes the length prefix followed by the full payload. The
// payload is written completely before returning, or an error is returned
// and the connection should be considered unusable.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: writing frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: writing frame payload: %w", err)
	}
	return nil
}
