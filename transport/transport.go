// Package transport collects the pieces shared by every byte-pipe
// transport plugged into the node runtime (spec layer L2): a common
// frame codec and a FlowControlId type for naming one connection.
package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// MaxFrameSize bounds a single TransportMessage frame. Larger frames are
// rejected rather than accepted and truncated.
const MaxFrameSize = 256 * 1024

// FlowControlId identifies one accepted or dialed connection. No
// transport in this module attaches one to the messages it delivers, and
// the secure channel does not check which connection its ciphertext
// arrived over.
type FlowControlId string

// NewFlowControlId mints a fresh, unguessable FlowControlId.
func NewFlowControlId() FlowControlId {
	return FlowControlId(uuid.NewString())
}

// WriteFrame writes data as one length-prefixed frame: a 4-byte
// big-endian length followed by data itself.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("transport: frame of %d bytes exceeds max %d", len(data), MaxFrameSize)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("transport: write frame header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame written by WriteFrame. It
// relies on bufio.Reader to absorb the TCP stream's arbitrary slicing of
// the header and body across reads -- the Go equivalent of the
// accumulate-then-slide buffer a non-blocking runtime needs by hand.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("transport: incoming frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("transport: read frame body: %w", err)
	}
	return buf, nil
}
