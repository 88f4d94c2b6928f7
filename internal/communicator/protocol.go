// Package communicator connects the external automated test system to the
// controller over a framed stream (TCP, or vsock when the harness runs in a
// VM). Each frame is a 4-byte big-endian length prefix followed by a JSON
// payload.
package communicator

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/seantiz/dutharness/internal/model"
)

// MaxMessageSize is the maximum allowed frame payload (16 MiB).
const MaxMessageSize = 16 << 20

// Inbound command types.
const (
	CmdConfigure = "configure"
	CmdStart     = "start"
)

// Outbound message types.
const (
	MsgTypeReport = "report"
	MsgTypeAck    = "ack"
	MsgTypeError  = "error"
)

// Command is a request from the test system.
type Command struct {
	Type string   `json:"type"`
	Name string   `json:"name,omitempty"`
	Args []string `json:"args,omitempty"`
}

// Message is the envelope for everything sent to the test system. Reports
// are streamed as they are produced; every command is answered with exactly
// one ack or error message.
type Message struct {
	Type   string        `json:"type"`
	Report *model.Report `json:"report,omitempty"`
	RunID  string        `json:"run_id,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// WriteMessage writes a length-prefixed JSON message to w.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", len(data), MaxMessageSize)
	}

	// Prefix and payload go out in a single write.
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed JSON message from r and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}

	if length > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}

	return nil
}
