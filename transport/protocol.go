// Package transport implements the loopback control channel between the
// capsule CLI and a running supervisor (spec.md §4.F): a UDP datagram
// socket carrying length-prefixed, JSON-encoded request/reply messages.
package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// PortFileName is the file, relative to a capsule's .capsule directory,
// that the server publishes its bound port to and the client reads it
// from.
const PortFileName = "capsule.port"

// MessageType tags a Request/Reply's payload shape.
type MessageType string

const (
	TypeStatus  MessageType = "status"
	TypeList    MessageType = "list"
	TypeKill    MessageType = "kill"
	TypeRestart MessageType = "restart"
	TypeKillAll MessageType = "kill_all"
	TypeStop    MessageType = "stop"
)

// Request is one control-plane datagram sent by a client. Name is only
// meaningful for Kill/Restart.
type Request struct {
	Type          MessageType `json:"type"`
	CorrelationID uuid.UUID   `json:"correlation_id"`
	Name          string      `json:"name,omitempty"`
}

// ProcessInfo is one row of a List reply.
type ProcessInfo struct {
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	PID       int     `json:"pid,omitempty"`
	CPUPct    float64 `json:"cpu_pct"`
	MemBytes  uint64  `json:"mem_bytes"`
	IORead    uint64  `json:"io_read"`
	IOWrite   uint64  `json:"io_write"`
	UptimeSec float64 `json:"uptime_sec"`
	Restarts  int     `json:"restarts"`

	// LastExit describes the most recent exit observed for this process, if
	// any; HasLastExit is false until the first exit.
	HasLastExit      bool `json:"has_last_exit,omitempty"`
	LastExitCode     int  `json:"last_exit_code,omitempty"`
	LastExitSignaled bool `json:"last_exit_signaled,omitempty"`
}

// Reply is one control-plane datagram sent back by the server, echoing the
// correlation ID of the request it answers. Only the field(s) relevant to
// the original request type are populated.
type Reply struct {
	CorrelationID uuid.UUID `json:"correlation_id"`

	Error string `json:"error,omitempty"`

	// Status
	CapsuleVersion string  `json:"capsule_version,omitempty"`
	RuntimeVersion string  `json:"runtime_version,omitempty"`
	UptimeSec      float64 `json:"uptime_sec,omitempty"`
	ProcessCount   int     `json:"process_count,omitempty"`

	// List
	Processes []ProcessInfo `json:"processes,omitempty"`

	// Kill / Restart
	Found bool `json:"found"`

	// KillAll
	CountKilled int `json:"count_killed"`
}

// ErrNotFound is returned (as Reply.Error) when Kill or Restart names a
// process the supervisor does not manage.
const ErrNotFound = "not_found"

// encodeFrame writes a 4-byte little-endian length prefix followed by the
// JSON encoding of v. The length prefix lets a receiver detect a truncated
// read even though a UDP datagram already preserves its own boundary.
func encodeFrame(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("transport: encoding frame: %w", err)
	}
	frame := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// decodeFrame validates the length prefix against the actual datagram size
// and unmarshals the body into v.
func decodeFrame(data []byte, v any) error {
	if len(data) < 4 {
		return io.ErrUnexpectedEOF
	}
	n := binary.LittleEndian.Uint32(data[:4])
	body := data[4:]
	if uint64(len(body)) != uint64(n) {
		return fmt.Errorf("transport: frame length mismatch: header says %d, got %d bytes", n, len(body))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("transport: decoding frame: %w", err)
	}
	return nil
}
