package transport

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is the bounded wait for a reply before Client reports a
// connectivity error, per spec.md §4.F.
const DefaultTimeout = 3 * time.Second

// ErrUnreachable means the port file is missing, unreadable, or no
// supervisor answered within the client's timeout.
type ErrUnreachable struct {
	Reason string
}

func (e *ErrUnreachable) Error() string {
	return fmt.Sprintf("transport: supervisor unreachable: %s", e.Reason)
}

// Client sends one control-plane request at a time to a supervisor
// discovered via its capsule directory's port file.
type Client struct {
	Timeout time.Duration

	capsuleDir string
}

// NewClient returns a client for the supervisor whose port file lives under
// capsuleDir. The port file is read, and the socket dialed, only when a
// request is made.
func NewClient(capsuleDir string) *Client {
	return &Client{Timeout: DefaultTimeout, capsuleDir: capsuleDir}
}

func (c *Client) resolveAddr() (*net.UDPAddr, error) {
	portFilePath := filepath.Join(c.capsuleDir, PortFileName)
	data, err := os.ReadFile(portFilePath)
	if err != nil {
		return nil, &ErrUnreachable{Reason: fmt.Sprintf("reading port file %q: %v", portFilePath, err)}
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, &ErrUnreachable{Reason: fmt.Sprintf("port file %q contents %q not a valid port: %v", portFilePath, data, err)}
	}
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}, nil
}

// send dials an ephemeral local port, writes one request datagram, and
// waits up to c.Timeout for the reply.
func (c *Client) send(req Request) (Reply, error) {
	addr, err := c.resolveAddr()
	if err != nil {
		return Reply{}, err
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return Reply{}, &ErrUnreachable{Reason: fmt.Sprintf("dialing %s: %v", addr, err)}
	}
	defer conn.Close()

	frame, err := encodeFrame(req)
	if err != nil {
		return Reply{}, err
	}
	if _, err := conn.Write(frame); err != nil {
		return Reply{}, &ErrUnreachable{Reason: fmt.Sprintf("sending request: %v", err)}
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Reply{}, err
	}

	buf := make([]byte, maxDatagramSize)
	n, err := conn.Read(buf)
	if err != nil {
		return Reply{}, &ErrUnreachable{Reason: fmt.Sprintf("waiting for reply: %v", err)}
	}

	var reply Reply
	if err := decodeFrame(buf[:n], &reply); err != nil {
		return Reply{}, fmt.Errorf("transport: decoding reply: %w", err)
	}
	if reply.CorrelationID != req.CorrelationID {
		return Reply{}, fmt.Errorf("transport: reply correlation ID mismatch: sent %s, got %s", req.CorrelationID, reply.CorrelationID)
	}
	return reply, nil
}

func newRequest(t MessageType, name string) Request {
	return Request{Type: t, CorrelationID: uuid.New(), Name: name}
}

// Status requests the supervisor's overall status.
func (c *Client) Status() (Reply, error) {
	return c.send(newRequest(TypeStatus, ""))
}

// List requests the current state of every managed process.
func (c *Client) List() (Reply, error) {
	return c.send(newRequest(TypeList, ""))
}

// Kill requests that the named process be killed, terminal regardless of
// its restart policy.
func (c *Client) Kill(name string) (Reply, error) {
	return c.send(newRequest(TypeKill, name))
}

// Restart requests that the named process be stopped and relaunched
// immediately.
func (c *Client) Restart(name string) (Reply, error) {
	return c.send(newRequest(TypeRestart, name))
}

// KillAll requests that every live process be killed.
func (c *Client) KillAll() (Reply, error) {
	return c.send(newRequest(TypeKillAll, ""))
}

// Stop requests that the supervisor shut down after this reply.
func (c *Client) Stop() (Reply, error) {
	return c.send(newRequest(TypeStop, ""))
}
