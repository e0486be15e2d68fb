package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/capsulerun/capsule/supervisor"
)

// maxDatagramSize bounds a single read; every message this protocol sends
// is tiny, so this is generous rather than tight.
const maxDatagramSize = 64 * 1024

// Server answers control-plane requests over a loopback UDP socket on
// behalf of one running supervisor.
type Server struct {
	sup        *supervisor.Supervisor
	capsuleDir string
	logger     *slog.Logger

	conn     *net.UDPConn
	stopOnce chan struct{}
}

// NewServer binds Server to sup; capsuleDir is the capsule's `.capsule`
// directory, where the bound port is published.
func NewServer(sup *supervisor.Supervisor, capsuleDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{sup: sup, capsuleDir: capsuleDir, logger: logger, stopOnce: make(chan struct{})}
}

// Serve binds an ephemeral loopback port, publishes it to the port file,
// and answers requests until ctx is cancelled or a Stop request arrives.
// It removes the port file before returning, per spec.md §5's resource
// cleanup rule.
func (s *Server) Serve(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("transport: resolving loopback addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("transport: binding loopback socket: %w", err)
	}
	s.conn = conn
	defer conn.Close()

	portFilePath := filepath.Join(s.capsuleDir, PortFileName)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	if err := os.WriteFile(portFilePath, []byte(strconv.Itoa(port)), 0o644); err != nil {
		return fmt.Errorf("transport: writing port file: %w", err)
	}
	defer os.Remove(portFilePath)

	s.logger.Info("transport.Serve", "port", port, "port_file", portFilePath)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.stopOnce:
				return nil
			default:
				return fmt.Errorf("transport: reading datagram: %w", err)
			}
		}
		stop := s.handle(conn, from, buf[:n])
		if stop {
			close(s.stopOnce)
			return nil
		}
	}
}

// handle decodes one request, applies it to the supervisor, and writes the
// reply back to the requester. Replies are only sent after the action has
// been observed in supervisor state, per spec.md §4.F's ordering guarantee.
func (s *Server) handle(conn *net.UDPConn, from *net.UDPAddr, data []byte) (stop bool) {
	var req Request
	if err := decodeFrame(data, &req); err != nil {
		s.logger.Warn("transport: malformed request", "error", err, "from", from)
		return false
	}

	reply := Reply{CorrelationID: req.CorrelationID}

	switch req.Type {
	case TypeStatus:
		st := s.sup.Status()
		reply.CapsuleVersion = st.CapsuleVersion
		reply.RuntimeVersion = st.RuntimeVersion
		reply.UptimeSec = st.Uptime.Seconds()
		reply.ProcessCount = st.ProcessCount

	case TypeList:
		for _, snap := range s.sup.Snapshot() {
			info := ProcessInfo{
				Name:      snap.Name,
				Status:    string(snap.Status),
				PID:       snap.PID,
				CPUPct:    snap.Stats.CPUPercent,
				MemBytes:  snap.Stats.MemBytes,
				IORead:    snap.Stats.IORead,
				IOWrite:   snap.Stats.IOWrite,
				Restarts:  snap.Restarts,
			}
			if !snap.StartedAt.IsZero() {
				info.UptimeSec = time.Since(snap.StartedAt).Seconds()
			}
			if snap.LastExit != nil {
				info.HasLastExit = true
				info.LastExitCode = snap.LastExit.Code
				info.LastExitSignaled = snap.LastExit.Signaled
			}
			reply.Processes = append(reply.Processes, info)
		}

	case TypeKill:
		reply.Found = s.sup.Kill(req.Name)
		if !reply.Found {
			reply.Error = ErrNotFound
		}

	case TypeRestart:
		reply.Found = s.sup.Restart(req.Name)
		if !reply.Found {
			reply.Error = ErrNotFound
		}

	case TypeKillAll:
		reply.CountKilled = s.sup.KillAll()

	case TypeStop:
		stop = true

	default:
		reply.Error = fmt.Sprintf("unknown request type %q", req.Type)
	}

	s.logger.Info("transport.handle", "type", req.Type, "correlation_id", req.CorrelationID, "process", req.Name)

	frame, err := encodeFrame(reply)
	if err != nil {
		s.logger.Warn("transport: encoding reply", "error", err)
		return stop
	}
	if _, err := conn.WriteToUDP(frame, from); err != nil {
		s.logger.Warn("transport: writing reply", "error", err, "from", from)
	}
	return stop
}
