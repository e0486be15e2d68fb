package supervisor

import (
	"bytes"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/capsulerun/capsule/manifest"
)

type restartKind int

const (
	restartNone restartKind = iota
	restartImmediate
	restartDelayed
)

type restartDecision struct {
	kind  restartKind
	delay time.Duration
}

// decide applies spec.md §4.E's restart-policy table to a (non-explicit-kill)
// exit.
func decide(spec processRestartPolicy, failed bool) restartDecision {
	switch spec.policy {
	case policyNever:
		return restartDecision{kind: restartNone}
	case policyAlways:
		return restartDecision{kind: restartDelayed, delay: spec.delay}
	case policyOnFailure:
		if failed {
			return restartDecision{kind: restartDelayed, delay: spec.delay}
		}
		return restartDecision{kind: restartNone}
	default:
		return restartDecision{kind: restartNone}
	}
}

type processRestartPolicy struct {
	policy policyKind
	delay  time.Duration
}

type policyKind int

const (
	policyNever policyKind = iota
	policyAlways
	policyOnFailure
)

// prepareRun resets a ProcessState for a fresh supervise loop: marks it
// alive and gives it a new command/done channel pair. It is synchronous so
// that a caller relaunching a terminal process (Supervisor.Restart) can
// observe the alive transition before the loop itself starts running in its
// own goroutine.
func (s *Supervisor) prepareRun(ps *ProcessState) {
	ps.mu.Lock()
	ps.alive = true
	ps.cmdCh = make(chan cmdMsg)
	ps.doneCh = make(chan struct{})
	ps.mu.Unlock()
}

// run is the per-process supervise/wait/respawn loop, grounded in the
// classic "launch, wait, multiplex against commands and a quit signal"
// shape: one goroutine per managed process, a command channel for
// kill/restart, and a process-table-wide shutdown signal.
func (s *Supervisor) run(ps *ProcessState) {
	s.prepareRun(ps)
	s.runLoop(ps)
}

// runLoop is the loop body proper; it assumes prepareRun has already been
// called (synchronously, by the caller) to establish alive/cmdCh/doneCh.
func (s *Supervisor) runLoop(ps *ProcessState) {
	defer func() {
		ps.mu.Lock()
		ps.alive = false
		ps.mu.Unlock()
		close(ps.doneCh)
	}()

	policy := restartPolicyOf(ps.Spec)

	for {
		select {
		case <-s.shutdownCh:
			return
		default:
		}

		explicitKill, explicitRestart, failed := s.launchAndWait(ps)

		if explicitKill {
			ps.setStatus(StatusKilled)
			s.logf(ps.Name, "killed")
			s.traceEvent(ps.Name, "process.killed")
			return
		}

		var dec restartDecision
		if explicitRestart {
			dec = restartDecision{kind: restartImmediate}
		} else {
			dec = decide(policy, failed)
			if dec.kind == restartNone {
				if failed {
					ps.setStatus(StatusStoppedFailure)
				} else {
					ps.setStatus(StatusStoppedSuccess)
				}
				s.logf(ps.Name, "stopped", "failed", failed)
				s.traceEvent(ps.Name, "process.stopped", attribute.Bool("failed", failed))
				return
			}
		}

		ps.mu.Lock()
		ps.Restarts++
		ps.mu.Unlock()

		if dec.kind == restartImmediate {
			continue
		}

		ps.setStatus(StatusRestartPending)
		s.logf(ps.Name, "restart scheduled", "delay", dec.delay)
		s.traceEvent(ps.Name, "process.restart_scheduled", attribute.Int64("delay_ms", dec.delay.Milliseconds()))
		select {
		case <-s.shutdownCh:
			ps.setStatus(StatusKilled)
			return
		case msg := <-ps.cmdCh:
			if msg.kind == cmdKill {
				ps.setStatus(StatusKilled)
				s.logf(ps.Name, "killed while restart pending")
				s.traceEvent(ps.Name, "process.killed")
				close(msg.ack)
				return
			}
			// cmdRestart while pending: restart immediately.
			close(msg.ack)
		case <-time.After(dec.delay):
		}
	}
}

// launchAndWait spawns the process, blocks until it exits (honoring
// kill/restart commands and supervisor shutdown in the meantime), and
// reports how the exit came about.
func (s *Supervisor) launchAndWait(ps *ProcessState) (explicitKill, explicitRestart, failed bool) {
	ps.setStatus(StatusStarting)

	cmd, err := s.buildCmd(ps)
	if err != nil {
		s.logf(ps.Name, "spawn error", "error", err)
		return false, false, true
	}

	if err := cmd.Start(); err != nil {
		s.logf(ps.Name, "spawn error", "error", err)
		return false, false, true
	}

	ps.mu.Lock()
	ps.cmd = cmd
	ps.PID = cmd.Process.Pid
	ps.StartedAt = time.Now()
	ps.mu.Unlock()
	ps.setStatus(StatusRunning)
	s.logf(ps.Name, "launched", "pid", ps.PID)
	s.traceEvent(ps.Name, "process.launched", attribute.Int("pid", ps.PID))

	waitErrCh := make(chan error, 1)
	go func() { waitErrCh <- cmd.Wait() }()

	for {
		select {
		case err := <-waitErrCh:
			s.recordExit(ps, cmd)
			return explicitKill, explicitRestart, exitFailed(err)
		case msg := <-ps.cmdCh:
			switch msg.kind {
			case cmdKill:
				explicitKill = true
				s.signal(ps)
			case cmdRestart:
				explicitRestart = true
				s.signal(ps)
			}
			close(msg.ack)
		case <-s.shutdownCh:
			s.signal(ps)
			<-waitErrCh
			s.recordExit(ps, cmd)
			return false, false, false
		}
	}
}

// recordExit captures the outcome of cmd's just-completed wait onto ps, per
// spec.md §4.E's exit-observation requirement. cmd.ProcessState is set by
// cmd.Wait() regardless of whether the child exited cleanly.
func (s *Supervisor) recordExit(ps *ProcessState, cmd *exec.Cmd) {
	if cmd.ProcessState == nil {
		return
	}
	code, signaled := exitInfoFrom(cmd.ProcessState)
	ps.recordExit(code, signaled)
}

// signal asks a running child to stop (terminate), then escalates to an
// unconditional kill (forceKill) after a bounded grace period if it hasn't
// exited. The two steps are platform-specific: see process_unix.go and
// process_windows.go.
func (s *Supervisor) signal(ps *ProcessState) {
	ps.mu.Lock()
	cmd := ps.cmd
	ps.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := terminate(cmd.Process); err != nil {
		s.logf(ps.Name, "terminate failed", "error", err)
	}
	go func() {
		time.Sleep(s.shutdownGrace)
		ps.mu.Lock()
		c := ps.cmd
		ps.mu.Unlock()
		// A relaunch in the meantime replaces ps.cmd; leave the new child alone.
		if c == cmd {
			_ = forceKill(c.Process)
		}
	}()
}

func exitFailed(err error) bool {
	if err == nil {
		return false
	}
	return true
}

func restartPolicyOf(spec manifest.ProcessSpec) processRestartPolicy {
	var p policyKind
	switch spec.RestartPolicy {
	case manifest.RestartAlways:
		p = policyAlways
	case manifest.RestartOnFailure:
		p = policyOnFailure
	default:
		p = policyNever
	}
	return processRestartPolicy{policy: p, delay: time.Duration(spec.RestartDelayMS) * time.Millisecond}
}

// buildCmd assembles the child's environment and working directory and
// wires its stdout/stderr to the supervisor's log, each line prefixed with
// the process name.
func (s *Supervisor) buildCmd(ps *ProcessState) (*exec.Cmd, error) {
	cwd := filepath.Join(s.capsuleRoot, ps.Spec.CwdOrDefault(ps.Name))
	if err := os.MkdirAll(cwd, 0o755); err != nil {
		return nil, err
	}

	cmd := exec.Command(ps.Spec.Cmd, ps.Spec.Args...)
	cmd.Dir = cwd
	cmd.Env = s.buildEnv(ps.Name)
	cmd.Stdout = &prefixedWriter{name: ps.Name, stream: "stdout", logger: s.logger}
	cmd.Stderr = &prefixedWriter{name: ps.Name, stream: "stderr", logger: s.logger}
	cmd.SysProcAttr = detachAttr()
	return cmd, nil
}

// buildEnv assembles global_env overlaid by the process's own env, per
// spec.md §9's resolved Open Question, on top of the supervisor's own host
// environment.
func (s *Supervisor) buildEnv(name string) []string {
	base := os.Environ()
	overlay := s.capsule.Env(name)
	if len(overlay) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(overlay))
	seen := make(map[string]bool, len(overlay))
	for _, kv := range base {
		k, _, ok := splitEnv(kv)
		if ok {
			if v, overridden := overlay[k]; overridden {
				env = append(env, k+"="+v)
				seen[k] = true
				continue
			}
		}
		env = append(env, kv)
	}
	for k, v := range overlay {
		if !seen[k] {
			env = append(env, k+"="+v)
		}
	}
	return env
}

func splitEnv(kv string) (key, value string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

// prefixedWriter forwards each line of a child's output to the supervisor's
// structured logger, tagged with the process name and stream.
type prefixedWriter struct {
	name   string
	stream string
	logger *slog.Logger

	mu  sync.Mutex
	buf []byte
}

func (w *prefixedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf[:i], "\r"))
		w.logger.Info("child output", "process", w.name, "stream", w.stream, "line", line)
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
