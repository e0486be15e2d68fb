// Package supervisor is the long-running in-process scheduler: it launches
// processes declared by a capsule, observes their lifecycle, applies restart
// policy, samples resource usage, and services control-plane requests.
package supervisor

import (
	"os/exec"
	"sync"
	"time"

	"github.com/capsulerun/capsule/manifest"
)

// Status is one of the states a ProcessState can occupy, per spec.md §4.E's
// state machine.
type Status string

const (
	StatusNeverStarted   Status = "never_started"
	StatusStarting       Status = "starting"
	StatusRunning        Status = "running"
	StatusStoppedSuccess Status = "stopped_success"
	StatusStoppedFailure Status = "stopped_failure"
	StatusRestartPending Status = "restart_pending"
	StatusKilled         Status = "killed"
)

// ExitInfo records the outcome of the most recent exit of a process.
type ExitInfo struct {
	At       time.Time
	Code     int
	Signaled bool
}

// Stats is a point-in-time resource sample for a running process. A sample
// that could not be gathered (stats source unavailable, permission denied)
// degrades to the zero value rather than propagating an error, per spec.md
// §4.E's failure semantics.
type Stats struct {
	CPUPercent float64
	MemBytes   uint64
	IORead     uint64
	IOWrite    uint64
}

// ProcessState is the supervisor's runtime view of one managed process. Its
// exported fields are guarded by its own mu; callers use Supervisor.Snapshot
// or Supervisor.SnapshotOne rather than reaching into a ProcessState
// directly from another goroutine.
type ProcessState struct {
	Name string
	Spec manifest.ProcessSpec

	Status    Status
	PID       int
	StartedAt time.Time
	LastExit  *ExitInfo
	Restarts  int
	Stats     Stats

	cmd    *exec.Cmd
	alive  bool
	cmdCh  chan cmdMsg
	doneCh chan struct{}
	mu     sync.Mutex
}

type processCommand int

const (
	cmdKill processCommand = iota
	cmdRestart
)

// cmdMsg is one request sent over a ProcessState's cmdCh. ack is closed by
// the run loop only once the requested action has actually been taken
// (signal sent, or restart decision observed), so a sender that waits on ack
// knows the action is reflected in supervisor state, not merely enqueued.
type cmdMsg struct {
	kind processCommand
	ack  chan struct{}
}

// Snapshot is the read-only view of a ProcessState returned to callers
// (List replies, tests) — a copy, safe to use without holding any lock.
type Snapshot struct {
	Name      string
	Status    Status
	PID       int
	StartedAt time.Time
	LastExit  *ExitInfo
	Restarts  int
	Stats     Stats
}

func (ps *ProcessState) snapshot() Snapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return Snapshot{
		Name:      ps.Name,
		Status:    ps.Status,
		PID:       ps.PID,
		StartedAt: ps.StartedAt,
		LastExit:  ps.LastExit,
		Restarts:  ps.Restarts,
		Stats:     ps.Stats,
	}
}

func (ps *ProcessState) setStatus(s Status) {
	ps.mu.Lock()
	ps.Status = s
	ps.mu.Unlock()
}

func (ps *ProcessState) isAlive() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.alive
}

// recordExit stores the outcome of the most recently observed exit, per
// spec.md §4.E's exit-observation requirement.
func (ps *ProcessState) recordExit(code int, signaled bool) {
	ps.mu.Lock()
	ps.LastExit = &ExitInfo{At: time.Now(), Code: code, Signaled: signaled}
	ps.mu.Unlock()
}
