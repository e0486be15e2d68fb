package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/capsulerun/capsule/manifest"
	"github.com/capsulerun/capsule/telemetry"
)

// defaultShutdownGrace is how long a process gets between terminate and
// forceKill during shutdown or an explicit kill, absent an override.
const defaultShutdownGrace = 10 * time.Second

// defaultStatsInterval is how often live children are sampled for
// CPU/RSS/IO, per spec.md §4.E's "1-2s" guidance.
const defaultStatsInterval = 2 * time.Second

// RuntimeVersion is reported back on a Status request; it identifies the
// supervisor binary itself, independent of the capsule's declared version.
var RuntimeVersion = "dev"

// Supervisor owns a capsule's process table for the lifetime of one
// `__supervise` invocation: it launches every declared process, applies
// restart policy as they exit, samples resource usage, and answers the
// control-transport requests described in spec.md §4.F.
type Supervisor struct {
	capsuleRoot string
	capsule     *manifest.Capsule
	buildID     string
	logger      *slog.Logger
	tracer      trace.Tracer

	shutdownGrace time.Duration
	statsInterval time.Duration

	mu         sync.Mutex
	table      map[string]*ProcessState
	order      []string
	startedAt  time.Time
	shutdownCh chan struct{}
	stopOnce   sync.Once
}

// Option configures a Supervisor at construction time.
type Option func(*Supervisor)

// WithShutdownGrace overrides the default terminate-to-kill grace period.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Supervisor) { s.shutdownGrace = d }
}

// WithStatsInterval overrides the default stats-sampling tick.
func WithStatsInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.statsInterval = d }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithTracer overrides the default tracer, which traces against whatever
// global TracerProvider telemetry.Init configured (a no-op one if tracing
// was never enabled).
func WithTracer(t trace.Tracer) Option {
	return func(s *Supervisor) { s.tracer = t }
}

// New builds a Supervisor for capsule, rooted at capsuleRoot, identified in
// its startup log line and trace spans by buildID. Processes are not started until
// Start is called.
func New(capsule *manifest.Capsule, capsuleRoot, buildID string, opts ...Option) *Supervisor {
	s := &Supervisor{
		capsuleRoot:   capsuleRoot,
		capsule:       capsule,
		buildID:       buildID,
		logger:        slog.Default(),
		tracer:        telemetry.Tracer(),
		shutdownGrace: defaultShutdownGrace,
		statsInterval: defaultStatsInterval,
		table:         make(map[string]*ProcessState, len(capsule.Processes)),
		shutdownCh:    make(chan struct{}),
	}
	for name, spec := range capsule.Processes {
		s.table[name] = &ProcessState{Name: name, Spec: spec, Status: StatusNeverStarted}
		s.order = append(s.order, name)
	}
	return s
}

// Start spawns one supervise goroutine per managed process plus the stats
// sampler and returns without waiting for the processes to reach running.
// It does not block for the capsule's lifetime; call Shutdown to stop them.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = time.Now()
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	var g errgroup.Group
	for _, name := range names {
		ps := s.table[name]
		g.Go(func() error {
			go s.run(ps)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("supervisor: start: %w", err)
	}

	go s.sampleLoop(ctx)
	s.logf("", "supervisor started", "processes", len(names), "build_id", s.buildID)
	s.traceEvent("", "supervisor.started", attribute.Int("process_count", len(names)))
	return nil
}

// Shutdown asks every managed process to stop (honoring the configured
// grace period) and waits for all of them to exit. No new restarts are
// scheduled once shutdown has begun.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.shutdownCh) })

	s.mu.Lock()
	table := make([]*ProcessState, 0, len(s.table))
	for _, ps := range s.table {
		table = append(table, ps)
	}
	s.mu.Unlock()

	for _, ps := range table {
		ps.mu.Lock()
		done := ps.doneCh
		ps.mu.Unlock()
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.logf("", "supervisor shut down")
	s.traceEvent("", "supervisor.shutdown")
	return nil
}

// Snapshot returns a point-in-time view of every managed process, in the
// order New recorded them. That order comes from iterating the capsule's
// process map, so it is not the manifest's declaration order.
func (s *Supervisor) Snapshot() []Snapshot {
	s.mu.Lock()
	names := append([]string(nil), s.order...)
	snaps := make([]Snapshot, 0, len(names))
	for _, name := range names {
		snaps = append(snaps, s.table[name].snapshot())
	}
	s.mu.Unlock()
	return snaps
}

// SnapshotOne returns the current view of a single named process.
func (s *Supervisor) SnapshotOne(name string) (Snapshot, bool) {
	s.mu.Lock()
	ps, ok := s.table[name]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return ps.snapshot(), true
}

// StatusReply is the supervisor-wide summary returned to a Status request.
type StatusReply struct {
	CapsuleVersion string
	RuntimeVersion string
	Uptime         time.Duration
	ProcessCount   int
}

// Status answers a Status control-transport request.
func (s *Supervisor) Status() StatusReply {
	s.mu.Lock()
	count := len(s.table)
	started := s.startedAt
	s.mu.Unlock()
	return StatusReply{
		CapsuleVersion: s.capsule.Version,
		RuntimeVersion: RuntimeVersion,
		Uptime:         time.Since(started),
		ProcessCount:   count,
	}
}

// sendCommand delivers kind to ps's run loop and blocks until the loop has
// acted on it, per spec.md §4.F's requirement that a reply is only issued
// after the action has been observed in supervisor state, not merely
// queued. It reports whether the command was actually delivered; if the
// run loop exits concurrently (doneCh closes) before dequeuing it, there is
// nothing left to observe and sendCommand returns false rather than
// blocking forever.
func (s *Supervisor) sendCommand(ps *ProcessState, kind processCommand) bool {
	ps.mu.Lock()
	cmdCh := ps.cmdCh
	doneCh := ps.doneCh
	ps.mu.Unlock()
	if cmdCh == nil {
		return false
	}

	ack := make(chan struct{})
	select {
	case cmdCh <- cmdMsg{kind: kind, ack: ack}:
	case <-doneCh:
		return false
	}
	select {
	case <-ack:
	case <-doneCh:
	}
	return true
}

// Kill terminates the named process and marks it killed, ignoring its
// restart policy. Killing an already-stopped process is a no-op success,
// per spec.md §4.F's idempotence rule. Reports false if no such process
// exists.
func (s *Supervisor) Kill(name string) bool {
	ps, ok := s.lookup(name)
	if !ok {
		return false
	}
	if !ps.isAlive() {
		return true
	}
	s.sendCommand(ps, cmdKill)
	return true
}

// Restart stops the named process (if running) and relaunches it
// immediately, bypassing restart_delay_ms. If the process's supervise
// goroutine has already exited (terminal state), a fresh one is started;
// Restarts is bumped here since that fresh invocation has no memory of
// having been explicitly relaunched and would otherwise never count it.
// Reports false if no such process exists.
func (s *Supervisor) Restart(name string) bool {
	ps, ok := s.lookup(name)
	if !ok {
		return false
	}
	if ps.isAlive() {
		s.sendCommand(ps, cmdRestart)
		return true
	}
	ps.mu.Lock()
	ps.Restarts++
	ps.mu.Unlock()
	s.prepareRun(ps)
	go s.runLoop(ps)
	return true
}

// KillAll kills every currently alive process and reports how many were
// signaled. Each kill is observed (not merely queued) before it counts,
// same as Kill; the fan-out runs concurrently so one slow process doesn't
// hold up the others.
func (s *Supervisor) KillAll() int {
	s.mu.Lock()
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0
	for _, name := range names {
		ps, ok := s.lookup(name)
		if !ok || !ps.isAlive() {
			continue
		}
		wg.Add(1)
		go func(ps *ProcessState) {
			defer wg.Done()
			if s.sendCommand(ps, cmdKill) {
				mu.Lock()
				count++
				mu.Unlock()
			}
		}(ps)
	}
	wg.Wait()
	return count
}

func (s *Supervisor) lookup(name string) (*ProcessState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.table[name]
	return ps, ok
}

// sampleLoop periodically snapshots resource usage for every live child.
// It must never block on a child: sampleStats degrades to zeros on any
// read failure rather than erroring.
func (s *Supervisor) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *Supervisor) sampleOnce() {
	s.mu.Lock()
	procs := make([]*ProcessState, 0, len(s.table))
	for _, ps := range s.table {
		procs = append(procs, ps)
	}
	s.mu.Unlock()

	for _, ps := range procs {
		if !ps.isAlive() {
			continue
		}
		ps.mu.Lock()
		pid := ps.PID
		ps.mu.Unlock()
		if pid <= 0 {
			continue
		}
		stats := sampleStats(pid, s.statsInterval)
		ps.mu.Lock()
		ps.Stats = stats
		ps.mu.Unlock()
	}
}

func (s *Supervisor) logf(process, msg string, kv ...any) {
	args := kv
	if process != "" {
		args = append([]any{"process", process}, kv...)
	}
	s.logger.Info(msg, args...)
}

// traceEvent records a supervisor lifecycle event as a zero-duration span,
// per spec.md §4.E / §2.G. Against the default no-op TracerProvider this
// costs nothing; against a configured one it gives every launch, exit, and
// restart decision a place in a trace alongside the structured log line.
func (s *Supervisor) traceEvent(process, event string, attrs ...attribute.KeyValue) {
	if process != "" {
		attrs = append([]attribute.KeyValue{attribute.String("process", process)}, attrs...)
	}
	attrs = append(attrs, attribute.String("build_id", s.buildID))
	_, span := s.tracer.Start(context.Background(), event, trace.WithAttributes(attrs...))
	span.End()
}
