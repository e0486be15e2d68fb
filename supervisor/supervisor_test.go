package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/capsulerun/capsule/manifest"
)

func pollUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func newTestSupervisor(t *testing.T, processes map[string]manifest.ProcessSpec) *Supervisor {
	t.Helper()
	c := &manifest.Capsule{Version: "1.2.3", Processes: processes}
	return New(c, t.TempDir(), "test-build", WithStatsInterval(20*time.Millisecond))
}

func TestSupervisor_NeverPolicyStopsTerminal(t *testing.T) {
	s := newTestSupervisor(t, map[string]manifest.ProcessSpec{
		"one-shot": {Cmd: "/bin/true", RestartPolicy: manifest.RestartNever},
	})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Shutdown(ctx)

	pollUntil(t, 2*time.Second, func() bool {
		snap, ok := s.SnapshotOne("one-shot")
		return ok && snap.Status == StatusStoppedSuccess
	})
}

func TestSupervisor_OnFailureRestartsOnlyOnNonZeroExit(t *testing.T) {
	s := newTestSupervisor(t, map[string]manifest.ProcessSpec{
		"flaky": {Cmd: "/bin/false", RestartPolicy: manifest.RestartOnFailure, RestartDelayMS: 10},
		"clean": {Cmd: "/bin/true", RestartPolicy: manifest.RestartOnFailure, RestartDelayMS: 10},
	})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Shutdown(ctx)

	pollUntil(t, 2*time.Second, func() bool {
		snap, ok := s.SnapshotOne("flaky")
		return ok && snap.Restarts >= 2
	})

	snap, _ := s.SnapshotOne("flaky")
	if snap.Status != StatusStoppedFailure && snap.Status != StatusRestartPending && snap.Status != StatusStarting && snap.Status != StatusRunning {
		t.Errorf("unexpected status %v after repeated failures", snap.Status)
	}

	pollUntil(t, 2*time.Second, func() bool {
		snap, ok := s.SnapshotOne("clean")
		return ok && snap.Status == StatusStoppedSuccess
	})
	if clean, _ := s.SnapshotOne("clean"); clean.Restarts != 0 {
		t.Errorf("clean Restarts = %d, want 0 after a zero exit", clean.Restarts)
	}
}

func TestSupervisor_AlwaysPolicyKeepsRestarting(t *testing.T) {
	s := newTestSupervisor(t, map[string]manifest.ProcessSpec{
		"looper": {Cmd: "/bin/true", RestartPolicy: manifest.RestartAlways, RestartDelayMS: 5},
	})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Shutdown(ctx)

	pollUntil(t, 2*time.Second, func() bool {
		snap, ok := s.SnapshotOne("looper")
		return ok && snap.Restarts >= 3
	})
}

func TestSupervisor_KillIsTerminalRegardlessOfPolicy(t *testing.T) {
	s := newTestSupervisor(t, map[string]manifest.ProcessSpec{
		"long": {Cmd: "/bin/sleep", Args: []string{"30"}, RestartPolicy: manifest.RestartAlways, RestartDelayMS: 5},
	})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Shutdown(ctx)

	pollUntil(t, 2*time.Second, func() bool {
		snap, ok := s.SnapshotOne("long")
		return ok && snap.Status == StatusRunning
	})

	if ok := s.Kill("long"); !ok {
		t.Fatal("Kill() = false, want true for known process")
	}

	pollUntil(t, 3*time.Second, func() bool {
		snap, ok := s.SnapshotOne("long")
		return ok && snap.Status == StatusKilled
	})

	// Killing an already-stopped process is a no-op success.
	if ok := s.Kill("long"); !ok {
		t.Fatal("Kill() of already-killed process = false, want true (idempotent)")
	}
}

func TestSupervisor_KillUnknownProcess(t *testing.T) {
	s := newTestSupervisor(t, map[string]manifest.ProcessSpec{
		"known": {Cmd: "/bin/true", RestartPolicy: manifest.RestartNever},
	})
	if ok := s.Kill("unknown"); ok {
		t.Error("Kill(\"unknown\") = true, want false")
	}
	if ok := s.Restart("unknown"); ok {
		t.Error("Restart(\"unknown\") = true, want false")
	}
}

func TestSupervisor_RestartRelaunchesTerminalProcess(t *testing.T) {
	s := newTestSupervisor(t, map[string]manifest.ProcessSpec{
		"one-shot": {Cmd: "/bin/true", RestartPolicy: manifest.RestartNever},
	})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Shutdown(ctx)

	pollUntil(t, 2*time.Second, func() bool {
		snap, ok := s.SnapshotOne("one-shot")
		return ok && snap.Status == StatusStoppedSuccess
	})

	if ok := s.Restart("one-shot"); !ok {
		t.Fatal("Restart() = false, want true")
	}

	pollUntil(t, 2*time.Second, func() bool {
		snap, ok := s.SnapshotOne("one-shot")
		return ok && snap.Restarts >= 1
	})
}

func TestSupervisor_RecordsLastExit(t *testing.T) {
	s := newTestSupervisor(t, map[string]manifest.ProcessSpec{
		"ok":     {Cmd: "/bin/true", RestartPolicy: manifest.RestartNever},
		"failed": {Cmd: "/bin/false", RestartPolicy: manifest.RestartNever},
	})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Shutdown(ctx)

	pollUntil(t, 2*time.Second, func() bool {
		ok, _ := s.SnapshotOne("ok")
		failed, _ := s.SnapshotOne("failed")
		return ok.Status == StatusStoppedSuccess && failed.Status == StatusStoppedFailure
	})

	okSnap, _ := s.SnapshotOne("ok")
	if okSnap.LastExit == nil || okSnap.LastExit.Code != 0 || okSnap.LastExit.Signaled {
		t.Errorf("ok LastExit = %+v, want code 0, not signaled", okSnap.LastExit)
	}

	failedSnap, _ := s.SnapshotOne("failed")
	if failedSnap.LastExit == nil || failedSnap.LastExit.Code == 0 || failedSnap.LastExit.Signaled {
		t.Errorf("failed LastExit = %+v, want non-zero code, not signaled", failedSnap.LastExit)
	}
}

func TestSupervisor_KillRecordsSignaledLastExit(t *testing.T) {
	s := newTestSupervisor(t, map[string]manifest.ProcessSpec{
		"long": {Cmd: "/bin/sleep", Args: []string{"30"}, RestartPolicy: manifest.RestartNever},
	})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Shutdown(ctx)

	pollUntil(t, 2*time.Second, func() bool {
		snap, ok := s.SnapshotOne("long")
		return ok && snap.Status == StatusRunning
	})

	if ok := s.Kill("long"); !ok {
		t.Fatal("Kill() = false, want true for known process")
	}

	pollUntil(t, 3*time.Second, func() bool {
		snap, ok := s.SnapshotOne("long")
		return ok && snap.Status == StatusKilled
	})

	snap, _ := s.SnapshotOne("long")
	if snap.LastExit == nil || !snap.LastExit.Signaled {
		t.Errorf("LastExit = %+v, want a signaled exit", snap.LastExit)
	}
}

func TestSupervisor_KillAllCountsOnlyAliveProcesses(t *testing.T) {
	s := newTestSupervisor(t, map[string]manifest.ProcessSpec{
		"long-a": {Cmd: "/bin/sleep", Args: []string{"30"}, RestartPolicy: manifest.RestartNever},
		"long-b": {Cmd: "/bin/sleep", Args: []string{"30"}, RestartPolicy: manifest.RestartNever},
		"done":   {Cmd: "/bin/true", RestartPolicy: manifest.RestartNever},
	})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Shutdown(ctx)

	pollUntil(t, 2*time.Second, func() bool {
		a, _ := s.SnapshotOne("long-a")
		b, _ := s.SnapshotOne("long-b")
		d, _ := s.SnapshotOne("done")
		return a.Status == StatusRunning && b.Status == StatusRunning && d.Status == StatusStoppedSuccess
	})

	if n := s.KillAll(); n != 2 {
		t.Errorf("KillAll() = %d, want 2", n)
	}
}

func TestSupervisor_Status(t *testing.T) {
	s := newTestSupervisor(t, map[string]manifest.ProcessSpec{
		"a": {Cmd: "/bin/true", RestartPolicy: manifest.RestartNever},
		"b": {Cmd: "/bin/true", RestartPolicy: manifest.RestartNever},
	})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Shutdown(ctx)

	status := s.Status()
	if status.CapsuleVersion != "1.2.3" {
		t.Errorf("CapsuleVersion = %q, want 1.2.3", status.CapsuleVersion)
	}
	if status.ProcessCount != 2 {
		t.Errorf("ProcessCount = %d, want 2", status.ProcessCount)
	}
	if status.Uptime <= 0 {
		t.Error("Uptime <= 0, want positive")
	}
}

func TestSupervisor_SnapshotIncludesEveryProcess(t *testing.T) {
	s := newTestSupervisor(t, map[string]manifest.ProcessSpec{
		"z": {Cmd: "/bin/true", RestartPolicy: manifest.RestartNever},
		"a": {Cmd: "/bin/true", RestartPolicy: manifest.RestartNever},
	})
	snaps := s.Snapshot()
	if len(snaps) != 2 {
		t.Fatalf("len(Snapshot()) = %d, want 2", len(snaps))
	}
}

func TestSupervisor_ShutdownStopsAllAndNoFurtherRestarts(t *testing.T) {
	s := newTestSupervisor(t, map[string]manifest.ProcessSpec{
		"looper": {Cmd: "/bin/true", RestartPolicy: manifest.RestartAlways, RestartDelayMS: 5},
	})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	snap, ok := s.SnapshotOne("looper")
	if !ok {
		t.Fatal("SnapshotOne() not found")
	}
	restartsAtShutdown := snap.Restarts
	time.Sleep(50 * time.Millisecond)
	snap, _ = s.SnapshotOne("looper")
	if snap.Restarts != restartsAtShutdown {
		t.Errorf("Restarts changed after Shutdown(): %d -> %d", restartsAtShutdown, snap.Restarts)
	}
}
