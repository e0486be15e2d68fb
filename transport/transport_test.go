package transport

import (
	"context"
	"testing"
	"time"

	"github.com/capsulerun/capsule/manifest"
	"github.com/capsulerun/capsule/supervisor"
)

func startTestServer(t *testing.T) (capsuleDir string, sup *supervisor.Supervisor) {
	t.Helper()
	capsuleDir = t.TempDir()
	c := &manifest.Capsule{
		Version: "9.9.9",
		Processes: map[string]manifest.ProcessSpec{
			"a": {Cmd: "/bin/sleep", Args: []string{"30"}, RestartPolicy: manifest.RestartNever},
		},
	}
	sup = supervisor.New(c, t.TempDir(), "build-1")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("sup.Start() error = %v", err)
	}
	t.Cleanup(func() {
		shCtx, shCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shCancel()
		sup.Shutdown(shCtx)
	})

	srv := NewServer(sup, capsuleDir, nil)
	srvCtx, srvCancel := context.WithCancel(context.Background())
	t.Cleanup(srvCancel)
	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = srv.Serve(srvCtx)
	}()
	<-ready
	// Give Serve a moment to bind and publish the port file.
	waitForPortFile(t, capsuleDir)
	return capsuleDir, sup
}

func waitForPortFile(t *testing.T, capsuleDir string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c := NewClient(capsuleDir)
		if _, err := c.resolveAddr(); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("port file never appeared")
}

func TestClient_StatusRoundTrip(t *testing.T) {
	dir, _ := startTestServer(t)
	client := NewClient(dir)

	reply, err := client.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if reply.CapsuleVersion != "9.9.9" {
		t.Errorf("CapsuleVersion = %q, want 9.9.9", reply.CapsuleVersion)
	}
	if reply.ProcessCount != 1 {
		t.Errorf("ProcessCount = %d, want 1", reply.ProcessCount)
	}
}

func TestClient_ListReportsProcess(t *testing.T) {
	dir, sup := startTestServer(t)
	client := NewClient(dir)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := sup.SnapshotOne("a"); ok && snap.Status == supervisor.StatusRunning {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	reply, err := client.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(reply.Processes) != 1 || reply.Processes[0].Name != "a" {
		t.Fatalf("Processes = %+v, want one entry named \"a\"", reply.Processes)
	}
}

func TestClient_KillUnknownProcessReportsNotFound(t *testing.T) {
	dir, _ := startTestServer(t)
	client := NewClient(dir)

	reply, err := client.Kill("does-not-exist")
	if err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if reply.Found {
		t.Error("Found = true, want false")
	}
	if reply.Error != ErrNotFound {
		t.Errorf("Error = %q, want %q", reply.Error, ErrNotFound)
	}
}

func TestClient_KillKnownProcess(t *testing.T) {
	dir, _ := startTestServer(t)
	client := NewClient(dir)

	reply, err := client.Kill("a")
	if err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if !reply.Found {
		t.Error("Found = false, want true")
	}
}

func TestClient_UnreachableWithoutPortFile(t *testing.T) {
	client := NewClient(t.TempDir())
	client.Timeout = 100 * time.Millisecond

	_, err := client.Status()
	var unreachable *ErrUnreachable
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if e, ok := err.(*ErrUnreachable); ok {
		unreachable = e
	}
	if unreachable == nil {
		t.Fatalf("expected *ErrUnreachable, got %T: %v", err, err)
	}
}

func TestCodec_RejectsTruncatedFrame(t *testing.T) {
	var out Request
	if err := decodeFrame([]byte{1, 2}, &out); err == nil {
		t.Fatal("expected error decoding truncated frame, got nil")
	}
}
