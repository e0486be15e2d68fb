package bootstrap

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/capsulerun/capsule/payload"
)

func TestReadPassphrase_EmptyStdinIsBadPassphrase(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error = %v", err)
	}
	w.Close()

	_, err = ReadPassphrase(r, io.Discard)
	if err == nil {
		t.Fatal("ReadPassphrase() error = nil, want an error for empty stdin")
	}
	if !errors.Is(err, payload.ErrBadPassphrase) {
		t.Errorf("ReadPassphrase() error = %v, want it to wrap payload.ErrBadPassphrase", err)
	}
}

func TestReadPassphrase_ReadsLineFromPipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error = %v", err)
	}
	go func() {
		w.WriteString("s3cret\n")
		w.Close()
	}()

	got, err := ReadPassphrase(r, io.Discard)
	if err != nil {
		t.Fatalf("ReadPassphrase() error = %v", err)
	}
	if got != "s3cret" {
		t.Errorf("ReadPassphrase() = %q, want %q", got, "s3cret")
	}
}
