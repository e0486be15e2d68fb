//go:build !windows

package supervisor

import (
	"os"
	"syscall"
)

// detachAttr detaches a child into its own process group so that signals
// sent to the supervisor (e.g. from a shell's Ctrl-C) are not also
// delivered directly to every managed child.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// terminate asks a child to exit gracefully.
func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

// forceKill ends a child unconditionally.
func forceKill(p *os.Process) error {
	return p.Signal(syscall.SIGKILL)
}

// exitInfoFrom extracts the exit code and whether the child was terminated
// by a signal (rather than exiting on its own) from a finished wait. When
// signaled, code is the signal number, not a process exit status.
func exitInfoFrom(state *os.ProcessState) (code int, signaled bool) {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return int(ws.Signal()), true
	}
	return state.ExitCode(), false
}
