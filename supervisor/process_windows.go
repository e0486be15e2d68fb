//go:build windows

package supervisor

import (
	"os"
	"syscall"
)

// detachAttr on Windows opts the child into its own process group so
// CTRL_BREAK can be targeted at it independently of the supervisor.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// terminate has no graceful POSIX-signal analogue on Windows; Kill is the
// best available "ask it to stop".
func terminate(p *os.Process) error {
	return p.Kill()
}

// forceKill ends a child unconditionally.
func forceKill(p *os.Process) error {
	return p.Kill()
}

// exitInfoFrom extracts the exit code from a finished wait. Windows has no
// POSIX-signal concept, so a child is never reported as signaled.
func exitInfoFrom(state *os.ProcessState) (code int, signaled bool) {
	return state.ExitCode(), false
}
