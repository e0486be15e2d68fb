//go:build !windows

package bootstrap

import "syscall"

// detachAttr puts the supervisor child in its own session, so it survives
// this process exiting and is not in the foreground process group of any
// controlling terminal.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
