//go:build windows

package bootstrap

import "syscall"

// detachAttr on Windows opts the supervisor child into its own process
// group so it is independent of this process's console.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | syscall.DETACHED_PROCESS}
}
