package bootstrap

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/capsulerun/capsule/transport"
)

// SuperviseArg is the distinguished first argument that re-invokes this
// same executable as the background supervisor instead of going through
// kong's normal command dispatch — intercepted in main() before argument
// parsing.
const SuperviseArg = "__supervise"

// Daemonize detaches a background `__supervise` child of selfPath rooted at
// capsuleRoot, waits for it to publish its control-transport port file, and
// returns. The child is reparented to the OS's init-equivalent on POSIX via
// detachAttr, so it survives this process exiting.
func Daemonize(selfPath, capsuleRoot string, startupTimeout time.Duration) error {
	cmd := exec.Command(selfPath, SuperviseArg, "--capsule-root", capsuleRoot)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = detachAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("bootstrap: starting supervisor child: %w", err)
	}
	// The child is independent once started; release our handle to it so
	// it isn't left as an undead background job of this process.
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("bootstrap: releasing supervisor child: %w", err)
	}

	deadline := time.Now().Add(startupTimeout)
	portFile := filepath.Join(capsuleRoot, CapsuleDirName, transport.PortFileName)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(portFile); err == nil {
			if _, err := strconv.Atoi(string(data)); err == nil {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("bootstrap: supervisor did not publish %q within %s", portFile, startupTimeout)
}
