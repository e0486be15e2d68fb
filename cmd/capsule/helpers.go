package main

import (
	"path/filepath"

	"github.com/capsulerun/capsule/bootstrap"
)

// capsuleDir returns the `.capsule` metadata directory for a capsule root,
// where the control-transport port file and manifest handoff live.
func capsuleDir(capsuleRoot string) string {
	return filepath.Join(capsuleRoot, bootstrap.CapsuleDirName)
}
