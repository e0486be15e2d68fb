package main

import (
	"errors"

	"github.com/capsulerun/capsule/compiler"
	"github.com/capsulerun/capsule/manifest"
	"github.com/capsulerun/capsule/payload"
	"github.com/capsulerun/capsule/transport"
)

// Exit codes, per spec.md §6.
const (
	exitOK                  = 0
	exitGenericError        = 1
	exitUsageError          = 2
	exitAuthError           = 3
	exitNoCapsule           = 4
	exitSupervisorUnreachable = 5
)

// exitCodeFor maps an error kind to the process exit code spec.md §6
// prescribes, by walking the error chain for the typed sentinels and error
// types each package exposes.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}

	switch {
	case errors.Is(err, payload.ErrNoCapsule):
		return exitNoCapsule
	case errors.Is(err, payload.ErrBadPassphrase):
		return exitAuthError
	case errors.As(err, new(*transport.ErrUnreachable)):
		return exitSupervisorUnreachable
	}

	var parseErr *manifest.ParseError
	if errors.As(err, &parseErr) {
		return exitUsageError
	}

	var unsupportedTarget *compiler.UnsupportedTargetError
	var missingRuntimeImage *compiler.MissingRuntimeImageError
	var missingAsset *compiler.MissingAssetError
	if errors.As(err, &unsupportedTarget) || errors.As(err, &missingRuntimeImage) || errors.As(err, &missingAsset) {
		return exitUsageError
	}

	return exitGenericError
}
