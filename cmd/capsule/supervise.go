package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/capsulerun/capsule/bootstrap"
	"github.com/capsulerun/capsule/compiler"
	"github.com/capsulerun/capsule/supervisor"
	"github.com/capsulerun/capsule/telemetry"
	"github.com/capsulerun/capsule/transport"
	"github.com/capsulerun/capsule/version"
)

// runSupervise implements the `__supervise` hidden mode: it is never routed
// through kong (main intercepts it before parsing) since it takes a
// capsule root rather than a normal flag/command set, and it must not
// prompt for anything or write to a terminal — it has none.
func runSupervise(args []string) int {
	var capsuleRoot string
	for i := 0; i < len(args); i++ {
		if args[i] == "--capsule-root" && i+1 < len(args) {
			capsuleRoot = args[i+1]
			i++
		}
	}
	if capsuleRoot == "" {
		fmt.Fprintln(os.Stderr, "__supervise: missing --capsule-root")
		return exitUsageError
	}

	logPath := filepath.Join(capsuleRoot, bootstrap.CapsuleDirName, "supervisor.log")
	logger := newSuperviseLogger(logPath)
	slog.SetDefault(logger)
	if v := version.Get().GitCommit; v != "" {
		supervisor.RuntimeVersion = v
	}

	capsule, err := bootstrap.ReadManifestHandoff(capsuleRoot)
	if err != nil {
		logger.Error("reading manifest handoff", "error", err)
		return exitGenericError
	}

	buildID := compiler.BuildIdentifier(capsule.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, "capsule-supervisor", buildID, os.Getenv(telemetry.EndpointEnv))
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("shutting down tracing", "error", err)
		}
	}()

	sup := supervisor.New(capsule, capsuleRoot, buildID, supervisor.WithLogger(logger))

	if err := sup.Start(ctx); err != nil {
		logger.Error("starting supervisor", "error", err)
		return exitGenericError
	}

	capsuleDir := filepath.Join(capsuleRoot, bootstrap.CapsuleDirName)
	srv := transport.NewServer(sup, capsuleDir, logger)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("control transport", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutting down supervisor", "error", err)
		return exitGenericError
	}
	return exitOK
}

// newSuperviseLogger writes structured logs to a size-rotated file next to
// the capsule's metadata, since the supervisor has no attached terminal and
// runs for as long as its capsule is deployed.
func newSuperviseLogger(logPath string) *slog.Logger {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	rotated := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
	}
	return slog.New(slog.NewJSONHandler(rotated, nil))
}
