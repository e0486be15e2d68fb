package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	"github.com/jotaen/kong-completion"

	"github.com/capsulerun/capsule/bootstrap"
	"github.com/capsulerun/capsule/supervisor"
	"github.com/capsulerun/capsule/version"
)

// shutdownTimeout bounds how long `daemon stop`/`__supervise` wait for
// every child to exit during a graceful shutdown.
const shutdownTimeout = 15 * time.Second

// Context is threaded into every command's Run method by kong, carrying
// the state resolved once in main() rather than re-derived per command.
type Context struct {
	CapsuleRoot string
	LogLevel    string
}

// CLI is the full command surface, per spec.md §6.
type CLI struct {
	LogLevel    string `default:"info" enum:"debug,info,warn,error" help:"logging level"`
	CapsuleRoot string `placeholder:"<dir>" help:"override the capsule root (defaults to the directory containing this executable)"`

	Compile CompileCmd `cmd:"" help:"build a self-contained capsule executable from a manifest"`
	Daemon  DaemonCmd  `cmd:"" help:"start, stop, or query the capsule's supervisor"`
	Proc    ProcCmd    `cmd:"" help:"list or control individual processes"`
	Version VersionCmd `cmd:"" help:"print version information"`
	Doc     DocCmd     `cmd:"" help:"print complete command help formatted as markdown"`
}

func (c *CLI) initSlog() {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func defaultCapsuleRoot() string {
	self, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(self)
}

func main() {
	// __supervise is a distinguished re-invocation of this same binary, not
	// a normal command: it takes a bare --capsule-root flag and must never
	// touch a terminal, so it is intercepted before kong ever parses
	// anything.
	if len(os.Args) > 1 && os.Args[1] == bootstrap.SuperviseArg {
		os.Exit(runSupervise(os.Args[2:]))
	}

	var cli CLI
	parser := kong.Must(&cli,
		kong.Name("capsule"),
		kong.Description("Package and supervise declarative multi-process workloads."),
		kong.Configuration(kongyaml.Loader, "~/.capsule.yaml"),
		kong.UsageOnError(),
	)
	kongcompletion.Register(parser)

	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	cli.initSlog()
	if v := version.Get().GitCommit; v != "" {
		supervisor.RuntimeVersion = v
	}

	if cli.CapsuleRoot == "" {
		cli.CapsuleRoot = defaultCapsuleRoot()
	}

	runErr := ctx.Run(&Context{CapsuleRoot: cli.CapsuleRoot, LogLevel: cli.LogLevel})
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
	}
	os.Exit(exitCodeFor(runErr))
}
