package main

import (
	"fmt"
	"os"
	"time"

	"github.com/capsulerun/capsule/bootstrap"
	"github.com/capsulerun/capsule/transport"
)

// DaemonCmd implements `capsule daemon {start|stop|status}`, spec.md
// §4.D/§4.F.
type DaemonCmd struct {
	Start  DaemonStartCmd  `cmd:"" help:"extract the capsule and start its supervisor"`
	Stop   DaemonStopCmd   `cmd:"" help:"ask the running supervisor to shut down"`
	Status DaemonStatusCmd `cmd:"" help:"report the supervisor's status"`
}

type DaemonStartCmd struct {
	StartupTimeout time.Duration `default:"10s" help:"how long to wait for the supervisor to report ready"`
}

func (c *DaemonStartCmd) Run(cctx *Context) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cmd/capsule: resolving own executable path: %w", err)
	}

	fo := bootstrap.NewDefaultFileOps()
	msg := bootstrap.NewTerminalMessenger(os.Stderr)

	result, err := bootstrap.Extract(self, cctx.CapsuleRoot, func() (string, error) {
		return bootstrap.ReadPassphrase(os.Stdin, os.Stderr)
	}, fo, msg)
	if err != nil {
		return err
	}

	if err := bootstrap.Daemonize(self, cctx.CapsuleRoot, c.StartupTimeout); err != nil {
		return err
	}

	fmt.Printf("started supervisor for capsule %s (%d processes)\n", result.Capsule.Version, len(result.Capsule.Processes))
	return nil
}

type DaemonStopCmd struct{}

func (c *DaemonStopCmd) Run(cctx *Context) error {
	client := transport.NewClient(capsuleDir(cctx.CapsuleRoot))
	if _, err := client.Stop(); err != nil {
		return err
	}
	fmt.Println("supervisor stopped")
	return nil
}

type DaemonStatusCmd struct{}

func (c *DaemonStatusCmd) Run(cctx *Context) error {
	client := transport.NewClient(capsuleDir(cctx.CapsuleRoot))
	reply, err := client.Status()
	if err != nil {
		return err
	}
	fmt.Printf("capsule version: %s\n", reply.CapsuleVersion)
	fmt.Printf("runtime version: %s\n", reply.RuntimeVersion)
	fmt.Printf("uptime:          %s\n", time.Duration(reply.UptimeSec*float64(time.Second)).Round(time.Second))
	fmt.Printf("processes:       %d\n", reply.ProcessCount)
	return nil
}
