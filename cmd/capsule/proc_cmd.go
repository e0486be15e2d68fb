package main

import (
	"fmt"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/capsulerun/capsule/transport"
)

// ProcCmd implements `capsule proc {list|kill|restart|kill-all}`, spec.md
// §4.F.
type ProcCmd struct {
	List    ProcListCmd    `cmd:"" help:"tabulate every managed process"`
	Kill    ProcKillCmd    `cmd:"" help:"kill a process, ignoring its restart policy"`
	Restart ProcRestartCmd `cmd:"" help:"stop and immediately relaunch a process"`
	KillAll ProcKillAllCmd `cmd:"kill-all" help:"kill every currently running process"`
}

type ProcListCmd struct{}

func (c *ProcListCmd) Run(cctx *Context) error {
	client := transport.NewClient(capsuleDir(cctx.CapsuleRoot))
	reply, err := client.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tPID\tCPU%\tMEM\tUPTIME\tRESTARTS\tLAST EXIT")
	for _, p := range reply.Processes {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t%d\t%s\t%d\t%s\n",
			p.Name, p.Status, p.PID, p.CPUPct, p.MemBytes,
			time.Duration(p.UptimeSec*float64(time.Second)).Round(time.Second), p.Restarts,
			formatLastExit(p))
	}
	return w.Flush()
}

// formatLastExit renders a process's most recent exit for `proc list`
// output; a process that has never exited shows "-" rather than a
// misleading zero.
func formatLastExit(p transport.ProcessInfo) string {
	if !p.HasLastExit {
		return "-"
	}
	if p.LastExitSignaled {
		return fmt.Sprintf("signal %d", p.LastExitCode)
	}
	return fmt.Sprintf("code %d", p.LastExitCode)
}

type ProcKillCmd struct {
	Name string `arg:"" optional:"" help:"process to kill"`
	All  bool   `short:"a" help:"kill every process"`
}

func (c *ProcKillCmd) Run(cctx *Context) error {
	client := transport.NewClient(capsuleDir(cctx.CapsuleRoot))
	if c.All {
		reply, err := client.KillAll()
		if err != nil {
			return err
		}
		fmt.Printf("killed %d process(es)\n", reply.CountKilled)
		return nil
	}
	if c.Name == "" {
		return fmt.Errorf("cmd/capsule: proc kill requires a process name or --all")
	}
	reply, err := client.Kill(c.Name)
	if err != nil {
		return err
	}
	if !reply.Found {
		return fmt.Errorf("cmd/capsule: no such process %q", c.Name)
	}
	fmt.Println(c.Name)
	return nil
}

type ProcRestartCmd struct {
	Name string `arg:"" optional:"" help:"process to restart"`
	All  bool   `short:"a" help:"restart every process"`
}

func (c *ProcRestartCmd) Run(cctx *Context) error {
	client := transport.NewClient(capsuleDir(cctx.CapsuleRoot))

	names := []string{c.Name}
	if c.All {
		listReply, err := client.List()
		if err != nil {
			return err
		}
		names = names[:0]
		for _, p := range listReply.Processes {
			names = append(names, p.Name)
		}
	} else if c.Name == "" {
		return fmt.Errorf("cmd/capsule: proc restart requires a process name or --all")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(names))
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			reply, err := client.Restart(name)
			if err != nil {
				errCh <- err
				return
			}
			if !reply.Found {
				errCh <- fmt.Errorf("cmd/capsule: no such process %q", name)
				return
			}
			fmt.Println(name)
		}(name)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

type ProcKillAllCmd struct{}

func (c *ProcKillAllCmd) Run(cctx *Context) error {
	client := transport.NewClient(capsuleDir(cctx.CapsuleRoot))
	reply, err := client.KillAll()
	if err != nil {
		return err
	}
	fmt.Printf("killed %d process(es)\n", reply.CountKilled)
	return nil
}
