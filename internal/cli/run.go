package cli

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/sigrt/internal/cliutil"
	"github.com/Paintersrp/sigrt/internal/hostproc"
	"github.com/Paintersrp/sigrt/internal/signals"
	"github.com/Paintersrp/sigrt/internal/sigproc"
	"github.com/Paintersrp/sigrt/internal/subproc"
)

type runOptions struct {
	extra   []string
	env     []string
	dir     string
	jsonOut bool
	inherit bool
}

func newRunCmd(ctx *context) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [flags] [-- command [args...]]",
		Short: "Run host commands as children of a runtime process and report how each one ends",
		Example: `  sigrt run -- sleep 5
  sigrt run --json -x "sleep 1" -x "sh -c 'exit 3'"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			commands := make([][]string, 0, len(opts.extra)+1)
			if len(args) > 0 {
				commands = append(commands, args)
			}
			for _, raw := range opts.extra {
				fields := strings.Fields(raw)
				if len(fields) == 0 {
					return fmt.Errorf("empty command in --exec")
				}
				commands = append(commands, fields)
			}
			if len(commands) == 0 {
				return fmt.Errorf("run requires at least one command")
			}
			envMap, err := parseEnvPairs(opts.env)
			if err != nil {
				return err
			}
			return runCommands(cmd, ctx, commands, envMap, opts)
		},
	}
	cmd.Flags().StringArrayVarP(&opts.extra, "exec", "x", nil, "Additional command to run, split on whitespace (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.env, "env", "e", nil, "Set KEY=VALUE in the children's environment (repeatable)")
	cmd.Flags().StringVar(&opts.dir, "workdir", "", "Working directory for the children")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Report wait statuses as JSON lines")
	cmd.Flags().BoolVar(&opts.inherit, "inherit-output", false, "Pass child output through instead of logging it")
	return cmd
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment entry %q, expected KEY=VALUE", pair)
		}
		out[key] = value
	}
	return out, nil
}

// reporter writes one line per reaped child.
type reporter struct {
	out    io.Writer
	stderr io.Writer
	enc    *json.Encoder
}

func newReporter(out, stderr io.Writer, jsonOut bool) *reporter {
	r := &reporter{out: out, stderr: stderr}
	if jsonOut {
		r.enc = json.NewEncoder(out)
	}
	return r
}

func (r *reporter) report(rec cliutil.WaitRecord) {
	if r.enc != nil {
		cliutil.EncodeWaitRecord(r.enc, r.stderr, rec)
		return
	}
	fmt.Fprintln(r.out, cliutil.FormatWaitRecord(rec))
}

func runCommands(cmd *cobra.Command, ctx *context, commands [][]string, env map[string]string, opts runOptions) error {
	hostEnv, err := ctx.hostEnv()
	if err != nil {
		return err
	}
	runCtx := cmd.Context()
	if runCtx == nil {
		runCtx = stdcontext.Background()
	}
	p, err := hostEnv.startProcess(runCtx, "sigrt run")
	if err != nil {
		return err
	}
	defer p.Exit(0)
	log := p.Logger()

	children := make(map[int]*hostproc.Process, len(commands))
	var startErr error
	for _, argv := range commands {
		hopts := hostproc.Options{
			Command:     argv,
			Dir:         opts.dir,
			Env:         env,
			Ctty:        p.Ctty(),
			StopTimeout: hostEnv.cfg.Runtime.StopTimeout.Duration,
			Log:         log,
		}
		if hostEnv.pids != nil {
			hopts.Pid = hostEnv.pids.NextPid()
		}
		if opts.inherit {
			hopts.Stdout = cmd.OutOrStdout()
			hopts.Stderr = cmd.ErrOrStderr()
		}
		// Children outlive cancellation of runCtx; they are stopped below.
		child, err := hostproc.Start(stdcontext.Background(), hopts)
		if err != nil {
			startErr = err
			break
		}
		if err := p.Spawn(child); err != nil {
			_ = child.Kill(stdcontext.Background())
			startErr = err
			break
		}
		children[child.Pid()] = child
		log.WithField("child", child.Pid()).Debugf("spawned %s", child.Command())
	}
	if len(children) == 0 {
		return startErr
	}
	if startErr != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "sigrt run: %v\n", startErr)
	}

	stopped := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			stopChildren(children)
		case <-p.Exited():
			stopChildren(children)
		case <-stopped:
		}
	}()
	defer close(stopped)

	rep := newReporter(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts.jsonOut)
	code, err := reapAll(p, children, rep)
	if err != nil {
		return err
	}
	select {
	case <-p.Exited():
		if status := p.ExitStatus(); code == 0 && status.Signaled() {
			code = shellCode(status)
		}
	default:
	}
	if startErr != nil && code == 0 {
		code = 1
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}

func stopChildren(children map[int]*hostproc.Process) {
	for _, child := range children {
		go func(c *hostproc.Process) { _ = c.Stop(stdcontext.Background()) }(child)
	}
}

// reapAll waits for every child and returns the exit code of the first one
// that failed, in shell convention.
func reapAll(p *sigproc.Process, children map[int]*hostproc.Process, rep *reporter) (int, error) {
	w := p.NewWaiter()
	defer w.Close()

	code := 0
	for remaining := len(children); remaining > 0; {
		var usage signals.Rusage
		pid, status, err := w.Wait4(stdcontext.Background(), -1, 0, &usage)
		switch {
		case errors.Is(err, sigproc.ErrInterrupted):
			continue
		case errors.Is(err, subproc.ErrNoChild):
			return code, nil
		case err != nil:
			return code, err
		}
		command := ""
		if child, ok := children[pid]; ok {
			command = child.Command()
			remaining--
		}
		rep.report(cliutil.NewWaitRecord(pid, command, status, usage))
		if code == 0 {
			code = shellCode(status)
		}
	}
	return code, nil
}

func shellCode(status signals.WaitStatus) int {
	if status.Signaled() {
		return 128 + int(status.Signal())
	}
	return status.ExitStatus()
}
