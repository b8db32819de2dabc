package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	mobysignal "github.com/moby/sys/signal"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/Paintersrp/sigrt/internal/procdir"
	"github.com/Paintersrp/sigrt/internal/signals"
	"github.com/Paintersrp/sigrt/internal/sigproc"
)

type killOptions struct {
	signal string
	list   bool
	force  bool
	resume bool
}

func newKillCmd(ctx *context) *cobra.Command {
	var opts killOptions
	cmd := &cobra.Command{
		Use:   "kill [-f] [-SIGNAL | -s SIGNAL] pid...\n  sigrt kill -l [SIGNAL]",
		Short: "Send signals to runtime processes",
		Long: `Send a signal to runtime processes. A negative pid addresses the process
group -pid, 0 the caller's process group and -1 every process.`,
		// Flag parsing is done by hand so that -TERM and -9 are accepted.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if err := flags.Parse(normalizeKillArgs(args)); err != nil {
				return err
			}
			if help, _ := flags.GetBool("help"); help {
				return cmd.Help()
			}
			rest := flags.Args()
			if opts.list {
				if len(rest) > 1 {
					return fmt.Errorf("kill -l takes at most one signal")
				}
				raw := ""
				if len(rest) == 1 {
					raw = rest[0]
				}
				return listSignals(cmd.OutOrStdout(), raw)
			}
			if len(rest) == 0 {
				return fmt.Errorf("kill: no pids given; see sigrt kill --help")
			}
			sig, err := parseKillSignal(opts.signal)
			if err != nil {
				return err
			}
			return runKill(cmd, ctx, sig, rest, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.signal, "signal", "s", "TERM", "Signal to send (name or number)")
	cmd.Flags().BoolVarP(&opts.list, "list", "l", false, "List signal names, or translate one signal")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Fall back to the host kill for processes without a runtime endpoint")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "Send the signal, then SIGCONT, to the stopped members of a process group")
	cmd.Flags().BoolP("help", "h", false, "help for kill")
	return cmd
}

// normalizeKillArgs rewrites the first -SIGNAL argument into --signal and
// moves pids behind "--" so that negative pids are not taken for flags.
func normalizeKillArgs(args []string) []string {
	var (
		flags   []string
		pids    []string
		sigSeen bool
	)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			pids = append(pids, args[i+1:]...)
			i = len(args)
		case arg == "-s" || arg == "--signal":
			flags = append(flags, arg)
			if i+1 < len(args) {
				flags = append(flags, args[i+1])
				i++
			}
			sigSeen = true
		case strings.HasPrefix(arg, "--signal=") ||
			(strings.HasPrefix(arg, "-s") && len(arg) > 2 && !looksLikeSignal(arg[1:])):
			flags = append(flags, arg)
			sigSeen = true
		case arg == "-c" || arg == "--config" || arg == "--log-level":
			flags = append(flags, arg)
			if i+1 < len(args) {
				flags = append(flags, args[i+1])
				i++
			}
		case strings.HasPrefix(arg, "--config=") || strings.HasPrefix(arg, "--log-level="):
			flags = append(flags, arg)
		case arg == "-l" || arg == "--list" || arg == "-f" || arg == "--force" ||
			arg == "--resume" || arg == "-h" || arg == "--help":
			flags = append(flags, arg)
		case strings.HasPrefix(arg, "-") && len(arg) > 1:
			if !sigSeen && looksLikeSignal(arg[1:]) {
				flags = append(flags, "--signal="+arg[1:])
				sigSeen = true
				continue
			}
			pids = append(pids, arg)
		default:
			pids = append(pids, arg)
		}
	}
	if len(pids) == 0 {
		return flags
	}
	return append(append(flags, "--"), pids...)
}

func looksLikeSignal(raw string) bool {
	_, err := signals.Parse(raw)
	return err == nil
}

func parseKillSignal(raw string) (signals.Signal, error) {
	sig, err := signals.Parse(raw)
	if err != nil {
		return 0, fmt.Errorf("unknown signal: %s: %w", raw, sigproc.ErrInvalid)
	}
	return sig, nil
}

// listSignals prints every signal name, or translates raw between its name
// and number.
func listSignals(out io.Writer, raw string) error {
	if raw == "" {
		names := make([]string, 0, signals.NSIG)
		for _, sig := range signals.All() {
			names = append(names, sig.Name())
		}
		fmt.Fprintln(out, strings.Join(names, " "))
		return nil
	}
	sig, err := parseKillSignal(raw)
	if err != nil {
		return err
	}
	if _, numErr := strconv.Atoi(strings.TrimSpace(raw)); numErr == nil {
		fmt.Fprintln(out, sig.Name())
		return nil
	}
	fmt.Fprintln(out, int(sig))
	return nil
}

func runKill(cmd *cobra.Command, ctx *context, sig signals.Signal, targets []string, opts killOptions) error {
	env, err := ctx.hostEnv()
	if err != nil {
		return err
	}
	p, err := env.startProcess(cmd.Context(), "sigrt kill")
	if err != nil {
		return err
	}
	defer p.Exit(0)

	failed := false
	for _, raw := range targets {
		pid, err := strconv.Atoi(raw)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "sigrt kill: illegal pid: %s\n", raw)
			failed = true
			continue
		}
		if err := killTarget(cmd.Context(), p, pid, sig, opts.resume); err != nil {
			if opts.force && sig != 0 && fallbackEligible(err) {
				err = forceKill(env.dir, pid, sig)
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "sigrt kill %d: %v\n", pid, err)
				failed = true
			}
		}
	}
	if failed {
		return &exitError{code: 1}
	}
	return nil
}

func killTarget(ctx stdcontext.Context, p *sigproc.Process, pid int, sig signals.Signal, resume bool) error {
	if !resume {
		return p.Kill(ctx, pid, sig)
	}
	if pid > 0 {
		return fmt.Errorf("--resume addresses process groups, use -%d: %w", pid, sigproc.ErrInvalid)
	}
	return p.ResumeGroup(ctx, -pid, sig)
}

// fallbackEligible reports whether err means the target has no usable
// runtime endpoint.
func fallbackEligible(err error) bool {
	return errors.Is(err, unix.ESRCH) || errors.Is(err, sigproc.ErrUnavailable) ||
		errors.Is(err, sigproc.ErrCompletionTimeout)
}

// forceKill signals the host process behind pid, or pid itself when the
// directory does not know it.
func forceKill(dir procdir.Directory, pid int, sig signals.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("force kill %d: process groups have no host fallback: %w", pid, sigproc.ErrInvalid)
	}
	hostPid := pid
	if d, err := dir.Lookup(pid); err == nil && d.HostPid > 0 {
		hostPid = d.HostPid
	}
	hostSig, err := mobysignal.ParseSignal(sig.Name())
	if err != nil {
		return fmt.Errorf("force kill %d: %w", pid, err)
	}
	if err := unix.Kill(hostPid, hostSig); err != nil {
		return fmt.Errorf("force kill %d (host %d): %w", pid, hostPid, err)
	}
	return nil
}
