//go:build unix

package hostproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	mobysignal "github.com/moby/sys/signal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/Paintersrp/sigrt/internal/signals"
	"github.com/Paintersrp/sigrt/internal/subproc"
)

// DefaultStopTimeout is how long Stop waits after SIGTERM before SIGKILL.
const DefaultStopTimeout = 2 * time.Second

var ErrNotStarted = errors.New("host process not started")

// Options describes a host command.
type Options struct {
	// Pid is the runtime pid assigned to the child. Zero adopts the host pid.
	Pid     int
	Command []string
	Dir     string
	Env     map[string]string
	// Stdout and Stderr receive the command's output. When nil and Log is
	// set, output lines are logged instead.
	Stdout io.Writer
	Stderr io.Writer
	Ctty   int

	StopTimeout time.Duration
	Log         *logrus.Entry
}

// Process is a running host command. It implements subproc.Child and
// subproc.Host.
type Process struct {
	pid         int
	cmd         *exec.Cmd
	command     string
	ctty        int
	startedAt   time.Time
	stopTimeout time.Duration
	log         *logrus.Entry

	done    chan struct{}
	mu      sync.Mutex
	code    uint32
	usage   signals.Rusage
	waitErr error
	streams sync.WaitGroup
}

type pipe struct {
	r      io.Reader
	stderr bool
}

var (
	_ subproc.Child  = (*Process)(nil)
	_ subproc.Host   = (*Process)(nil)
	_ subproc.Member = (*Process)(nil)
)

// Start launches the command described by opts.
func Start(ctx context.Context, opts Options) (*Process, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("host process %d requires a command", opts.Pid)
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	cmd := exec.CommandContext(ctx, opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = environ(opts.Env)
	configureCmdSysProcAttr(cmd)

	p := &Process{
		pid:         opts.Pid,
		cmd:         cmd,
		command:     strings.Join(opts.Command, " "),
		ctty:        opts.Ctty,
		stopTimeout: opts.StopTimeout,
		log:         opts.Log.WithField("child", opts.Pid),
		done:        make(chan struct{}),
	}

	var pipes []pipe
	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	} else {
		r, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("host process %d stdout: %w", opts.Pid, err)
		}
		pipes = append(pipes, pipe{r: r})
	}
	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	} else {
		r, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("host process %d stderr: %w", opts.Pid, err)
		}
		pipes = append(pipes, pipe{r: r, stderr: true})
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start host process %d: %w", opts.Pid, err)
	}
	p.startedAt = time.Now()
	if p.pid == 0 {
		p.pid = cmd.Process.Pid
		p.log = opts.Log.WithField("child", p.pid)
	}
	p.log = p.log.WithField("host_pid", cmd.Process.Pid)

	p.streams.Add(len(pipes))
	for _, pp := range pipes {
		go p.streamLines(pp.r, pp.stderr)
	}
	go p.wait()
	return p, nil
}

func environ(overrides map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, overrides[k]))
	}
	return env
}

func (p *Process) streamLines(r io.Reader, stderr bool) {
	defer p.streams.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\n")
		if stderr {
			p.log.WithField("stream", "stderr").Warn(line)
			continue
		}
		p.log.WithField("stream", "stdout").Info(line)
	}
}

func (p *Process) wait() {
	// Pipes must be drained before Wait closes them.
	p.streams.Wait()
	err := p.cmd.Wait()

	code, usage := translate(p.cmd.ProcessState)
	var exitErr *exec.ExitError
	if err != nil && errors.As(err, &exitErr) {
		err = nil
	}
	if err != nil {
		p.log.WithError(err).Warn("waiting for host process")
	}
	p.mu.Lock()
	p.code = code
	p.usage = usage
	p.waitErr = err
	p.mu.Unlock()
	close(p.done)
}

// translate converts a host process state into a runtime exit code and
// resource usage.
func translate(state *os.ProcessState) (uint32, signals.Rusage) {
	if state == nil {
		return 0xff, signals.Rusage{}
	}
	var code uint32
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := fromHost(ws.Signal())
		code = signals.HostExitCode(sig, ws.CoreDump())
	} else {
		code = uint32(state.ExitCode() & 0xff)
	}

	var usage signals.Rusage
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok && ru != nil {
		usage = signals.Rusage{
			Utime:  time.Duration(ru.Utime.Nano()),
			Stime:  time.Duration(ru.Stime.Nano()),
			MaxRSS: int64(ru.Maxrss),
			Minflt: int64(ru.Minflt),
			Majflt: int64(ru.Majflt),
			Nvcsw:  int64(ru.Nvcsw),
			Nivcsw: int64(ru.Nivcsw),
		}
	}
	return code, usage
}

// fromHost maps a host signal to the runtime signal with the same name.
func fromHost(s syscall.Signal) signals.Signal {
	if sig, err := signals.Parse(unix.SignalName(s)); err == nil && sig.Valid() {
		return sig
	}
	return signals.SIGKILL
}

// toHost maps a runtime signal to the host signal with the same name.
func toHost(sig signals.Signal) (syscall.Signal, error) {
	if !sig.Valid() {
		return 0, fmt.Errorf("signal %d has no host equivalent", int(sig))
	}
	s, err := mobysignal.ParseSignal(sig.Name())
	if err != nil {
		return 0, fmt.Errorf("signal %s: %w", sig, err)
	}
	return s, nil
}

func (p *Process) Pid() int { return p.pid }

// Host returns the process itself; a host command never execs in place.
func (p *Process) Host() subproc.Host { return p }

func (p *Process) HostPid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) ExitCode() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *Process) Usage() signals.Rusage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage
}

// Close releases nothing; the wait goroutine owns the host handle.
func (p *Process) Close() error { return nil }

// Pgid is the runtime process group: the child leads its own group.
func (p *Process) Pgid() int { return p.pid }

func (p *Process) Ctty() int { return p.ctty }

func (p *Process) Command() string { return p.command }

func (p *Process) StartedAt() time.Time { return p.startedAt }

// Err reports a failure to wait for the host process, if any.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Signal delivers sig to the host process.
func (p *Process) Signal(sig signals.Signal) error {
	if p.cmd.Process == nil {
		return ErrNotStarted
	}
	s, err := toHost(sig)
	if err != nil {
		return err
	}
	if err := unix.Kill(p.cmd.Process.Pid, s); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("signal host process %d: %w", p.pid, err)
	}
	return nil
}
