package cli

import (
	stdcontext "context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/Paintersrp/sigrt/internal/config"
	"github.com/Paintersrp/sigrt/internal/procdir"
	"github.com/Paintersrp/sigrt/internal/rendezvous"
	"github.com/Paintersrp/sigrt/internal/sigproc"
	"github.com/Paintersrp/sigrt/internal/subproc"
)

// hostEnv holds the collaborators shared by every runtime process the CLI
// hosts.
type hostEnv struct {
	cfg    *config.Config
	logger *logrus.Logger
	dir    procdir.Directory
	rv     rendezvous.Rendezvous
	// pids is set for an in-memory directory; file directories reuse host
	// pids as runtime pids.
	pids sigproc.PidAllocator
}

func (c *context) hostEnv() (*hostEnv, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.getLogger()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.env == nil {
		env, err := newHostEnv(cfg, logger)
		if err != nil {
			return nil, err
		}
		c.env = env
	}
	return c.env, nil
}

func newHostEnv(cfg *config.Config, logger *logrus.Logger) (*hostEnv, error) {
	env := &hostEnv{cfg: cfg, logger: logger}
	log := logrus.NewEntry(logger)

	switch cfg.Directory.Kind {
	case config.DirectoryMemory:
		mem := procdir.NewMemory(1)
		env.dir = mem
		env.pids = mem
	case config.DirectoryFile:
		dir, err := procdir.NewFile(cfg.Directory.Dir, log.WithField("component", "procdir"))
		if err != nil {
			return nil, err
		}
		env.dir = dir
	default:
		return nil, fmt.Errorf("unknown directory kind %q", cfg.Directory.Kind)
	}

	switch cfg.Rendezvous.Kind {
	case config.RendezvousMemory:
		env.rv = rendezvous.NewMemory()
	case config.RendezvousSocket:
		rv, err := rendezvous.NewSocket(cfg.Rendezvous.Dir, log.WithField("component", "rendezvous"))
		if err != nil {
			return nil, err
		}
		env.rv = rv
	default:
		return nil, fmt.Errorf("unknown rendezvous kind %q", cfg.Rendezvous.Kind)
	}
	return env, nil
}

func (e *hostEnv) processConfig() sigproc.Config {
	r := e.cfg.Runtime
	return sigproc.Config{
		Directory:         e.dir,
		Rendezvous:        e.rv,
		Pids:              e.pids,
		Logger:            e.logger,
		CompletionTimeout: r.CompletionTimeout.Duration,
		ScanLimit:         r.ScanLimit,
		OpenAttempts:      uint(r.OpenAttempts),
		OpenDelay:         r.OpenDelay.Duration,
		Children: subproc.Options{
			ChildCapacity:  r.ChildCapacity,
			ZombieCapacity: r.ZombieCapacity,
			Poll:           r.ReaperPoll.Duration,
		},
	}
}

// identity describes the CLI's own host process as a runtime process.
func (e *hostEnv) identity(command string) sigproc.Identity {
	id := sigproc.Identity{
		Uid:     os.Getuid(),
		Gid:     os.Getgid(),
		Ctty:    controllingTTY(),
		Command: command,
	}
	if e.pids != nil {
		id.Pid = e.pids.NextPid()
		return id
	}
	id.Pid = os.Getpid()
	id.HostPid = id.Pid
	id.Pgid = unix.Getpgrp()
	if sid, err := unix.Getsid(0); err == nil {
		id.Sid = sid
	}
	return id
}

// startProcess publishes the CLI as a runtime process.
func (e *hostEnv) startProcess(ctx stdcontext.Context, command string) (*sigproc.Process, error) {
	p, err := sigproc.New(e.identity(command), e.processConfig())
	if err != nil {
		return nil, err
	}
	if err := p.Start(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// controllingTTY identifies the terminal on stdin by its device number.
func controllingTTY() int {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return procdir.NoTTY
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return procdir.NoTTY
	}
	return int(st.Rdev)
}
