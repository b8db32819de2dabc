package sigproc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/sigrt/internal/procdir"
	"github.com/Paintersrp/sigrt/internal/signals"
	"github.com/Paintersrp/sigrt/internal/subproc"
)

// lifetime is the host identity of an in-process runtime process. Exec
// replaces it, so a parent's reaper sees the old one end while the child
// lives on.
type lifetime struct {
	hostPid int
	done    chan struct{}
	once    sync.Once
	code    uint32
	usage   signals.Rusage
}

func newLifetime(hostPid int) *lifetime {
	return &lifetime{hostPid: hostPid, done: make(chan struct{})}
}

func (l *lifetime) HostPid() int          { return l.hostPid }
func (l *lifetime) Done() <-chan struct{} { return l.done }
func (l *lifetime) ExitCode() uint32      { return l.code }
func (l *lifetime) Usage() signals.Rusage { return l.usage }
func (l *lifetime) Close() error          { return nil }

func (l *lifetime) end(code uint32, usage signals.Rusage) {
	l.once.Do(func() {
		l.code = code
		l.usage = usage
		close(l.done)
	})
}

// Host implements subproc.Child.
func (p *Process) Host() subproc.Host {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.life
}

// Orphan implements subproc.Orphanable. The process is re-parented to init.
func (p *Process) Orphan(group bool) {
	p.mu.Lock()
	p.orphaned = p.orphaned || group
	p.id.PPid = 1
	p.parent = nil
	p.mu.Unlock()
	p.publish()
}

// Inherit implements subproc.Parent.
func (p *Process) Inherit() subproc.Inheritance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return subproc.Inheritance{
		Pgid:    p.id.Pgid,
		Sid:     p.id.Sid,
		Ctty:    p.id.Ctty,
		Uid:     p.id.Uid,
		Gid:     p.id.Gid,
		Actions: p.actions,
	}
}

// ChildSignal implements subproc.Parent.
func (p *Process) ChildSignal() {
	if err := p.Send(context.Background(), SelfNoWait, signals.SIGCHLD); err != nil {
		p.log.WithError(err).Debug("raising SIGCHLD")
	}
}

// IgnoresChildren implements subproc.Parent.
func (p *Process) IgnoresChildren() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.actions[signals.SIGCHLD].Kind == signals.KindIgnore
}

// Restartable implements subproc.Parent.
func (p *Process) Restartable(sig signals.Signal) bool {
	if !sig.Valid() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	act := p.actions[sig]
	return act.Kind == signals.KindHandler && act.Flags&signals.FlagRestart != 0
}

// Fork creates and starts a child that copies this process's dispositions,
// mask, group, terminal and credentials. Pending signals are not inherited.
// Signals sent to the child before Fork returns are held until the copy is
// complete.
func (p *Process) Fork(ctx context.Context) (*Process, error) {
	if p.cfg.Pids == nil {
		return nil, fmt.Errorf("fork: no pid allocator: %w", ErrUnavailable)
	}
	if p.isExiting() {
		return nil, fmt.Errorf("fork: %w", ErrNoSuchProcess)
	}
	pid := p.cfg.Pids.NextPid()

	p.mu.Lock()
	id := p.id
	actions := p.actions
	mask := p.mask
	catchers := p.catchers
	p.mu.Unlock()

	child, err := New(Identity{
		Pid:     pid,
		PPid:    id.Pid,
		Pgid:    id.Pgid,
		Sid:     id.Sid,
		Ctty:    id.Ctty,
		Uid:     id.Uid,
		Gid:     id.Gid,
		HostPid: pid,
		Command: id.Command,
	}, p.cfg)
	if err != nil {
		return nil, fmt.Errorf("fork: %w", err)
	}
	child.actions = actions
	child.mask = mask
	child.catchers = catchers
	child.parent = p

	child.BeginFork()
	if err := child.Start(ctx); err != nil {
		return nil, fmt.Errorf("fork: %w", err)
	}
	if err := p.children.Register(child); err != nil {
		child.mu.Lock()
		child.parent = nil
		child.mu.Unlock()
		child.Exit(1)
		return nil, fmt.Errorf("fork: %w", err)
	}
	child.EndFork()
	return child, nil
}

// BeginFork opens a window during which every signal except SIGKILL and
// SIGSTOP is held back. Windows nest.
func (p *Process) BeginFork() {
	p.mu.Lock()
	p.forking++
	p.mu.Unlock()
}

// EndFork closes a window opened by BeginFork and delivers what was held.
func (p *Process) EndFork() {
	p.mu.Lock()
	if p.forking > 0 {
		p.forking--
	}
	open := p.forking > 0
	p.mu.Unlock()
	if !open {
		p.requestFlush()
	}
}

// Exec replaces the program image: caught signals revert to the default,
// ignored signals stay ignored, and the mask and pending signals survive.
// The previous host identity ends without producing a zombie.
func (p *Process) Exec(command string) error {
	p.mu.Lock()
	if p.lifecycle == procdir.StateExited {
		p.mu.Unlock()
		return fmt.Errorf("exec: %w", ErrNoSuchProcess)
	}
	p.actions = p.actions.ForExec()
	p.catchers = 0
	p.id.Command = command
	old := p.life
	p.life = newLifetime(p.id.HostPid)
	p.mu.Unlock()

	p.publish()
	old.end(0, signals.Rusage{})
	p.log.WithField("command", command).Debug("exec")
	return nil
}

// Spawn adopts a child that runs outside this address space, such as a host
// command. Its descriptor is published while it runs.
func (p *Process) Spawn(child subproc.Child) error {
	if p.isExiting() {
		return fmt.Errorf("spawn: %w", ErrNoSuchProcess)
	}
	inh := p.Inherit()
	host := child.Host()
	if host == nil {
		return fmt.Errorf("spawn %d: no host process", child.Pid())
	}
	d := procdir.Descriptor{
		Pid:      child.Pid(),
		PPid:     p.Pid(),
		Pgid:     inh.Pgid,
		Sid:      inh.Sid,
		Ctty:     inh.Ctty,
		Uid:      inh.Uid,
		Gid:      inh.Gid,
		HostPid:  host.HostPid(),
		State:    procdir.StateActive,
		Instance: procdir.NewInstance(),
	}
	if m, ok := child.(subproc.Member); ok {
		d.Pgid = m.Pgid()
		d.Ctty = m.Ctty()
	}
	if c, ok := child.(interface{ Command() string }); ok {
		d.Command = c.Command()
	}
	if s, ok := child.(interface{ StartedAt() time.Time }); ok {
		d.StartedAt = s.StartedAt()
	}

	p.mu.Lock()
	p.spawned[d.Pid] = child
	p.mu.Unlock()

	if err := p.children.Register(child); err != nil {
		p.mu.Lock()
		delete(p.spawned, d.Pid)
		p.mu.Unlock()
		return fmt.Errorf("spawn: %w", err)
	}
	if err := p.cfg.Directory.Publish(d); err != nil {
		p.log.WithError(err).WithField("child", d.Pid).Warn("publishing child descriptor")
	}
	return nil
}

// spawnedExited withdraws the descriptor of a spawned child whose host ended.
func (p *Process) spawnedExited(pid int) {
	p.mu.Lock()
	_, ok := p.spawned[pid]
	delete(p.spawned, pid)
	p.mu.Unlock()
	if !ok {
		return
	}
	if err := p.cfg.Directory.Remove(pid, ""); err != nil {
		p.log.WithError(err).WithField("child", pid).Debug("removing child descriptor")
	}
}

// hostSignaler is implemented by spawned children that can be signalled
// directly through the host.
type hostSignaler interface {
	Signal(sig signals.Signal) error
}

func (p *Process) spawnedSignaler(pid int) (hostSignaler, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.spawned[pid].(hostSignaler)
	return s, ok
}
