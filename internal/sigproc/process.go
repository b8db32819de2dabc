package sigproc

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Paintersrp/sigrt/internal/logging"
	"github.com/Paintersrp/sigrt/internal/procdir"
	"github.com/Paintersrp/sigrt/internal/rendezvous"
	"github.com/Paintersrp/sigrt/internal/signals"
	"github.com/Paintersrp/sigrt/internal/subproc"
)

const (
	DefaultCompletionTimeout = 60 * time.Second
	DefaultScanLimit         = 100
	DefaultOpenAttempts      = 10
	DefaultOpenDelay         = time.Millisecond
)

// PidAllocator hands out runtime pids for forked processes.
type PidAllocator interface {
	NextPid() int
}

// Config wires a Process to its collaborators.
type Config struct {
	Directory  procdir.Directory
	Rendezvous rendezvous.Rendezvous
	// Pids is required by Fork.
	Pids   PidAllocator
	Logger *logrus.Logger

	CompletionTimeout time.Duration
	ScanLimit         int
	// OpenAttempts and OpenDelay bound the wait for a peer that is still
	// initializing.
	OpenAttempts uint
	OpenDelay    time.Duration

	Children subproc.Options
}

func (c *Config) applyDefaults() {
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = DefaultCompletionTimeout
	}
	if c.ScanLimit <= 0 {
		c.ScanLimit = DefaultScanLimit
	}
	if c.OpenAttempts == 0 {
		c.OpenAttempts = DefaultOpenAttempts
	}
	if c.OpenDelay <= 0 {
		c.OpenDelay = DefaultOpenDelay
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
}

// Identity is the runtime-visible identity of a process.
type Identity struct {
	Pid     int
	PPid    int
	Pgid    int
	Sid     int
	Ctty    int
	Uid     int
	Gid     int
	HostPid int
	Command string
}

// Process is one runtime process: its signal state, its pending-signal
// tables, its delivery goroutine and its children.
type Process struct {
	cfg       Config
	logger    *logrus.Logger
	baseLevel logrus.Level
	log       *logrus.Entry
	instance  string

	mu        sync.Mutex
	startedAt time.Time
	id        Identity
	lifecycle procdir.State
	actions   signals.ActionTable
	mask      signals.Set
	catchers  int
	stopped   bool
	orphaned  bool
	forking   int
	arrived   chan struct{}
	commune   func(Snapshot)
	timer     itimer
	parent    *Process
	spawned   map[int]subproc.Child
	life      *lifetime
	status    signals.WaitStatus
	pub       io.Closer

	tables   [routeCount]counters
	wake     [routeCount]chan struct{}
	reqMu    sync.Mutex
	reqs     [routeCount][]*request
	deferred atomic.Bool
	// inCallback is set while the delivery goroutine runs a handler or
	// commune responder.
	inCallback atomic.Bool

	state        atomic.Int32
	started      atomic.Bool
	stop         chan struct{}
	exiting      chan struct{}
	deliveryDone chan struct{}
	exited       chan struct{}
	exitOnce     sync.Once

	children *subproc.Registry
}

// New returns an unstarted process. Zero Pgid and Sid default to the pid,
// a zero HostPid to the pid.
func New(id Identity, cfg Config) (*Process, error) {
	if id.Pid <= 0 {
		return nil, fmt.Errorf("new process: pid %d: %w", id.Pid, ErrInvalid)
	}
	if cfg.Directory == nil || cfg.Rendezvous == nil {
		return nil, fmt.Errorf("new process %d: directory and rendezvous are required", id.Pid)
	}
	cfg.applyDefaults()
	if id.Pgid == 0 {
		id.Pgid = id.Pid
	}
	if id.Sid == 0 {
		id.Sid = id.Pid
	}
	if id.HostPid == 0 {
		id.HostPid = id.Pid
	}

	logger := logging.Fork(cfg.Logger)
	p := &Process{
		cfg:          cfg,
		logger:       logger,
		baseLevel:    logger.GetLevel(),
		instance:     procdir.NewInstance(),
		id:           id,
		lifecycle:    procdir.StateInitializing,
		arrived:      make(chan struct{}),
		spawned:      make(map[int]subproc.Child),
		stop:         make(chan struct{}),
		exiting:      make(chan struct{}),
		deliveryDone: make(chan struct{}),
		exited:       make(chan struct{}),
	}
	p.log = logger.WithFields(logrus.Fields{"pid": id.Pid, "pgid": id.Pgid, "hostid": id.HostPid})
	for i := range p.wake {
		p.wake[i] = make(chan struct{}, 1)
	}
	p.life = newLifetime(id.HostPid)

	childOpts := cfg.Children
	childOpts.Log = p.log
	childOpts.Exited = p.spawnedExited
	p.children = subproc.NewRegistry(p, childOpts)
	return p, nil
}

// Start publishes the process and launches its delivery goroutine. A process
// whose notifier cannot be published never becomes active.
func (p *Process) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("start process %d: already started", p.Pid())
	}
	p.mu.Lock()
	p.startedAt = time.Now()
	p.mu.Unlock()
	p.publish()

	pub, err := p.cfg.Rendezvous.Publish(p.HostPid(), rendezvous.SinkFunc(p.post))
	if err != nil {
		p.log.WithError(err).Error("cannot publish signal notifier")
		_ = p.cfg.Directory.Remove(p.Pid(), p.instance)
		p.markExited()
		return fmt.Errorf("start process %d: %w: %w", p.Pid(), ErrNotifierCreate, err)
	}
	p.mu.Lock()
	p.pub = pub
	p.mu.Unlock()

	ready := make(chan struct{})
	go p.deliver(ready)
	select {
	case <-ready:
	case <-ctx.Done():
		p.terminate(signals.ExitedWith(1), false)
		return ctx.Err()
	}

	p.mu.Lock()
	p.lifecycle = procdir.StateActive
	p.mu.Unlock()
	p.publish()
	p.log.Debug("process started")
	return nil
}

func (p *Process) markExited() {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.lifecycle = procdir.StateExited
		p.status = signals.ExitedWith(1)
		life := p.life
		p.mu.Unlock()
		close(p.exiting)
		close(p.stop)
		close(p.deliveryDone)
		life.end(exitCode(signals.ExitedWith(1)), signals.Rusage{})
		close(p.exited)
	})
}

// Exit terminates the process with a normal exit status. It may be called
// from a signal handler.
func (p *Process) Exit(code int) {
	p.terminate(signals.ExitedWith(code), p.inCallback.Load())
}

// terminate tears the process down. When called from the delivery goroutine
// it does not wait for that goroutine to finish.
func (p *Process) terminate(status signals.WaitStatus, fromDelivery bool) {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.lifecycle = procdir.StateExited
		p.status = status
		p.timer.stopLocked()
		close(p.arrived)
		p.arrived = make(chan struct{})
		life := p.life
		pub := p.pub
		p.mu.Unlock()

		close(p.exiting)
		close(p.stop)
		if !fromDelivery {
			<-p.deliveryDone
		}
		if pub != nil {
			if err := pub.Close(); err != nil {
				p.log.WithError(err).Warn("withdrawing signal notifier")
			}
		}

		for _, o := range p.children.Terminate() {
			if o.Zombie {
				continue
			}
			p.reparent(o)
		}
		if err := p.cfg.Directory.Remove(p.Pid(), p.instance); err != nil {
			p.log.WithError(err).Debug("removing process descriptor")
		}
		for r := range p.tables {
			p.tables[r].reset()
		}
		life.end(exitCode(status), p.children.ChildrenUsage())
		p.log.WithField("status", status.String()).Debug("process exited")
		close(p.exited)
	})
}

func (p *Process) reparent(o subproc.Orphan) {
	d, err := p.cfg.Directory.Lookup(o.Pid)
	if err != nil {
		return
	}
	d.PPid = 1
	d.Orphaned = d.Orphaned || o.Orphaned
	if err := p.cfg.Directory.Publish(d); err != nil {
		p.log.WithError(err).WithField("child", o.Pid).Warn("re-parenting child")
	}
}

func exitCode(status signals.WaitStatus) uint32 {
	if status.Signaled() {
		return signals.HostExitCode(status.Signal(), status.CoreDump())
	}
	return uint32(status.ExitStatus() & 0xff)
}

// Exited is closed once the process has terminated.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// ExitStatus is the status the process terminated with.
func (p *Process) ExitStatus() signals.WaitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Process) isExiting() bool {
	select {
	case <-p.exiting:
		return true
	default:
		return false
	}
}

func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id.Pid
}

func (p *Process) HostPid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id.HostPid
}

func (p *Process) Pgid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id.Pgid
}

func (p *Process) Ctty() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id.Ctty
}

// Identity returns a copy of the process identity.
func (p *Process) Identity() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// Setpgid moves the process into process group pgid; 0 makes it a leader.
func (p *Process) Setpgid(pgid int) error {
	if pgid < 0 {
		return fmt.Errorf("setpgid %d: %w", pgid, ErrInvalid)
	}
	p.mu.Lock()
	if pgid == 0 {
		pgid = p.id.Pid
	}
	p.id.Pgid = pgid
	p.orphaned = false
	p.mu.Unlock()
	p.publish()
	return nil
}

// Logger returns the per-process log entry.
func (p *Process) Logger() *logrus.Entry { return p.log }

// Children returns the registry of this process's children.
func (p *Process) Children() *subproc.Registry { return p.children }

// NewWaiter allocates a wait handle for one goroutine of this process.
func (p *Process) NewWaiter() *subproc.Waiter { return p.children.NewWaiter() }

func (p *Process) descriptorLocked() procdir.Descriptor {
	state := p.lifecycle
	if state == procdir.StateActive && p.stopped {
		state = procdir.StateStopped
	}
	return procdir.Descriptor{
		Pid:       p.id.Pid,
		PPid:      p.id.PPid,
		Pgid:      p.id.Pgid,
		Sid:       p.id.Sid,
		Ctty:      p.id.Ctty,
		Uid:       p.id.Uid,
		Gid:       p.id.Gid,
		HostPid:   p.id.HostPid,
		State:     state,
		Orphaned:  p.orphaned,
		Command:   p.id.Command,
		StartedAt: p.startedAt,
		Instance:  p.instance,
	}
}

func (p *Process) publish() {
	p.mu.Lock()
	if p.lifecycle == procdir.StateExited {
		p.mu.Unlock()
		return
	}
	d := p.descriptorLocked()
	p.mu.Unlock()
	if err := p.cfg.Directory.Publish(d); err != nil {
		p.log.WithError(err).Warn("publishing process descriptor")
	}
}
