package subproc

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Paintersrp/sigrt/internal/metrics"
	"github.com/Paintersrp/sigrt/internal/signals"
)

const (
	DefaultChildCapacity  = 63
	DefaultZombieCapacity = 256
	DefaultReaperPoll     = time.Second
)

// Options configures a Registry.
type Options struct {
	ChildCapacity  int
	ZombieCapacity int
	// Poll bounds how long the reaper sleeps before rebuilding its select set.
	Poll time.Duration
	Log  *logrus.Entry
	// Exited, when set, is called with the pid of each child whose host
	// terminated, after its status has been recorded.
	Exited func(pid int)
}

func (o *Options) applyDefaults() {
	if o.ChildCapacity <= 0 {
		o.ChildCapacity = DefaultChildCapacity
	}
	if o.ZombieCapacity <= 0 {
		o.ZombieCapacity = DefaultZombieCapacity
	}
	if o.Poll <= 0 {
		o.Poll = DefaultReaperPoll
	}
	if o.Log == nil {
		o.Log = logrus.NewEntry(logrus.StandardLogger())
	}
}

type entryState uint8

const (
	stateActive entryState = iota
	stateZombie
	stateReaped
)

type entry struct {
	child      Child
	pid        int
	host       Host
	hostPid    int
	ppid       int
	pgid       int
	sid        int
	ctty       int
	uid        int
	gid        int
	actions    signals.ActionTable
	stopped    bool
	stopSig    signals.Signal
	usage      signals.Rusage
	exitCode   uint32
	state      entryState
	slot       int
	registered time.Time
}

func (e *entry) refreshGroup() {
	if m, ok := e.child.(Member); ok {
		e.pgid = m.Pgid()
		e.ctty = m.Ctty()
	}
}

// Registry tracks the live and zombie children of one parent.
type Registry struct {
	parent Parent
	opts   Options
	log    *logrus.Entry

	mu            sync.Mutex
	live          *arena[*entry]
	zombies       *arena[*entry]
	queue         *waitQueue
	childrenUsage signals.Rusage
	terminated    bool

	reaperOnce sync.Once
	wakeCh     chan struct{}
	stopCh     chan struct{}
	reaperDone chan struct{}
}

// NewRegistry returns an empty registry for parent.
func NewRegistry(parent Parent, opts Options) *Registry {
	opts.applyDefaults()
	return &Registry{
		parent:     parent,
		opts:       opts,
		log:        opts.Log.WithField("component", "subproc"),
		live:       newArena[*entry](opts.ChildCapacity),
		zombies:    newArena[*entry](opts.ZombieCapacity),
		queue:      newWaitQueue(),
		wakeCh:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
}

// Register starts tracking child. The child's group, credentials and
// dispositions are copied from the parent.
func (r *Registry) Register(child Child) error {
	host := child.Host()
	if host == nil {
		return fmt.Errorf("register child %d: no host process", child.Pid())
	}
	inh := r.parent.Inherit()
	e := &entry{
		child:      child,
		pid:        child.Pid(),
		host:       host,
		hostPid:    host.HostPid(),
		ppid:       r.parent.Pid(),
		pgid:       inh.Pgid,
		sid:        inh.Sid,
		ctty:       inh.Ctty,
		uid:        inh.Uid,
		gid:        inh.Gid,
		actions:    inh.Actions,
		registered: time.Now(),
	}
	e.refreshGroup()

	r.mu.Lock()
	if r.terminated {
		r.mu.Unlock()
		return fmt.Errorf("register child %d: %w", e.pid, ErrTerminated)
	}
	slot, ok := r.live.insert(e)
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("register child %d: %w", e.pid, ErrTableFull)
	}
	e.slot = slot
	r.mu.Unlock()

	metrics.AddChildren(1, 0)
	r.reaperOnce.Do(func() { go r.reap() })
	r.kick()
	r.log.WithFields(logrus.Fields{"child": e.pid, "host_pid": e.hostPid}).Debug("child registered")
	return nil
}

func (r *Registry) kick() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

func (r *Registry) findLiveLocked(pid int) *entry {
	var found *entry
	r.live.each(func(_ int, e *entry) bool {
		if e.pid == pid {
			found = e
			return false
		}
		return true
	})
	return found
}

// NoteStopped records that child pid was stopped by sig and raises SIGCHLD on
// the parent.
func (r *Registry) NoteStopped(pid int, sig signals.Signal) error {
	r.mu.Lock()
	e := r.findLiveLocked(pid)
	if e == nil {
		r.mu.Unlock()
		return fmt.Errorf("stop %d: %w", pid, ErrNoChild)
	}
	e.stopped = true
	e.stopSig = sig
	r.rescanLocked()
	r.mu.Unlock()

	r.parent.ChildSignal()
	return nil
}

// NoteContinued clears the stopped state of child pid.
func (r *Registry) NoteContinued(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.findLiveLocked(pid)
	if e == nil {
		return fmt.Errorf("continue %d: %w", pid, ErrNoChild)
	}
	e.stopped = false
	e.stopSig = 0
	return nil
}

// Rescan re-evaluates every blocked wait call against the current tables.
func (r *Registry) Rescan() {
	r.mu.Lock()
	r.rescanLocked()
	r.mu.Unlock()
}

func (r *Registry) rescanLocked() {
	r.queue.each(func(w *waiter) {
		switch r.matchLocked(w) {
		case 1:
			w.done = true
		case 0:
			w.err = ErrNoChild
		default:
			return
		}
		r.queue.unlink(w)
		w.signal()
	})
}

// InterruptAll releases every blocked wait call with EINTR, leaving the child
// tables untouched. It returns the number of calls released.
func (r *Registry) InterruptAll(sig signals.Signal) int {
	r.mu.Lock()
	n := r.interruptLocked(sig)
	r.mu.Unlock()
	metrics.WaitsInterrupted(n)
	return n
}

func (r *Registry) interruptLocked(sig signals.Signal) int {
	n := 0
	r.queue.each(func(w *waiter) {
		w.interrupted = true
		w.intrSig = sig
		w.status = -1
		r.queue.unlink(w)
		w.signal()
		n++
	})
	return n
}

// Orphan describes a child handed to init by Terminate.
type Orphan struct {
	Pid      int
	Zombie   bool
	Orphaned bool
}

// Terminate tears the registry down at parent exit: blocked waits are
// released, host handles closed, and every child is re-parented to init.
// Live children in a process group led by the parent are marked orphaned.
func (r *Registry) Terminate() []Orphan {
	r.mu.Lock()
	if r.terminated {
		r.mu.Unlock()
		return nil
	}
	r.terminated = true
	interrupted := r.interruptLocked(0)

	parentPid := r.parent.Pid()
	var (
		out      []Orphan
		hosts    []Host
		orphaned []Orphanable
		groups   []bool
	)
	live, zombies := r.live.len(), r.zombies.len()
	r.live.each(func(_ int, e *entry) bool {
		e.refreshGroup()
		e.ppid = 1
		e.state = stateReaped
		o := Orphan{Pid: e.pid, Orphaned: e.pgid == parentPid}
		if c, ok := e.child.(Orphanable); ok {
			orphaned = append(orphaned, c)
			groups = append(groups, o.Orphaned)
		}
		out = append(out, o)
		hosts = append(hosts, e.host)
		return true
	})
	r.zombies.each(func(_ int, e *entry) bool {
		e.ppid = 1
		e.state = stateReaped
		out = append(out, Orphan{Pid: e.pid, Zombie: true})
		return true
	})
	r.live.clear()
	r.zombies.clear()
	r.mu.Unlock()

	close(r.stopCh)
	r.reaperOnce.Do(func() { close(r.reaperDone) })
	<-r.reaperDone

	for _, h := range hosts {
		if err := h.Close(); err != nil {
			r.log.WithError(err).WithField("host_pid", h.HostPid()).Debug("closing child host")
		}
	}
	for i, c := range orphaned {
		c.Orphan(groups[i])
	}
	metrics.AddChildren(-live, -zombies)
	metrics.WaitsInterrupted(interrupted)
	return out
}

// ChildrenUsage returns the cumulative usage of reaped children.
func (r *Registry) ChildrenUsage() signals.Rusage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.childrenUsage
}

// IsChild reports whether pid is a live or zombie child.
func (r *Registry) IsChild(pid int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isChildLocked(pid)
}

func (r *Registry) isChildLocked(pid int) bool {
	if r.findLiveLocked(pid) != nil {
		return true
	}
	found := false
	r.zombies.each(func(_ int, e *entry) bool {
		found = e.pid == pid
		return !found
	})
	return found
}

// Counts returns the number of live and zombie children.
func (r *Registry) Counts() (live, zombies int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live.len(), r.zombies.len()
}

// ChildInfo is a point-in-time view of one child.
type ChildInfo struct {
	Pid        int                `json:"pid"`
	HostPid    int                `json:"host_pid"`
	Pgid       int                `json:"pgid"`
	State      string             `json:"state"`
	StopSignal signals.Signal     `json:"stop_signal,omitempty"`
	Status     signals.WaitStatus `json:"status,omitempty"`
	Registered time.Time          `json:"registered"`
}

// Children lists live children followed by zombies.
func (r *Registry) Children() []ChildInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChildInfo, 0, r.live.len()+r.zombies.len())
	r.live.each(func(_ int, e *entry) bool {
		info := ChildInfo{Pid: e.pid, HostPid: e.hostPid, Pgid: e.pgid, State: "running", Registered: e.registered}
		if e.stopped {
			info.State = "stopped"
			info.StopSignal = e.stopSig
		}
		out = append(out, info)
		return true
	})
	r.zombies.each(func(_ int, e *entry) bool {
		out = append(out, ChildInfo{
			Pid:        e.pid,
			HostPid:    e.hostPid,
			Pgid:       e.pgid,
			State:      "zombie",
			Status:     signals.FromHostExitCode(e.exitCode),
			Registered: e.registered,
		})
		return true
	})
	return out
}
