package subproc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Paintersrp/sigrt/internal/signals"
)

type fakeHost struct {
	pid    int
	done   chan struct{}
	code   uint32
	usage  signals.Rusage
	closed atomic.Bool
	once   sync.Once
}

func newFakeHost(pid int) *fakeHost {
	return &fakeHost{pid: pid, done: make(chan struct{})}
}

func (h *fakeHost) HostPid() int                         { return h.pid }
func (h *fakeHost) Done() <-chan struct{}                { return h.done }
func (h *fakeHost) ExitCode() uint32                     { return h.code }
func (h *fakeHost) Usage() signals.Rusage                { return h.usage }
func (h *fakeHost) Close() error                         { h.closed.Store(true); return nil }
func (h *fakeHost) exit(code uint32)                     { h.once.Do(func() { h.code = code; close(h.done) }) }
func (h *fakeHost) exitWith(code int)                    { h.exit(uint32(code)) }
func (h *fakeHost) kill(sig signals.Signal)              { h.exit(signals.HostExitCode(sig, false)) }
func (h *fakeHost) withUsage(u signals.Rusage) *fakeHost { h.usage = u; return h }

type fakeChild struct {
	pid      int
	mu       sync.Mutex
	host     Host
	pgid     int
	ctty     int
	orphaned atomic.Bool
}

func (c *fakeChild) Pid() int { return c.pid }

func (c *fakeChild) Host() Host {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host
}

func (c *fakeChild) setHost(h Host) {
	c.mu.Lock()
	c.host = h
	c.mu.Unlock()
}

func (c *fakeChild) Pgid() int         { c.mu.Lock(); defer c.mu.Unlock(); return c.pgid }
func (c *fakeChild) Ctty() int         { c.mu.Lock(); defer c.mu.Unlock(); return c.ctty }
func (c *fakeChild) Orphan(group bool) { c.orphaned.Store(group) }

type fakeParent struct {
	pid     int
	pgid    int
	ctty    int
	ignore  atomic.Bool
	restart sync.Map
	chld    chan struct{}
}

func newFakeParent(pid int) *fakeParent {
	return &fakeParent{pid: pid, pgid: pid, ctty: -1, chld: make(chan struct{}, 64)}
}

func (p *fakeParent) Pid() int { return p.pid }

func (p *fakeParent) Inherit() Inheritance {
	return Inheritance{Pgid: p.pgid, Sid: p.pgid, Ctty: p.ctty}
}

func (p *fakeParent) ChildSignal() { p.chld <- struct{}{} }

func (p *fakeParent) IgnoresChildren() bool { return p.ignore.Load() }

func (p *fakeParent) Restartable(sig signals.Signal) bool {
	_, ok := p.restart.Load(sig)
	return ok
}

func (p *fakeParent) awaitSIGCHLD(t *testing.T) {
	t.Helper()
	select {
	case <-p.chld:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for SIGCHLD")
	}
}

func newTestRegistry(t *testing.T, parent Parent, opts Options) *Registry {
	t.Helper()
	if opts.Poll == 0 {
		opts.Poll = 20 * time.Millisecond
	}
	reg := NewRegistry(parent, opts)
	t.Cleanup(func() { reg.Terminate() })
	return reg
}

func spawn(t *testing.T, reg *Registry, pid int) (*fakeChild, *fakeHost) {
	t.Helper()
	host := newFakeHost(10000 + pid)
	child := &fakeChild{pid: pid, host: host, pgid: reg.parent.Inherit().Pgid, ctty: -1}
	if err := reg.Register(child); err != nil {
		t.Fatalf("register %d: %v", pid, err)
	}
	return child, host
}

func waitForQueued(t *testing.T, reg *Registry, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		reg.mu.Lock()
		size := reg.queue.len()
		reg.mu.Unlock()
		if size >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d queued waiters", n)
}

type waitResult struct {
	pid    int
	status signals.WaitStatus
	err    error
}

func waitAsync(ctx context.Context, w *Waiter, pid int, options WaitOptions) <-chan waitResult {
	out := make(chan waitResult, 1)
	go func() {
		p, st, err := w.Wait4(ctx, pid, options, nil)
		out <- waitResult{pid: p, status: st, err: err}
	}()
	return out
}

func recv(t *testing.T, ch <-chan waitResult) waitResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for wait4 to return")
	}
	return waitResult{}
}
