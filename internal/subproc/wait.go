package subproc

import (
	"context"
	"fmt"

	"github.com/Paintersrp/sigrt/internal/metrics"
	"github.com/Paintersrp/sigrt/internal/signals"
)

// WaitOptions are the wait4 option bits.
type WaitOptions int

const (
	WNOHANG   WaitOptions = 1
	WUNTRACED WaitOptions = 2
)

// Waiter issues wait calls on behalf of one goroutine. Its queue node is
// allocated once and reused; a Waiter must not be used concurrently.
type Waiter struct {
	reg  *Registry
	node *waiter
}

// NewWaiter allocates a wait-queue node.
func (r *Registry) NewWaiter() *Waiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Waiter{reg: r, node: r.queue.alloc()}
}

// Close frees the node.
func (w *Waiter) Close() {
	w.reg.mu.Lock()
	defer w.reg.mu.Unlock()
	if w.node.idx != nilIndex {
		w.reg.queue.release(w.node)
	}
}

// Wait waits for any child.
func (w *Waiter) Wait(ctx context.Context) (int, signals.WaitStatus, error) {
	return w.Wait4(ctx, -1, 0, nil)
}

// Waitpid waits for children matching pid.
func (w *Waiter) Waitpid(ctx context.Context, pid int, options WaitOptions) (int, signals.WaitStatus, error) {
	return w.Wait4(ctx, pid, options, nil)
}

// Wait4 waits for a child matching pid to terminate or, with WUNTRACED, to
// stop. pid > 0 names one child, 0 any child in the caller's process group
// and terminal, -1 any child, and < -1 any child in process group -pid.
// With WNOHANG it returns pid 0 when no matching child is ready. The usage
// of a reaped child is added to usage when non-nil.
func (w *Waiter) Wait4(ctx context.Context, pid int, options WaitOptions, usage *signals.Rusage) (int, signals.WaitStatus, error) {
	r := w.reg
	node := w.node
	for {
		inh := r.parent.Inherit()

		r.mu.Lock()
		if node.idx == nilIndex {
			r.mu.Unlock()
			return 0, 0, fmt.Errorf("wait4: waiter closed")
		}
		if pid > 0 && !r.isChildLocked(pid) {
			r.mu.Unlock()
			return 0, 0, fmt.Errorf("wait4 %d: %w", pid, ErrNoChild)
		}
		if r.live.len() == 0 && r.zombies.len() == 0 {
			r.mu.Unlock()
			return 0, 0, fmt.Errorf("wait4 %d: %w", pid, ErrNoChild)
		}
		node.reset(pid, options, inh)
		switch r.matchLocked(node) {
		case 1:
			r.mu.Unlock()
			return node.result(usage)
		case 0:
			r.mu.Unlock()
			return 0, 0, fmt.Errorf("wait4 %d: %w", pid, ErrNoChild)
		}
		if options&WNOHANG != 0 {
			r.mu.Unlock()
			return 0, 0, nil
		}
		r.queue.push(node)
		r.mu.Unlock()

		select {
		case <-node.wake:
		case <-ctx.Done():
		}

		r.mu.Lock()
		r.queue.unlink(node)
		switch {
		case node.done:
			r.mu.Unlock()
			return node.result(usage)
		case node.err != nil:
			err := node.err
			r.mu.Unlock()
			return 0, 0, fmt.Errorf("wait4 %d: %w", pid, err)
		case node.interrupted:
			sig := node.intrSig
			r.mu.Unlock()
			if sig != 0 && r.parent.Restartable(sig) {
				continue
			}
			return 0, -1, fmt.Errorf("wait4 %d: %w", pid, ErrInterrupted)
		}
		r.mu.Unlock()
		return 0, 0, ctx.Err()
	}
}

func (w *waiter) result(usage *signals.Rusage) (int, signals.WaitStatus, error) {
	if usage != nil {
		usage.Add(w.usage)
	}
	return w.pid, w.status, nil
}

func (w *waiter) matches(e *entry) bool {
	switch {
	case w.pattern == -1:
		return true
	case w.pattern == 0:
		return e.pgid == w.pgid && e.ctty == w.ctty
	case w.pattern < -1:
		return e.pgid == -w.pattern
	default:
		return e.pid == w.pattern
	}
}

// matchLocked looks for a child satisfying w: zombies first, then stopped
// live children when WUNTRACED is set. It returns 1 when w was satisfied, -1
// when some child matches but has nothing to report, and 0 when no child
// matches at all.
func (r *Registry) matchLocked(w *waiter) int {
	var reaped *entry
	r.zombies.each(func(_ int, e *entry) bool {
		if w.matches(e) {
			reaped = e
			return false
		}
		return true
	})
	if reaped != nil {
		r.zombies.remove(reaped.slot)
		reaped.state = stateReaped
		w.pid = reaped.pid
		w.status = signals.FromHostExitCode(reaped.exitCode)
		w.usage.Add(reaped.usage)
		r.childrenUsage.Add(reaped.usage)
		metrics.AddChildren(0, -1)
		return 1
	}

	res := 0
	r.live.each(func(_ int, e *entry) bool {
		e.refreshGroup()
		if !w.matches(e) {
			return true
		}
		if w.options&WUNTRACED != 0 && e.stopSig != 0 {
			w.pid = e.pid
			w.status = signals.StoppedBy(e.stopSig)
			e.stopSig = 0
			res = 1
			return false
		}
		res = -1
		return true
	})
	return res
}
