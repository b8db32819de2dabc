package sigproc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/containerd/errdefs"
	"github.com/sirupsen/logrus"

	"github.com/Paintersrp/sigrt/internal/metrics"
	"github.com/Paintersrp/sigrt/internal/procdir"
	"github.com/Paintersrp/sigrt/internal/rendezvous"
	"github.com/Paintersrp/sigrt/internal/signals"
)

// route selects a pending-signal table and its wakeup.
type route int

const (
	routeMain route = iota
	routeThread
	routePublic
	routeCount
)

func (r route) String() string {
	switch r {
	case routeMain:
		return "main"
	case routeThread:
		return "thread"
	default:
		return "public"
	}
}

// Dest names the target of a send.
type Dest struct {
	route  route
	wait   bool
	remote bool
	pid    int
}

var (
	// Self sends to the calling process and waits for delivery.
	Self = Dest{route: routeMain, wait: true}
	// SelfThread is Self for callers other than the main goroutine.
	SelfThread = Dest{route: routeThread, wait: true}
	// SelfNoWait queues a signal for the calling process and returns.
	SelfNoWait = Dest{route: routePublic}
)

// Pid addresses the process with the given runtime pid.
func Pid(pid int) Dest {
	return Dest{route: routePublic, remote: true, pid: pid}
}

func (d Dest) String() string {
	if d.remote {
		return fmt.Sprintf("pid %d", d.pid)
	}
	if !d.wait {
		return "self (nowait)"
	}
	return "self (" + d.route.String() + ")"
}

type request struct {
	done chan struct{}
}

type deliveryKey struct{}

// inDelivery reports whether ctx belongs to p's delivery goroutine.
func (p *Process) inDelivery(ctx context.Context) bool {
	owner, _ := ctx.Value(deliveryKey{}).(*Process)
	return owner == p
}

// Send queues sig for dest. Sends to the process itself through Self or
// SelfThread block until the delivery goroutine has processed them, up to the
// completion timeout; a synchronous send made from a signal handler does not
// wait. Sends to other processes never wait.
func (p *Process) Send(ctx context.Context, dest Dest, sig signals.Signal) error {
	if !sig.Valid() && !sig.Pseudo() {
		return fmt.Errorf("send %s: %w", sig, ErrInvalidSignal)
	}
	if dest.remote {
		if dest.pid != p.Pid() {
			return p.sendRemote(ctx, dest.pid, sig)
		}
		dest = Self
	}
	if dest.wait && p.inDelivery(ctx) {
		dest = SelfNoWait
	}
	if p.isExiting() {
		return fmt.Errorf("send %s: %w", sig, ErrNoSuchProcess)
	}
	if !p.started.Load() {
		return fmt.Errorf("send %s: %w", sig, ErrUnavailable)
	}

	p.tables[dest.route].add(sig)
	metrics.SignalSent(dest.route.String(), sig.Name())

	var req *request
	if dest.wait {
		req = &request{done: make(chan struct{})}
		p.reqMu.Lock()
		p.reqs[dest.route] = append(p.reqs[dest.route], req)
		p.reqMu.Unlock()
	}
	p.notify(dest.route)
	if req == nil {
		return nil
	}
	return p.await(ctx, req, sig)
}

func (p *Process) await(ctx context.Context, req *request, sig signals.Signal) error {
	timer := time.NewTimer(p.cfg.CompletionTimeout)
	defer timer.Stop()
	select {
	case <-req.done:
		return nil
	case <-p.exiting:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		p.log.WithFields(logrus.Fields{
			"signal":   sig.String(),
			"timeout":  p.cfg.CompletionTimeout.String(),
			"delivery": p.DeliveryState().String(),
		}).Error("signal delivery did not complete")
		metrics.CompletionTimeout()
		return fmt.Errorf("send %s: %w", sig, ErrCompletionTimeout)
	}
}

func (p *Process) notify(r route) {
	select {
	case p.wake[r] <- struct{}{}:
	default:
	}
}

func (p *Process) takeRequests(r route) []*request {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()
	reqs := p.reqs[r]
	p.reqs[r] = nil
	return reqs
}

// post receives signals from peers through the rendezvous.
func (p *Process) post(sig signals.Signal) {
	if !sig.Valid() && !sig.Pseudo() {
		p.log.WithField("signal", int(sig)).Warn("discarding out-of-range signal from peer")
		return
	}
	p.tables[routePublic].add(sig)
	p.notify(routePublic)
}

// requestFlush asks the delivery goroutine to rescan deferred signals.
func (p *Process) requestFlush() {
	if p.isExiting() || !p.started.Load() {
		return
	}
	p.tables[routePublic].add(signals.SigFlush)
	p.notify(routePublic)
}

var errPeerInitializing = errors.New("peer still initializing")

// lookupPeer resolves pid in the directory, rejecting processes that have
// exited or that the caller may not signal.
func (p *Process) lookupPeer(pid int) (procdir.Descriptor, error) {
	d, err := p.cfg.Directory.Lookup(pid)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return d, fmt.Errorf("pid %d: %w", pid, ErrNoSuchProcess)
		}
		return d, fmt.Errorf("pid %d: %w", pid, err)
	}
	if d.Exited() {
		return d, fmt.Errorf("pid %d: %w", pid, ErrNoSuchProcess)
	}
	p.mu.Lock()
	uid := p.id.Uid
	p.mu.Unlock()
	if uid != 0 && d.Uid != uid {
		return d, fmt.Errorf("pid %d: %w", pid, ErrPermission)
	}
	return d, nil
}

// openPeer opens the notifier of pid, waiting a bounded time for a peer that
// has not finished starting.
func (p *Process) openPeer(ctx context.Context, pid int) (rendezvous.Handle, error) {
	var handle rendezvous.Handle
	err := retry.Do(
		func() error {
			d, err := p.lookupPeer(pid)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if d.Initializing() {
				return errPeerInitializing
			}
			h, err := p.cfg.Rendezvous.Open(d.HostPid)
			if err != nil {
				if errdefs.IsNotFound(err) {
					return retry.Unrecoverable(fmt.Errorf("pid %d: %w", pid, ErrNoSuchProcess))
				}
				return retry.Unrecoverable(err)
			}
			handle = h
			return nil
		},
		retry.Attempts(p.cfg.OpenAttempts),
		retry.Delay(p.cfg.OpenDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		if errors.Is(err, errPeerInitializing) {
			return nil, fmt.Errorf("pid %d: %w", pid, ErrNoSuchProcess)
		}
		return nil, err
	}
	return handle, nil
}

func (p *Process) sendRemote(ctx context.Context, pid int, sig signals.Signal) error {
	handle, err := p.openPeer(ctx, pid)
	if err != nil {
		return fmt.Errorf("send %s: %w", sig, err)
	}
	defer handle.Close()
	if err := handle.Post(sig); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("send %s to %d: %w", sig, pid, ErrNoSuchProcess)
		}
		return fmt.Errorf("send %s to %d: %w", sig, pid, err)
	}
	metrics.SignalSent("remote", sig.Name())
	return nil
}
