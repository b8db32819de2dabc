package sigproc

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Paintersrp/sigrt/internal/logging"
	"github.com/Paintersrp/sigrt/internal/metrics"
	"github.com/Paintersrp/sigrt/internal/signals"
)

// DeliveryState is the observable state of a delivery goroutine.
type DeliveryState int32

const (
	StateInitializing DeliveryState = iota
	StateReady
	StateIdle
	StateScanning
	StateProcessing
	StateTerminating
)

func (s DeliveryState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateProcessing:
		return "processing"
	case StateTerminating:
		return "terminating"
	default:
		return "initializing"
	}
}

// DeliveryState reports what the delivery goroutine is doing.
func (p *Process) DeliveryState() DeliveryState {
	return DeliveryState(p.state.Load())
}

func (p *Process) setState(s DeliveryState) {
	p.state.Store(int32(s))
}

func (p *Process) deliver(ready chan<- struct{}) {
	defer close(p.deliveryDone)
	ctx := context.WithValue(context.Background(), deliveryKey{}, p)
	p.setState(StateReady)
	close(ready)
	for {
		p.setState(StateIdle)
		var r route
		select {
		case <-p.stop:
			p.setState(StateTerminating)
			return
		case <-p.wake[routeMain]:
			r = routeMain
		case <-p.wake[routeThread]:
			r = routeThread
		case <-p.wake[routePublic]:
			r = routePublic
		}
		p.service(ctx, r)
		if p.isExiting() {
			p.setState(StateTerminating)
			return
		}
	}
}

// service drains table r until a pass finds nothing, then acknowledges the
// synchronous senders that were waiting when it began.
func (p *Process) service(ctx context.Context, r route) {
	reqs := p.takeRequests(r)
	target := r
	for pass := 0; ; pass++ {
		if pass == p.cfg.ScanLimit {
			p.log.WithFields(logrus.Fields{"route": r.String(), "passes": pass}).Warn("signal scan limit reached")
			p.notify(routePublic)
			break
		}
		found, flush := p.pass(ctx, target)
		if flush {
			target = routePublic
			found = true
		}
		if !found || p.isExiting() {
			break
		}
	}
	for _, req := range reqs {
		close(req.done)
	}
}

// pass scans every slot of table r once. Repeated occurrences of a signal
// collapse into one delivery. It reports whether anything was acted upon and
// whether a flush of the public table was requested.
func (p *Process) pass(ctx context.Context, r route) (found, flush bool) {
	p.setState(StateScanning)
	table := &p.tables[r]
	for slot := 0; slot < signals.Slots; slot++ {
		sig := signals.Signal(slot - signals.PseudoOffset)
		if sig == 0 || table.drain(sig) == 0 {
			continue
		}
		if sig.Pseudo() {
			p.setState(StateProcessing)
			if p.internal(sig) {
				flush = true
			}
			found = true
			continue
		}
		if p.held(sig) {
			p.tables[routePublic].add(sig)
			p.deferred.Store(true)
			metrics.SignalRequeued(sig.Name())
			p.log.WithField("signal", sig.String()).Debug("signal deferred")
			continue
		}
		p.setState(StateProcessing)
		p.dispatch(ctx, sig)
		found = true
		if sig == signals.SIGCHLD {
			p.children.Rescan()
		}
		if p.isExiting() {
			return found, false
		}
		p.setState(StateScanning)
	}
	return found, flush
}

// internal handles a pseudo-signal, reporting whether it asked for a flush.
func (p *Process) internal(sig signals.Signal) bool {
	switch sig {
	case signals.SigFlush:
		p.deferred.Store(false)
		return true
	case signals.SigTrace:
		level := logging.ToggleDebug(p.logger, p.baseLevel)
		p.log.WithField("level", level.String()).Info("signal tracing toggled")
	case signals.SigCommune:
		p.mu.Lock()
		respond := p.commune
		p.mu.Unlock()
		if respond == nil {
			p.log.Debug("commune request with no responder")
			return false
		}
		p.inCallback.Store(true)
		respond(p.Snapshot())
		p.inCallback.Store(false)
	}
	return false
}

// held reports whether sig must wait: blocked by the mask, arriving while the
// process is stopped, or arriving inside a fork window.
func (p *Process) held(sig signals.Signal) bool {
	if sig == signals.SIGKILL || sig == signals.SIGSTOP {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mask.Has(sig) || p.forking > 0 || (p.stopped && sig != signals.SIGCONT)
}

func (p *Process) dispatch(ctx context.Context, sig signals.Signal) {
	p.mu.Lock()
	act := p.actions[sig]
	resumed := sig == signals.SIGCONT && p.stopped
	if resumed {
		p.stopped = false
	}
	p.mu.Unlock()
	if resumed {
		p.resumed()
	}

	switch act.Kind {
	case signals.KindIgnore:
		metrics.SignalDelivered(sig.Name(), "ignore")
	case signals.KindHandler:
		if act.Handler == nil {
			metrics.SignalDelivered(sig.Name(), "ignore")
			return
		}
		metrics.SignalDelivered(sig.Name(), "handler")
		p.runHandler(ctx, sig, act)
	default:
		action := signals.DefaultFor(sig)
		metrics.SignalDelivered(sig.Name(), action.String())
		switch action {
		case signals.ActTerminate:
			p.log.WithField("signal", sig.String()).Debug("terminated by signal")
			p.terminate(signals.KilledBy(sig, false), true)
		case signals.ActCore:
			p.log.WithField("signal", sig.String()).Debug("terminated by signal, core dumped")
			p.terminate(signals.KilledBy(sig, true), true)
		case signals.ActStop:
			p.stopBy(sig)
		}
	}
}

func (p *Process) runHandler(ctx context.Context, sig signals.Signal, act signals.Action) {
	p.children.InterruptAll(sig)

	p.mu.Lock()
	saved := p.mask
	mask := p.mask.Union(act.Mask)
	if act.Flags&signals.FlagNoDefer == 0 {
		mask = mask.Add(sig)
	}
	p.mask = mask.Sanitize()
	if act.Flags&signals.FlagResetHand != 0 {
		p.actions[sig] = signals.Default()
		p.catchers = p.actions.Catchers()
	}
	p.mu.Unlock()

	func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.WithFields(logrus.Fields{
					"signal": sig.String(),
					"panic":  fmt.Sprint(r),
				}).Error("signal handler panicked")
			}
		}()
		p.inCallback.Store(true)
		defer p.inCallback.Store(false)
		act.Handler(ctx, sig)
	}()

	p.mu.Lock()
	p.mask = saved
	close(p.arrived)
	p.arrived = make(chan struct{})
	p.mu.Unlock()
}

func (p *Process) stopBy(sig signals.Signal) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	parent := p.parent
	pid := p.id.Pid
	p.mu.Unlock()

	p.publish()
	p.log.WithField("signal", sig.String()).Debug("stopped")
	if parent != nil {
		if err := parent.children.NoteStopped(pid, sig); err != nil {
			p.log.WithError(err).Debug("reporting stop to parent")
		}
	}
}

func (p *Process) resumed() {
	p.mu.Lock()
	parent := p.parent
	pid := p.id.Pid
	p.mu.Unlock()

	p.publish()
	p.log.Debug("continued")
	if parent != nil {
		if err := parent.children.NoteContinued(pid); err != nil {
			p.log.WithError(err).Debug("reporting continue to parent")
		}
	}
	p.requestFlush()
}
