package sigproc

import (
	"context"
	"fmt"

	"github.com/Paintersrp/sigrt/internal/signals"
)

// Signal installs act for sig in the manner of signal(2): a handler is
// installed with the restart flag and an empty handler mask. It returns the
// previous disposition.
func (p *Process) Signal(sig signals.Signal, act signals.Action) (signals.Action, error) {
	if act.Kind == signals.KindHandler {
		act.Flags |= signals.FlagRestart
		act.Mask = 0
	}
	var old signals.Action
	if err := p.Sigaction(sig, &act, &old); err != nil {
		return signals.Action{}, err
	}
	return old, nil
}

// Sigaction reads and optionally replaces the disposition of sig. SIGKILL
// and SIGSTOP cannot be changed. Installing Ignore, or Default for SIGCHLD,
// discards pending occurrences of sig.
func (p *Process) Sigaction(sig signals.Signal, act, old *signals.Action) error {
	if !sig.Valid() {
		return fmt.Errorf("sigaction %d: %w", int(sig), ErrInvalidSignal)
	}
	if act != nil {
		if !sig.Catchable() {
			return fmt.Errorf("sigaction %s: %w", sig, ErrInvalid)
		}
		if act.Kind == signals.KindHandler && act.Handler == nil {
			return fmt.Errorf("sigaction %s: nil handler: %w", sig, ErrInvalid)
		}
	}

	p.mu.Lock()
	if old != nil {
		*old = p.actions[sig]
	}
	discard := false
	if act != nil {
		next := *act
		next.Mask = next.Mask.Sanitize()
		p.actions[sig] = next
		p.catchers = p.actions.Catchers()
		discard = next.Kind == signals.KindIgnore || (next.Kind == signals.KindDefault && sig == signals.SIGCHLD)
	}
	p.mu.Unlock()

	if discard {
		p.clearPending(sig)
	}
	return nil
}

func (p *Process) clearPending(sig signals.Signal) {
	for r := range p.tables {
		p.tables[r].drain(sig)
	}
}

// Siginterrupt controls whether sig interrupts blocked wait calls (flag
// true) or lets them restart (flag false).
func (p *Process) Siginterrupt(sig signals.Signal, flag bool) error {
	var act signals.Action
	if err := p.Sigaction(sig, nil, &act); err != nil {
		return err
	}
	if flag {
		act.Flags &^= signals.FlagRestart
	} else {
		act.Flags |= signals.FlagRestart
	}
	return p.Sigaction(sig, &act, nil)
}

// Sigprocmask examines and changes the blocked mask. Signals unblocked by
// the change are delivered before it returns.
func (p *Process) Sigprocmask(ctx context.Context, how int, set *signals.Set, old *signals.Set) error {
	p.mu.Lock()
	prev := p.mask
	if old != nil {
		*old = prev
	}
	if set == nil {
		p.mu.Unlock()
		return nil
	}
	next := prev
	switch how {
	case signals.HowBlock:
		next = prev.Union(*set)
	case signals.HowUnblock:
		next = prev.Minus(*set)
	case signals.HowSetMask:
		next = *set
	default:
		p.mu.Unlock()
		return fmt.Errorf("sigprocmask how %d: %w", how, ErrInvalid)
	}
	p.mask = next.Sanitize()
	unblocked := !prev.Minus(p.mask).Empty()
	p.mu.Unlock()

	if unblocked {
		return p.DispatchPending(ctx)
	}
	return nil
}

// Mask returns the blocked mask.
func (p *Process) Mask() signals.Set {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mask
}

// Sigpending returns the blocked signals that are waiting for delivery.
func (p *Process) Sigpending() signals.Set {
	var set signals.Set
	for r := range p.tables {
		set = set.Union(p.tables[r].pending())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return set & p.mask
}

// DispatchPending delivers signals that were deferred and are no longer
// held, returning once the delivery goroutine has rescanned them. It does
// nothing when nothing was deferred.
func (p *Process) DispatchPending(ctx context.Context) error {
	if !p.deferred.Load() || !p.started.Load() || p.isExiting() {
		return nil
	}
	return p.Send(ctx, Self, signals.SigFlush)
}

// Sigsuspend replaces the mask with set and waits until a handler has run,
// then restores the mask. It always returns an error: ErrInterrupted after a
// handler, or the context's error.
func (p *Process) Sigsuspend(ctx context.Context, set signals.Set) error {
	p.mu.Lock()
	saved := p.mask
	p.mask = set.Sanitize()
	arrived := p.arrived
	p.mu.Unlock()

	restore := func() {
		p.mu.Lock()
		p.mask = saved
		p.mu.Unlock()
	}

	p.requestFlush()
	select {
	case <-arrived:
		restore()
		return fmt.Errorf("sigsuspend: %w", ErrInterrupted)
	case <-ctx.Done():
		restore()
		return ctx.Err()
	}
}

// Pause waits for a handler to run with the current mask.
func (p *Process) Pause(ctx context.Context) error {
	return p.Sigsuspend(ctx, p.Mask())
}

// Raise sends sig to the calling process and waits for its delivery.
func (p *Process) Raise(ctx context.Context, sig signals.Signal) error {
	return p.Kill(ctx, p.Pid(), sig)
}

// RaiseAsync queues sig for the calling process without waiting. It is safe
// to call from contexts that must not block, such as fault handlers.
func (p *Process) RaiseAsync(sig signals.Signal) error {
	return p.Send(context.Background(), SelfNoWait, sig)
}

// Abort unblocks SIGABRT and raises it. If a handler returns, the process
// exits with status 1.
func (p *Process) Abort(ctx context.Context) {
	_ = p.DispatchPending(ctx)

	p.mu.Lock()
	p.mask = signals.Fill().Del(signals.SIGABRT).Sanitize()
	p.mu.Unlock()

	if err := p.Raise(ctx, signals.SIGABRT); err != nil {
		p.log.WithError(err).Warn("raising SIGABRT")
	}
	p.terminate(signals.ExitedWith(1), p.inDelivery(ctx))
}

// OnCommune registers the responder invoked for SigCommune requests.
func (p *Process) OnCommune(fn func(Snapshot)) {
	p.mu.Lock()
	p.commune = fn
	p.mu.Unlock()
}
