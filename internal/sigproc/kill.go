package sigproc

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/Paintersrp/sigrt/internal/procdir"
	"github.com/Paintersrp/sigrt/internal/signals"
)

// Kill sends sig to pid in the manner of kill(2): pid > 0 names one process,
// 0 the caller's process group on the caller's terminal, -1 every process,
// and < -1 the process group -pid. Signal 0 probes for existence. Stop
// signals sent by a member of an orphaned process group are discarded.
func (p *Process) Kill(ctx context.Context, pid int, sig signals.Signal) error {
	if sig < 0 || sig >= signals.NSIG {
		return fmt.Errorf("kill %d: %w", int(sig), ErrInvalidSignal)
	}
	p.mu.Lock()
	orphaned := p.orphaned
	p.mu.Unlock()
	if orphaned && (sig == signals.SIGTSTP || sig == signals.SIGTTIN || sig == signals.SIGTTOU) {
		sig = 0
	}
	if pid > 0 {
		return p.killOne(ctx, pid, sig, false)
	}
	return p.killGroup(ctx, -pid, sig, false)
}

// Killpg sends sig to process group pgrp; pgrp 0 is the caller's group.
func (p *Process) Killpg(ctx context.Context, pgrp int, sig signals.Signal) error {
	if pgrp < 0 {
		return fmt.Errorf("killpg %d: %w", pgrp, ErrInvalid)
	}
	return p.Kill(ctx, -pgrp, sig)
}

// ResumeGroup sends sig followed by SIGCONT to the stopped members of
// process group pgrp.
func (p *Process) ResumeGroup(ctx context.Context, pgrp int, sig signals.Signal) error {
	if sig <= 0 || sig >= signals.NSIG {
		return fmt.Errorf("resume %d: %w", int(sig), ErrInvalidSignal)
	}
	return p.killGroup(ctx, pgrp, sig, true)
}

func (p *Process) killOne(ctx context.Context, pid int, sig signals.Signal, thenCont bool) error {
	_ = p.DispatchPending(ctx)
	if sig == 0 {
		return p.probe(pid)
	}
	if err := p.sendTo(ctx, pid, sig); err != nil {
		return err
	}
	if thenCont {
		_ = p.sendTo(ctx, pid, signals.SIGCONT)
	}
	return nil
}

func (p *Process) probe(pid int) error {
	if pid == p.Pid() {
		if p.isExiting() {
			return fmt.Errorf("kill %d: %w", pid, ErrNoSuchProcess)
		}
		return nil
	}
	if _, ok := p.spawnedSignaler(pid); ok {
		return nil
	}
	if _, err := p.lookupPeer(pid); err != nil {
		return fmt.Errorf("kill: %w", err)
	}
	return nil
}

// sendTo routes sig to pid: the caller itself synchronously, spawned host
// children through their host, everyone else through the rendezvous.
func (p *Process) sendTo(ctx context.Context, pid int, sig signals.Signal) error {
	if pid == p.Pid() {
		return p.Send(ctx, Self, sig)
	}
	if s, ok := p.spawnedSignaler(pid); ok {
		if err := s.Signal(sig); err != nil {
			return fmt.Errorf("send %s to %d: %w", sig, pid, err)
		}
		return nil
	}
	return p.Send(ctx, Pid(pid), sig)
}

// killGroup signals every process matching pgrp, the caller last. A failure
// for one target does not stop the others; failures are returned together.
func (p *Process) killGroup(ctx context.Context, pgrp int, sig signals.Signal, onlyStopped bool) error {
	list, err := p.cfg.Directory.List()
	if err != nil {
		return fmt.Errorf("kill group %d: %w", pgrp, err)
	}
	self := p.Identity()

	var (
		errs     error
		found    int
		killSelf bool
	)
	for _, d := range list {
		if !groupMatch(d, self, pgrp, onlyStopped) {
			continue
		}
		found++
		if d.Pid == self.Pid {
			killSelf = true
			continue
		}
		if err := p.killOne(ctx, d.Pid, sig, onlyStopped); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("pid %d: %w", d.Pid, err))
		}
	}
	if killSelf {
		if err := p.killOne(ctx, self.Pid, sig, onlyStopped); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("pid %d: %w", self.Pid, err))
		}
	}
	if found == 0 {
		return fmt.Errorf("kill group %d: %w", pgrp, ErrNoSuchProcess)
	}
	return errs
}

func groupMatch(d procdir.Descriptor, self Identity, pgrp int, onlyStopped bool) bool {
	if d.Exited() {
		return false
	}
	if pgrp == 0 && (d.Pgid != self.Pgid || d.Ctty != self.Ctty) {
		return false
	}
	if pgrp > 1 && d.Pgid != pgrp {
		return false
	}
	if onlyStopped && d.State != procdir.StateStopped {
		return false
	}
	return true
}
