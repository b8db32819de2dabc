package sigproc

import (
	"context"
	"fmt"
	"time"

	"github.com/Paintersrp/sigrt/internal/procdir"
	"github.com/Paintersrp/sigrt/internal/signals"
)

// ItimerReal is the only supported interval timer; it counts wall-clock
// time and raises SIGALRM.
const ItimerReal = 0

// Itimerval is the setting of an interval timer. A zero Value disarms it; a
// zero Interval makes it one-shot.
type Itimerval struct {
	Interval time.Duration
	Value    time.Duration
}

// itimer is the process's real-time interval timer. It is guarded by
// Process.mu; gen invalidates callbacks from a timer that was replaced.
type itimer struct {
	t        *time.Timer
	gen      uint64
	deadline time.Time
	interval time.Duration
}

func (it *itimer) stopLocked() {
	if it.t != nil {
		it.t.Stop()
		it.t = nil
	}
	it.gen++
	it.deadline = time.Time{}
	it.interval = 0
}

func (it *itimer) remainingLocked(now time.Time) Itimerval {
	if it.t == nil {
		return Itimerval{}
	}
	left := it.deadline.Sub(now)
	if left <= 0 {
		left = time.Microsecond
	}
	return Itimerval{Interval: it.interval, Value: left}
}

// Setitimer arms or disarms the timer named by which and returns its
// previous setting.
func (p *Process) Setitimer(which int, value Itimerval) (Itimerval, error) {
	if which != ItimerReal {
		return Itimerval{}, fmt.Errorf("setitimer %d: %w", which, ErrInvalid)
	}
	if value.Value < 0 || value.Interval < 0 {
		return Itimerval{}, fmt.Errorf("setitimer: negative duration: %w", ErrInvalid)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lifecycle == procdir.StateExited {
		return Itimerval{}, fmt.Errorf("setitimer: %w", ErrNoSuchProcess)
	}
	old := p.timer.remainingLocked(time.Now())
	p.timer.stopLocked()
	if value.Value > 0 {
		p.armLocked(value.Value, value.Interval)
	}
	return old, nil
}

// Getitimer returns the time left on the timer named by which.
func (p *Process) Getitimer(which int) (Itimerval, error) {
	if which != ItimerReal {
		return Itimerval{}, fmt.Errorf("getitimer %d: %w", which, ErrInvalid)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer.remainingLocked(time.Now()), nil
}

// Alarm schedules SIGALRM after the given number of seconds, cancelling any
// earlier alarm, and returns the seconds that were left on it. Zero only
// cancels.
func (p *Process) Alarm(seconds uint) uint {
	old, err := p.Setitimer(ItimerReal, Itimerval{Value: time.Duration(seconds) * time.Second})
	if err != nil {
		return 0
	}
	left := uint((old.Value + time.Second - 1) / time.Second)
	if old.Value > 0 && left == 0 {
		left = 1
	}
	return left
}

func (p *Process) armLocked(after, interval time.Duration) {
	gen := p.timer.gen
	p.timer.deadline = time.Now().Add(after)
	p.timer.interval = interval
	p.timer.t = time.AfterFunc(after, func() { p.expire(gen) })
}

func (p *Process) expire(gen uint64) {
	p.mu.Lock()
	if p.timer.gen != gen || p.timer.t == nil {
		p.mu.Unlock()
		return
	}
	interval := p.timer.interval
	if interval > 0 {
		p.armLocked(interval, interval)
	} else {
		p.timer.t = nil
		p.timer.deadline = time.Time{}
	}
	p.mu.Unlock()

	if err := p.Send(context.Background(), SelfNoWait, signals.SIGALRM); err != nil {
		p.log.WithError(err).Debug("raising SIGALRM")
	}
}
