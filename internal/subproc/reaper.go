package subproc

import (
	"reflect"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Paintersrp/sigrt/internal/metrics"
)

const (
	caseStop = iota
	caseWake
	casePoll
	caseFirstChild
)

// reap waits for any live child's host to terminate. The select set is
// rebuilt after every wakeup since children come and go.
func (r *Registry) reap() {
	defer close(r.reaperDone)
	for {
		r.mu.Lock()
		watched := make([]*entry, 0, r.live.len())
		cases := make([]reflect.SelectCase, caseFirstChild, caseFirstChild+r.live.len())
		cases[caseStop] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(r.stopCh)}
		cases[caseWake] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(r.wakeCh)}
		cases[casePoll] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(time.After(r.opts.Poll))}
		r.live.each(func(_ int, e *entry) bool {
			watched = append(watched, e)
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(e.host.Done())})
			return true
		})
		r.mu.Unlock()

		chosen, _, _ := reflect.Select(cases)
		switch chosen {
		case caseStop:
			return
		case caseWake, casePoll:
			continue
		default:
			r.childExited(watched[chosen-caseFirstChild])
		}
	}
}

// childExited handles the termination of e's tracked host. A child whose
// current host differs has exec'd: the new host is tracked and no zombie is
// produced.
func (r *Registry) childExited(e *entry) {
	autoReap := r.parent.IgnoresChildren()

	r.mu.Lock()
	if e.state != stateActive {
		r.mu.Unlock()
		return
	}
	if cur := e.child.Host(); cur != nil && cur != e.host {
		old := e.host
		e.host = cur
		e.hostPid = cur.HostPid()
		r.mu.Unlock()
		r.log.WithFields(logrus.Fields{"child": e.pid, "host_pid": e.hostPid}).Debug("child exec hand-off")
		if err := old.Close(); err != nil {
			r.log.WithError(err).WithField("child", e.pid).Debug("closing replaced host")
		}
		return
	}

	r.live.remove(e.slot)
	e.refreshGroup()
	e.exitCode = e.host.ExitCode()
	e.usage = e.host.Usage()
	e.stopped = false
	e.stopSig = 0
	zombieDelta := 0
	switch {
	case autoReap:
		e.state = stateReaped
		r.childrenUsage.Add(e.usage)
	case r.zombies.full():
		e.state = stateReaped
		r.log.WithFields(logrus.Fields{"child": e.pid, "exit_code": e.exitCode}).Warn("zombie table full, status discarded")
		metrics.ZombieDropped()
	default:
		e.slot, _ = r.zombies.insert(e)
		e.state = stateZombie
		zombieDelta = 1
	}
	r.rescanLocked()
	host := e.host
	r.mu.Unlock()

	metrics.AddChildren(-1, zombieDelta)
	if err := host.Close(); err != nil {
		r.log.WithError(err).WithField("child", e.pid).Debug("closing child host")
	}
	r.log.WithFields(logrus.Fields{"child": e.pid, "exit_code": e.exitCode}).Debug("child terminated")
	if r.opts.Exited != nil {
		r.opts.Exited(e.pid)
	}
	r.parent.ChildSignal()
}
