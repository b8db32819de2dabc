package sigproc

import (
	"time"

	"github.com/Paintersrp/sigrt/internal/procdir"
	"github.com/Paintersrp/sigrt/internal/signals"
	"github.com/Paintersrp/sigrt/internal/subproc"
)

// Snapshot is a point-in-time view of a process's signal and child state.
type Snapshot struct {
	Pid       int                 `json:"pid" yaml:"pid"`
	PPid      int                 `json:"ppid" yaml:"ppid"`
	Pgid      int                 `json:"pgid" yaml:"pgid"`
	Sid       int                 `json:"sid" yaml:"sid"`
	Ctty      int                 `json:"ctty" yaml:"ctty"`
	HostPid   int                 `json:"host_pid" yaml:"host_pid"`
	Command   string              `json:"command,omitempty" yaml:"command,omitempty"`
	State     procdir.State       `json:"state" yaml:"state"`
	Delivery  string              `json:"delivery" yaml:"delivery"`
	Stopped   bool                `json:"stopped" yaml:"stopped"`
	Orphaned  bool                `json:"orphaned" yaml:"orphaned"`
	Blocked   []string            `json:"blocked" yaml:"blocked"`
	Pending   []string            `json:"pending" yaml:"pending"`
	Caught    []string            `json:"caught" yaml:"caught"`
	Ignored   []string            `json:"ignored" yaml:"ignored"`
	Children  []subproc.ChildInfo `json:"children" yaml:"children"`
	Usage     signals.Rusage      `json:"children_usage" yaml:"children_usage"`
	StartedAt time.Time           `json:"started_at" yaml:"started_at"`
}

// Snapshot captures the current state of p.
func (p *Process) Snapshot() Snapshot {
	var pending signals.Set
	for r := range p.tables {
		pending = pending.Union(p.tables[r].pending())
	}

	p.mu.Lock()
	d := p.descriptorLocked()
	mask := p.mask
	var caught, ignored signals.Set
	for _, sig := range signals.All() {
		switch act := p.actions[sig]; {
		case act.Caught():
			caught = caught.Add(sig)
		case act.Kind == signals.KindIgnore:
			ignored = ignored.Add(sig)
		}
	}
	p.mu.Unlock()

	return Snapshot{
		Pid:       d.Pid,
		PPid:      d.PPid,
		Pgid:      d.Pgid,
		Sid:       d.Sid,
		Ctty:      d.Ctty,
		HostPid:   d.HostPid,
		Command:   d.Command,
		State:     d.State,
		Delivery:  p.DeliveryState().String(),
		Stopped:   d.State == procdir.StateStopped,
		Orphaned:  d.Orphaned,
		Blocked:   names(mask),
		Pending:   names(pending),
		Caught:    names(caught),
		Ignored:   names(ignored),
		Children:  p.children.Children(),
		Usage:     p.children.ChildrenUsage(),
		StartedAt: d.StartedAt,
	}
}

func names(s signals.Set) []string {
	out := []string{}
	for _, sig := range s.Signals() {
		out = append(out, sig.Name())
	}
	return out
}
