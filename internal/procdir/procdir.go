// Package procdir is the runtime-visible process directory: the table that
// maps runtime pids to process descriptors shared between cooperating
// processes.
package procdir

import (
	"fmt"
	"sort"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
)

// ErrNotFound reports a pid with no descriptor.
var ErrNotFound = fmt.Errorf("process descriptor: %w", errdefs.ErrNotFound)

// State is the lifecycle state recorded in a descriptor.
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateStopped      State = "stopped"
	StateExited       State = "exited"
)

// NoTTY is the Ctty value of a process without a controlling terminal.
const NoTTY = -1

// Descriptor describes one runtime process.
type Descriptor struct {
	Pid       int       `yaml:"pid" json:"pid"`
	PPid      int       `yaml:"ppid" json:"ppid"`
	Pgid      int       `yaml:"pgid" json:"pgid"`
	Sid       int       `yaml:"sid" json:"sid"`
	Ctty      int       `yaml:"ctty" json:"ctty"`
	Uid       int       `yaml:"uid" json:"uid"`
	Gid       int       `yaml:"gid" json:"gid"`
	HostPid   int       `yaml:"host_pid" json:"host_pid"`
	State     State     `yaml:"state" json:"state"`
	Orphaned  bool      `yaml:"orphaned,omitempty" json:"orphaned,omitempty"`
	Command   string    `yaml:"command,omitempty" json:"command,omitempty"`
	StartedAt time.Time `yaml:"started_at" json:"started_at"`
	Instance  string    `yaml:"instance" json:"instance"`
}

// Exited reports whether the process is gone.
func (d Descriptor) Exited() bool { return d.State == StateExited }

// Initializing reports whether the process has not finished starting.
func (d Descriptor) Initializing() bool { return d.State == StateInitializing }

// Directory stores descriptors keyed by pid.
type Directory interface {
	// Publish inserts or replaces the descriptor for d.Pid.
	Publish(d Descriptor) error
	// Remove deletes the descriptor for pid when its instance matches.
	Remove(pid int, instance string) error
	Lookup(pid int) (Descriptor, error)
	// List returns every descriptor ordered by pid.
	List() ([]Descriptor, error)
}

// NewInstance returns a fresh instance token.
func NewInstance() string {
	return uuid.NewString()
}

func sortByPid(ds []Descriptor) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Pid < ds[j].Pid })
}
