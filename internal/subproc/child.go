package subproc

import "github.com/Paintersrp/sigrt/internal/signals"

// Host is the host-OS side of a child: a lifetime handle whose Done channel
// closes when the host process terminates.
type Host interface {
	HostPid() int
	Done() <-chan struct{}
	// ExitCode is valid once Done is closed. Signal terminations carry
	// signals.ExitSignalBit.
	ExitCode() uint32
	Usage() signals.Rusage
	// Close releases the handle. It does not terminate the process.
	Close() error
}

// Child is a runtime child process. Host returns the current host identity,
// which changes when the child execs into a new host process.
type Child interface {
	Pid() int
	Host() Host
}

// Member is implemented by children that can move between process groups.
type Member interface {
	Pgid() int
	Ctty() int
}

// Orphanable is implemented by children that must be told when their parent
// exits. group is true when the child's process group became orphaned.
type Orphanable interface {
	Orphan(group bool)
}

// Inheritance is the state a child copies from its parent at registration.
type Inheritance struct {
	Pgid    int
	Sid     int
	Ctty    int
	Uid     int
	Gid     int
	Actions signals.ActionTable
}

// Parent is the process owning a Registry.
type Parent interface {
	Pid() int
	Inherit() Inheritance
	// ChildSignal raises SIGCHLD on the parent without waiting for delivery.
	ChildSignal()
	// IgnoresChildren reports whether SIGCHLD is ignored, in which case
	// terminated children are reaped immediately.
	IgnoresChildren() bool
	// Restartable reports whether sig carries the restart flag.
	Restartable(sig signals.Signal) bool
}
