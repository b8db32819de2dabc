package signals

import "fmt"

// WaitStatus is the status word reported by wait4.
//
//	exited:   code<<8
//	signaled: sig, with 0x80 set when a core was dumped
//	stopped:  sig<<8 | 0x7f
type WaitStatus int32

const (
	stoppedMarker = 0x7f
	coreFlag      = 0x80
)

// ExitSignalBit marks a host exit code that carries a signal termination in
// bits 8..15 rather than a plain exit code in the low byte.
const ExitSignalBit = 0x10000

// ExitedWith encodes a normal exit.
func ExitedWith(code int) WaitStatus {
	return WaitStatus((code & 0xff) << 8)
}

// KilledBy encodes termination by sig.
func KilledBy(sig Signal, core bool) WaitStatus {
	w := WaitStatus(int(sig) & 0x7f)
	if core {
		w |= coreFlag
	}
	return w
}

// StoppedBy encodes a stop by sig.
func StoppedBy(sig Signal) WaitStatus {
	return WaitStatus(int(sig)&0xff)<<8 | stoppedMarker
}

// FromHostExitCode decodes the exit code recorded for a host process.
func FromHostExitCode(code uint32) WaitStatus {
	if code&ExitSignalBit != 0 {
		return WaitStatus((code >> 8) & 0xff)
	}
	return WaitStatus((code & 0xff) << 8)
}

// HostExitCode is the inverse of FromHostExitCode for a signal termination.
func HostExitCode(sig Signal, core bool) uint32 {
	return ExitSignalBit | uint32(KilledBy(sig, core))<<8
}

func (w WaitStatus) Exited() bool { return w&0x7f == 0 }

func (w WaitStatus) ExitStatus() int {
	if !w.Exited() {
		return -1
	}
	return int(w>>8) & 0xff
}

func (w WaitStatus) Signaled() bool {
	low := w & 0x7f
	return low != 0 && low != stoppedMarker
}

func (w WaitStatus) Signal() Signal {
	if !w.Signaled() {
		return 0
	}
	return Signal(w & 0x7f)
}

func (w WaitStatus) CoreDump() bool { return w.Signaled() && w&coreFlag != 0 }

func (w WaitStatus) Stopped() bool { return w&0xff == stoppedMarker }

func (w WaitStatus) StopSignal() Signal {
	if !w.Stopped() {
		return 0
	}
	return Signal(w>>8) & 0xff
}

func (w WaitStatus) String() string {
	switch {
	case w.Stopped():
		return fmt.Sprintf("stopped (%s)", w.StopSignal())
	case w.Signaled():
		if w.CoreDump() {
			return fmt.Sprintf("killed by %s (core dumped)", w.Signal())
		}
		return fmt.Sprintf("killed by %s", w.Signal())
	default:
		return fmt.Sprintf("exited %d", w.ExitStatus())
	}
}
