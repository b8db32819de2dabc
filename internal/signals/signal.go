// Package signals defines the signal numbering, signal sets, dispositions and
// wait-status encoding shared by the runtime.
//
// Numbering is fixed by the runtime and does not follow the host: a process
// running on a host with a different signal table still sees SIGCHLD as 17.
// Only the classic signals 1..NSIG-1 exist; real-time signals are not queued.
package signals

import (
	"fmt"
	"strconv"
	"strings"
)

// Signal is a runtime signal number. Values below 1 are reserved for
// internal pseudo-signals that never reach user dispositions.
type Signal int

// NSIG is one past the highest deliverable signal number.
const NSIG = 32

const (
	SIGHUP    Signal = 1
	SIGINT    Signal = 2
	SIGQUIT   Signal = 3
	SIGILL    Signal = 4
	SIGTRAP   Signal = 5
	SIGABRT   Signal = 6
	SIGBUS    Signal = 7
	SIGFPE    Signal = 8
	SIGKILL   Signal = 9
	SIGUSR1   Signal = 10
	SIGSEGV   Signal = 11
	SIGUSR2   Signal = 12
	SIGPIPE   Signal = 13
	SIGALRM   Signal = 14
	SIGTERM   Signal = 15
	SIGSTKFLT Signal = 16
	SIGCHLD   Signal = 17
	SIGCONT   Signal = 18
	SIGSTOP   Signal = 19
	SIGTSTP   Signal = 20
	SIGTTIN   Signal = 21
	SIGTTOU   Signal = 22
	SIGURG    Signal = 23
	SIGXCPU   Signal = 24
	SIGXFSZ   Signal = 25
	SIGVTALRM Signal = 26
	SIGPROF   Signal = 27
	SIGWINCH  Signal = 28
	SIGIO     Signal = 29
	SIGPWR    Signal = 30
	SIGSYS    Signal = 31
)

// Internal pseudo-signals. They travel through the same pending counters as
// real signals but trigger housekeeping in the delivery goroutine.
const (
	// SigCommune asks the process to answer an introspection request.
	SigCommune Signal = -3
	// SigFlush forces a rescan of signals deferred by the mask.
	SigFlush Signal = -2
	// SigTrace toggles debug diagnostics for the receiving process.
	SigTrace Signal = -1
)

// PseudoOffset is the number of pseudo-signal slots preceding signal 0 in a
// pending-counter table.
const PseudoOffset = 3

// Slots is the size of a pending-counter table.
const Slots = NSIG + PseudoOffset

var names = [NSIG]string{
	SIGHUP:    "HUP",
	SIGINT:    "INT",
	SIGQUIT:   "QUIT",
	SIGILL:    "ILL",
	SIGTRAP:   "TRAP",
	SIGABRT:   "ABRT",
	SIGBUS:    "BUS",
	SIGFPE:    "FPE",
	SIGKILL:   "KILL",
	SIGUSR1:   "USR1",
	SIGSEGV:   "SEGV",
	SIGUSR2:   "USR2",
	SIGPIPE:   "PIPE",
	SIGALRM:   "ALRM",
	SIGTERM:   "TERM",
	SIGSTKFLT: "STKFLT",
	SIGCHLD:   "CHLD",
	SIGCONT:   "CONT",
	SIGSTOP:   "STOP",
	SIGTSTP:   "TSTP",
	SIGTTIN:   "TTIN",
	SIGTTOU:   "TTOU",
	SIGURG:    "URG",
	SIGXCPU:   "XCPU",
	SIGXFSZ:   "XFSZ",
	SIGVTALRM: "VTALRM",
	SIGPROF:   "PROF",
	SIGWINCH:  "WINCH",
	SIGIO:     "IO",
	SIGPWR:    "PWR",
	SIGSYS:    "SYS",
}

var aliases = map[string]Signal{
	"IOT":  SIGABRT,
	"CLD":  SIGCHLD,
	"POLL": SIGIO,
}

// Valid reports whether s is a deliverable signal number (1..NSIG-1).
func (s Signal) Valid() bool {
	return s > 0 && s < NSIG
}

// Pseudo reports whether s is one of the internal pseudo-signals.
func (s Signal) Pseudo() bool {
	return s >= -PseudoOffset && s < 0
}

// Catchable reports whether a handler may be installed for s, and whether s
// may be blocked or ignored.
func (s Signal) Catchable() bool {
	return s.Valid() && s != SIGKILL && s != SIGSTOP
}

// Slot returns the index of s in a pending-counter table.
func (s Signal) Slot() int {
	return int(s) + PseudoOffset
}

// Name returns the signal name without the SIG prefix.
func (s Signal) Name() string {
	switch {
	case s.Valid():
		return names[s]
	case s == SigCommune:
		return "COMMUNE"
	case s == SigFlush:
		return "FLUSH"
	case s == SigTrace:
		return "TRACE"
	case s == 0:
		return "0"
	}
	return strconv.Itoa(int(s))
}

func (s Signal) String() string {
	if s.Valid() || s.Pseudo() {
		return "SIG" + s.Name()
	}
	return fmt.Sprintf("signal %d", int(s))
}

// Parse resolves a signal given as a number or as a name with or without the
// SIG prefix, case-insensitively. "0" is accepted and yields 0.
func Parse(raw string) (Signal, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 || n >= NSIG {
			return -1, fmt.Errorf("invalid signal number %d", n)
		}
		return Signal(n), nil
	}
	name := strings.TrimPrefix(strings.ToUpper(raw), "SIG")
	if sig, ok := aliases[name]; ok {
		return sig, nil
	}
	for i := 1; i < NSIG; i++ {
		if names[i] == name {
			return Signal(i), nil
		}
	}
	return -1, fmt.Errorf("unknown signal %q", raw)
}

// All returns every deliverable signal in ascending order.
func All() []Signal {
	out := make([]Signal, 0, NSIG-1)
	for i := 1; i < NSIG; i++ {
		out = append(out, Signal(i))
	}
	return out
}
