package signals

import "strings"

// Set is a signal mask. Bit n-1 represents signal n.
type Set uint32

// HowBlock, HowUnblock and HowSetMask select the operation performed by
// sigprocmask.
const (
	HowBlock = iota
	HowUnblock
	HowSetMask
)

// Unmaskable holds the signals that can never be blocked.
const Unmaskable = Set(1<<(SIGKILL-1) | 1<<(SIGSTOP-1))

// SetOf builds a set from the given signals, ignoring invalid numbers.
func SetOf(sigs ...Signal) Set {
	var s Set
	for _, sig := range sigs {
		s = s.Add(sig)
	}
	return s
}

// Fill returns a set containing every deliverable signal.
func Fill() Set {
	return Set(1<<(NSIG-1) - 1)
}

func bit(sig Signal) Set {
	return Set(1) << (uint(sig) - 1)
}

// Add returns s with sig included.
func (s Set) Add(sig Signal) Set {
	if !sig.Valid() {
		return s
	}
	return s | bit(sig)
}

// Del returns s with sig removed.
func (s Set) Del(sig Signal) Set {
	if !sig.Valid() {
		return s
	}
	return s &^ bit(sig)
}

// Has reports whether sig is a member of s.
func (s Set) Has(sig Signal) bool {
	return sig.Valid() && s&bit(sig) != 0
}

// Union returns the members of either set.
func (s Set) Union(o Set) Set { return s | o }

// Minus returns the members of s not in o.
func (s Set) Minus(o Set) Set { return s &^ o }

// Sanitize strips signals that may never be blocked.
func (s Set) Sanitize() Set {
	return s &^ Unmaskable & Fill()
}

// Empty reports whether no signal is a member.
func (s Set) Empty() bool { return s == 0 }

// Signals lists the members in ascending order.
func (s Set) Signals() []Signal {
	var out []Signal
	for i := 1; i < NSIG; i++ {
		if s.Has(Signal(i)) {
			out = append(out, Signal(i))
		}
	}
	return out
}

func (s Set) String() string {
	members := s.Signals()
	parts := make([]string, len(members))
	for i, sig := range members {
		parts[i] = sig.Name()
	}
	return "{" + strings.Join(parts, ",") + "}"
}
