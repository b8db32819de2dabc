package signals

import "context"

// Kind discriminates the disposition variants.
type Kind uint8

const (
	KindDefault Kind = iota
	KindIgnore
	KindHandler
)

func (k Kind) String() string {
	switch k {
	case KindIgnore:
		return "ignore"
	case KindHandler:
		return "handler"
	default:
		return "default"
	}
}

// Flags modify how a handler disposition is applied.
type Flags uint32

const (
	// FlagRestart restarts interrupted wait calls instead of failing them.
	FlagRestart Flags = 1 << iota
	// FlagNoDefer leaves the signal unblocked while its handler runs.
	FlagNoDefer
	// FlagResetHand restores the default disposition before the handler runs.
	FlagResetHand
)

// Handler is a user-installed signal handler. It runs on the delivery
// goroutine of the receiving process; ctx marks that goroutine so that
// runtime calls made from the handler never wait on themselves.
type Handler func(ctx context.Context, sig Signal)

// Action is the disposition of one signal.
type Action struct {
	Kind    Kind
	Handler Handler
	Flags   Flags
	// Mask is added to the blocked set while Handler runs.
	Mask Set
}

// Default is the default disposition.
func Default() Action { return Action{Kind: KindDefault} }

// Ignore discards the signal on delivery.
func Ignore() Action { return Action{Kind: KindIgnore} }

// Handle installs fn with the given flags.
func Handle(fn Handler, flags Flags) Action {
	return Action{Kind: KindHandler, Handler: fn, Flags: flags}
}

// Caught reports whether the action runs a user handler.
func (a Action) Caught() bool {
	return a.Kind == KindHandler && a.Handler != nil
}

// ActionTable holds a disposition per signal; index 0 is unused.
type ActionTable [NSIG]Action

// ForExec returns the table a process inherits across exec: caught signals
// revert to the default, ignored signals stay ignored.
func (t ActionTable) ForExec() ActionTable {
	var out ActionTable
	for i, act := range t {
		if act.Kind == KindIgnore {
			out[i] = Ignore()
		}
	}
	return out
}

// Catchers counts the handler dispositions in t.
func (t ActionTable) Catchers() int {
	n := 0
	for _, act := range t {
		if act.Caught() {
			n++
		}
	}
	return n
}

// DefaultAction is what happens to a process when a signal with the default
// disposition is delivered.
type DefaultAction uint8

const (
	ActTerminate DefaultAction = iota
	ActCore
	ActIgnore
	ActStop
	ActContinue
)

func (d DefaultAction) String() string {
	switch d {
	case ActCore:
		return "core"
	case ActIgnore:
		return "ignore"
	case ActStop:
		return "stop"
	case ActContinue:
		return "continue"
	default:
		return "terminate"
	}
}

// DefaultFor returns the default action for sig.
func DefaultFor(sig Signal) DefaultAction {
	switch sig {
	case SIGQUIT, SIGILL, SIGTRAP, SIGABRT, SIGBUS, SIGFPE, SIGSEGV, SIGXCPU, SIGXFSZ, SIGSYS:
		return ActCore
	case SIGCHLD, SIGURG, SIGWINCH:
		return ActIgnore
	case SIGSTOP, SIGTSTP, SIGTTIN, SIGTTOU:
		return ActStop
	case SIGCONT:
		return ActContinue
	default:
		return ActTerminate
	}
}
