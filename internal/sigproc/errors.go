package sigproc

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
	"golang.org/x/sys/unix"

	"github.com/Paintersrp/sigrt/internal/subproc"
)

var (
	ErrNoSuchProcess = fmt.Errorf("%w: %w", errdefs.ErrNotFound, unix.ESRCH)
	ErrInvalid       = fmt.Errorf("%w: %w", errdefs.ErrInvalidArgument, unix.EINVAL)
	ErrInvalidSignal = fmt.Errorf("signal out of range: %w", ErrInvalid)
	ErrPermission    = fmt.Errorf("%w: %w", errdefs.ErrPermissionDenied, unix.EPERM)
	// ErrCompletionTimeout is returned by a synchronous send whose delivery
	// goroutine never acknowledged it.
	ErrCompletionTimeout = fmt.Errorf("%w: %w", errdefs.ErrNotImplemented, unix.ENOSYS)
	// ErrUnavailable is returned when the delivery goroutine is not running.
	ErrUnavailable = fmt.Errorf("signal delivery: %w", errdefs.ErrUnavailable)
	// ErrNotifierCreate is returned by Start when the process cannot publish
	// its own notifier.
	ErrNotifierCreate = fmt.Errorf("create signal notifier: %w", errdefs.ErrInternal)
	ErrInterrupted    = subproc.ErrInterrupted
)

// Errno extracts the POSIX errno carried by err, or 0.
func Errno(err error) unix.Errno {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return 0
}
