package subproc

import (
	"fmt"

	"github.com/containerd/errdefs"
	"golang.org/x/sys/unix"
)

var (
	// ErrNoChild is returned by wait calls with nothing to wait for.
	ErrNoChild = fmt.Errorf("%w: %w", errdefs.ErrNotFound, unix.ECHILD)
	// ErrInterrupted is returned by a wait call released by a caught signal.
	ErrInterrupted = fmt.Errorf("%w: %w", errdefs.ErrAborted, unix.EINTR)
	// ErrTableFull is returned by Register when the live table is full.
	ErrTableFull = fmt.Errorf("%w: %w", errdefs.ErrResourceExhausted, unix.EAGAIN)
	// ErrTerminated is returned once the registry has been torn down.
	ErrTerminated = fmt.Errorf("child registry terminated: %w", errdefs.ErrUnavailable)
)
