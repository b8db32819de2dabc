// Package api defines the control surface shared by the runtime's servers
// and the CLI.
package api

import (
	stdcontext "context"
	"fmt"
	"time"

	"github.com/containerd/errdefs"

	"github.com/Paintersrp/sigrt/internal/procdir"
	"github.com/Paintersrp/sigrt/internal/signals"
	"github.com/Paintersrp/sigrt/internal/sigproc"
)

// ErrNoProcess indicates that no runtime process is being hosted.
var ErrNoProcess = fmt.Errorf("no runtime process: %w", errdefs.ErrUnavailable)

// StatusReport describes the hosted runtime process and its peers.
type StatusReport struct {
	Version     string               `json:"version"`
	GeneratedAt time.Time            `json:"generated_at"`
	Process     sigproc.Snapshot     `json:"process"`
	Peers       []procdir.Descriptor `json:"peers"`
}

// SignalResult captures the outcome of a signal request.
type SignalResult struct {
	Pid    int       `json:"pid"`
	Signal string    `json:"signal"`
	SentAt time.Time `json:"sent_at"`
}

// Controller exposes runtime operations required by control servers.
type Controller interface {
	Status(stdcontext.Context) (*StatusReport, error)
	// Signal sends sig to pid; pid 0 addresses the hosted process itself.
	Signal(ctx stdcontext.Context, pid int, sig signals.Signal) (*SignalResult, error)
}
