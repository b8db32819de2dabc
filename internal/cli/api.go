package cli

import (
	stdcontext "context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Paintersrp/sigrt/internal/api"
	"github.com/Paintersrp/sigrt/internal/procdir"
	"github.com/Paintersrp/sigrt/internal/signals"
	"github.com/Paintersrp/sigrt/internal/sigproc"
)

// ControlAPI exposes the hosted runtime process to the HTTP control plane.
type ControlAPI struct {
	proc *sigproc.Process
	dir  procdir.Directory
}

// NewControlAPI wraps the process hosted by serve.
func NewControlAPI(proc *sigproc.Process, dir procdir.Directory) *ControlAPI {
	if proc == nil || dir == nil {
		return nil
	}
	return &ControlAPI{proc: proc, dir: dir}
}

// Status returns a snapshot of the hosted process and every peer in the
// process directory.
func (apiCtrl *ControlAPI) Status(ctx stdcontext.Context) (*api.StatusReport, error) {
	if apiCtrl == nil || apiCtrl.proc == nil {
		return nil, fmt.Errorf("%w", api.ErrNoProcess)
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	peers, err := apiCtrl.dir.List()
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	return &api.StatusReport{
		Version:     buildVersion(),
		GeneratedAt: time.Now(),
		Process:     apiCtrl.proc.Snapshot(),
		Peers:       peers,
	}, nil
}

// Signal sends sig to pid on behalf of the hosted process.
func (apiCtrl *ControlAPI) Signal(ctx stdcontext.Context, pid int, sig signals.Signal) (*api.SignalResult, error) {
	if apiCtrl == nil || apiCtrl.proc == nil {
		return nil, fmt.Errorf("%w", api.ErrNoProcess)
	}
	if pid == 0 {
		pid = apiCtrl.proc.Pid()
	}
	if err := apiCtrl.proc.Kill(ctx, pid, sig); err != nil {
		return nil, err
	}
	return &api.SignalResult{Pid: pid, Signal: sig.String(), SentAt: time.Now()}, nil
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "devel"
}

// Ensure interface compliance at compile time.
var _ api.Controller = (*ControlAPI)(nil)
