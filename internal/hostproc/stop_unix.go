//go:build unix

package hostproc

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func configureCmdSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// Stop sends SIGTERM to the host process group and escalates to SIGKILL
// after the stop timeout.
func (p *Process) Stop(ctx context.Context) error {
	return p.terminate(ctx, false)
}

// Kill sends SIGKILL to the host process group.
func (p *Process) Kill(ctx context.Context) error {
	return p.terminate(ctx, true)
}

func (p *Process) terminate(ctx context.Context, force bool) error {
	if p.cmd.Process == nil {
		return nil
	}
	pgid := -p.cmd.Process.Pid

	if !force {
		if err := unix.Kill(pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("signal process group of %d: %w", p.pid, err)
		}
		select {
		case <-p.done:
			return nil
		case <-time.After(p.stopTimeout):
			p.log.WithField("timeout", p.stopTimeout.String()).Warn("host process ignored SIGTERM, killing")
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := unix.Kill(pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill process group of %d: %w", p.pid, err)
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
