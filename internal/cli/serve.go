package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	apihttp "github.com/Paintersrp/sigrt/internal/api/http"
	"github.com/Paintersrp/sigrt/internal/signals"
	"github.com/Paintersrp/sigrt/internal/sigproc"
)

var newAPIServer = apihttp.NewServer

func newServeCmd(ctx *context) *cobra.Command {
	var (
		apiAddr string
		command string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host a runtime process, optionally with the HTTP control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			env, err := ctx.hostEnv()
			if err != nil {
				return err
			}

			enableAPI := cfg.API.Enabled
			addr := cfg.API.Addr
			if cmd.Flags().Changed("api") {
				enableAPI = true
				addr = apiAddr
			}
			if !enableAPI {
				fmt.Fprintln(cmd.OutOrStdout(), "HTTP API disabled; set SIGRT_ENABLE_API=true or pass --api to enable.")
			}

			runCtx := cmd.Context()
			if runCtx == nil {
				runCtx = stdcontext.Background()
			}
			p, err := env.startProcess(runCtx, command)
			if err != nil {
				return err
			}
			defer p.Exit(0)
			installDumpHandler(p)
			fmt.Fprintf(cmd.OutOrStdout(), "Runtime process %d (host %d, pgid %d) ready\n", p.Pid(), p.HostPid(), p.Pgid())

			stopAPI := func() error { return nil }
			if enableAPI {
				control := NewControlAPI(p, env.dir)
				if control == nil {
					return errors.New("control API unavailable")
				}
				stopAPI, err = startAPIServer(runCtx, cmd, apihttp.Config{Addr: addr, Controller: control, Log: p.Logger()})
				if err != nil {
					return err
				}
			}

			select {
			case <-runCtx.Done():
			case <-p.Exited():
			}
			if err := stopAPI(); err != nil {
				return err
			}
			select {
			case <-p.Exited():
				status := p.ExitStatus()
				fmt.Fprintf(cmd.OutOrStdout(), "Runtime process %d %s\n", p.Pid(), status)
				if status.Signaled() {
					return &exitError{code: shellCode(status)}
				}
			default:
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&apiAddr, "api", "127.0.0.1:7663", "address for the HTTP control API (requires SIGRT_ENABLE_API or explicit flag)")
	cmd.Flags().StringVar(&command, "name", "sigrt serve", "Command name recorded in the process directory")
	return cmd
}

// startAPIServer runs the control API until the returned stop function is
// called. A server that fails within its start-up grace period is reported
// as an error.
func startAPIServer(runCtx stdcontext.Context, cmd *cobra.Command, cfg apihttp.Config) (func() error, error) {
	server, err := newAPIServer(cfg)
	if err != nil {
		return nil, err
	}
	serverCtx, cancel := stdcontext.WithCancel(runCtx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(serverCtx)
	}()
	readyTimer := time.NewTimer(200 * time.Millisecond)
	defer readyTimer.Stop()
	select {
	case err := <-errCh:
		cancel()
		return nil, err
	case <-readyTimer.C:
	case <-runCtx.Done():
		cancel()
		err := <-errCh
		if err != nil && !errors.Is(err, stdcontext.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			return nil, err
		}
		return nil, runCtx.Err()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Control API listening on %s\n", server.Addr())
	return func() error {
		cancel()
		err := <-errCh
		if err != nil && !errors.Is(err, stdcontext.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, nil
}

// installDumpHandler logs a snapshot of the process whenever it receives
// SIGUSR1.
func installDumpHandler(p *sigproc.Process) {
	dump := func(_ stdcontext.Context, sig signals.Signal) {
		snap := p.Snapshot()
		p.Logger().WithFields(logrus.Fields{
			"signal":   sig.String(),
			"delivery": snap.Delivery,
			"blocked":  snap.Blocked,
			"pending":  snap.Pending,
			"caught":   snap.Caught,
			"children": len(snap.Children),
		}).Info("state dump")
	}
	if _, err := p.Signal(signals.SIGUSR1, signals.Handle(dump, signals.FlagRestart)); err != nil {
		p.Logger().WithError(err).Warn("installing SIGUSR1 handler")
	}
}
