package cli

import (
	"bytes"
	stdcontext "context"
	"os"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"gotest.tools/v3/assert"

	"github.com/Paintersrp/sigrt/internal/config"
	"github.com/Paintersrp/sigrt/internal/logging"
	"github.com/Paintersrp/sigrt/internal/signals"
	"github.com/Paintersrp/sigrt/internal/sigproc"
)

// newMemoryRoot returns a root command whose runtime processes share one
// in-memory directory and rendezvous with the test.
func newMemoryRoot(t *testing.T) (*cobra.Command, *hostEnv) {
	t.Helper()
	cfg := config.Default()
	cfg.Directory.Kind = config.DirectoryMemory
	cfg.Rendezvous.Kind = config.RendezvousMemory
	cfg.Runtime.CompletionTimeout.Duration = 5 * time.Second
	cfg.Runtime.ReaperPoll.Duration = 20 * time.Millisecond
	cfg.Runtime.StopTimeout.Duration = 500 * time.Millisecond

	env, err := newHostEnv(cfg, logging.Discard())
	assert.NilError(t, err)
	return rootWith(env), env
}

// rootWith returns a fresh root command bound to env.
func rootWith(env *hostEnv) *cobra.Command {
	root, ctx := newRootCommand()
	ctx.cfg = env.cfg
	ctx.logger = env.logger
	ctx.env = env
	return root
}

func execute(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.ExecuteContext(stdcontext.Background())
	return outBuf.String(), errBuf.String(), err
}

// startPeer hosts another runtime process in env that reports the signals
// it catches on the returned channel.
func startPeer(t *testing.T, env *hostEnv, catch ...signals.Signal) (*sigproc.Process, <-chan signals.Signal) {
	t.Helper()
	id := sigproc.Identity{Pid: env.pids.NextPid(), Uid: os.Getuid(), Gid: os.Getgid(), Command: "peer"}
	p, err := sigproc.New(id, env.processConfig())
	assert.NilError(t, err)
	assert.NilError(t, p.Start(stdcontext.Background()))
	t.Cleanup(func() { p.Exit(0) })

	seen := make(chan signals.Signal, 16)
	for _, sig := range catch {
		_, err := p.Signal(sig, signals.Handle(func(_ stdcontext.Context, s signals.Signal) { seen <- s }, 0))
		assert.NilError(t, err)
	}
	return p, seen
}

func expectSignal(t *testing.T, ch <-chan signals.Signal, want signals.Signal) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}
