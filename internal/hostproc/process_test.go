//go:build unix

package hostproc

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/Paintersrp/sigrt/internal/procdir"
	"github.com/Paintersrp/sigrt/internal/rendezvous"
	"github.com/Paintersrp/sigrt/internal/signals"
	"github.com/Paintersrp/sigrt/internal/sigproc"
)

// syncBuffer is a bytes.Buffer safe for the command's writer goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func start(t *testing.T, opts Options) *Process {
	t.Helper()
	p, err := Start(context.Background(), opts)
	assert.NilError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Kill(ctx)
	})
	return p
}

func waitDone(t *testing.T, p *Process) signals.WaitStatus {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("host process %d did not exit", p.Pid())
	}
	return signals.FromHostExitCode(p.ExitCode())
}

func TestExitStatus(t *testing.T) {
	t.Parallel()

	var out syncBuffer
	p := start(t, Options{
		Pid:     7,
		Command: []string{"/bin/sh", "-c", "echo $GREETING; exit 3"},
		Env:     map[string]string{"GREETING": "hello"},
		Stdout:  &out,
		Stderr:  &out,
	})
	assert.Check(t, p.HostPid() > 0)
	assert.Check(t, is.Equal(p.Pgid(), 7))
	assert.Check(t, is.Equal(p.Command(), "/bin/sh -c echo $GREETING; exit 3"))

	status := waitDone(t, p)
	assert.Check(t, status.Exited())
	assert.Check(t, is.Equal(status.ExitStatus(), 3))
	assert.Check(t, is.Equal(out.String(), "hello\n"))
	assert.NilError(t, p.Err())
}

func TestSignalMapsToRuntimeStatus(t *testing.T) {
	t.Parallel()

	p := start(t, Options{Pid: 8, Command: []string{"sleep", "30"}})
	assert.NilError(t, p.Signal(signals.SIGTERM))
	status := waitDone(t, p)
	assert.Check(t, status.Signaled())
	assert.Check(t, is.Equal(status.Signal(), signals.SIGTERM))

	// Signalling an exited process is not an error.
	assert.NilError(t, p.Signal(signals.SIGTERM))
	assert.Check(t, p.Signal(signals.Signal(0)) != nil)
}

func TestStopEscalatesToKill(t *testing.T) {
	t.Parallel()

	p := start(t, Options{
		Pid:         9,
		Command:     []string{"/bin/sh", "-c", "trap '' TERM; echo ready; while :; do sleep 0.05; done"},
		StopTimeout: 100 * time.Millisecond,
		Stdout:      &syncBuffer{},
	})
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NilError(t, p.Stop(ctx))
	status := waitDone(t, p)
	assert.Check(t, status.Signaled())
	assert.Check(t, is.Equal(status.Signal(), signals.SIGKILL))
}

func TestOutputIsLogged(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)
	p := start(t, Options{
		Pid:     10,
		Command: []string{"/bin/sh", "-c", "echo out; echo err >&2"},
		Log:     logrus.NewEntry(logger),
	})
	waitDone(t, p)

	var stdout, stderr int
	for _, e := range hook.AllEntries() {
		switch {
		case e.Message == "out" && e.Level == logrus.InfoLevel:
			stdout++
		case e.Message == "err" && e.Level == logrus.WarnLevel:
			stderr++
		}
	}
	assert.Check(t, is.Equal(stdout, 1))
	assert.Check(t, is.Equal(stderr, 1))
}

func TestStartRequiresCommand(t *testing.T) {
	_, err := Start(context.Background(), Options{Pid: 1})
	assert.Check(t, is.ErrorContains(err, "requires a command"))
	_, err = Start(context.Background(), Options{Pid: 1, Command: []string{"/nonexistent/sigrt"}})
	assert.Check(t, err != nil)
}

func TestSpawnedChildIsReaped(t *testing.T) {
	t.Parallel()

	dir := procdir.NewMemory(100)
	parent, err := sigproc.New(sigproc.Identity{Pid: 1}, sigproc.Config{
		Directory:  dir,
		Rendezvous: rendezvous.NewMemory(),
		Pids:       dir,
	})
	assert.NilError(t, err)
	ctx := context.Background()
	assert.NilError(t, parent.Start(ctx))
	defer parent.Exit(0)

	child := start(t, Options{Pid: dir.NextPid(), Command: []string{"sleep", "30"}})
	assert.NilError(t, parent.Spawn(child))
	d, err := dir.Lookup(child.Pid())
	assert.NilError(t, err)
	assert.Check(t, is.Equal(d.HostPid, child.HostPid()))
	assert.Check(t, is.Equal(d.Pgid, child.Pid()))

	assert.NilError(t, parent.Kill(ctx, child.Pid(), signals.SIGINT))
	waiter := parent.NewWaiter()
	defer waiter.Close()
	var usage signals.Rusage
	pid, status, err := waiter.Wait4(ctx, -1, 0, &usage)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(pid, child.Pid()))
	assert.Check(t, status.Signaled())
	assert.Check(t, is.Equal(status.Signal(), signals.SIGINT))
}
