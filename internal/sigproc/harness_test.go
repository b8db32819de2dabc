package sigproc

import (
	"context"
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/Paintersrp/sigrt/internal/procdir"
	"github.com/Paintersrp/sigrt/internal/rendezvous"
	"github.com/Paintersrp/sigrt/internal/signals"
	"github.com/Paintersrp/sigrt/internal/subproc"
)

// world is a shared directory and rendezvous for the processes of one test.
type world struct {
	dir *procdir.Memory
	rv  *rendezvous.Memory
}

func newWorld() *world {
	return &world{dir: procdir.NewMemory(1000), rv: rendezvous.NewMemory()}
}

func (w *world) config() Config {
	return Config{
		Directory:         w.dir,
		Rendezvous:        w.rv,
		Pids:              w.dir,
		CompletionTimeout: 5 * time.Second,
		OpenDelay:         time.Millisecond,
		Children:          subproc.Options{Poll: 20 * time.Millisecond},
	}
}

func (w *world) start(t *testing.T, id Identity, mutate ...func(*Config)) *Process {
	t.Helper()
	cfg := w.config()
	for _, fn := range mutate {
		fn(&cfg)
	}
	p, err := New(id, cfg)
	assert.NilError(t, err)
	assert.NilError(t, p.Start(context.Background()))
	t.Cleanup(func() { p.Exit(0) })
	return p
}

// recorder is a signal handler that remembers what it saw.
type recorder struct {
	mu   sync.Mutex
	seen []signals.Signal
	ch   chan signals.Signal
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan signals.Signal, 64)}
}

func (r *recorder) handle(_ context.Context, sig signals.Signal) {
	r.mu.Lock()
	r.seen = append(r.seen, sig)
	r.mu.Unlock()
	r.ch <- sig
}

func (r *recorder) count(sig signals.Signal) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.seen {
		if s == sig {
			n++
		}
	}
	return n
}

func (r *recorder) expect(t *testing.T, sig signals.Signal) {
	t.Helper()
	select {
	case got := <-r.ch:
		assert.Equal(t, got, sig)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", sig)
	}
}

func catch(t *testing.T, p *Process, rec *recorder, sigs ...signals.Signal) {
	t.Helper()
	for _, sig := range sigs {
		act := signals.Handle(rec.handle, 0)
		assert.NilError(t, p.Sigaction(sig, &act, nil))
	}
}

func awaitExit(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatalf("process %d did not exit", p.Pid())
	}
}

func waitForState(t *testing.T, dir procdir.Directory, pid int, state procdir.State) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		d, err := dir.Lookup(pid)
		if err != nil {
			return poll.Continue("lookup %d: %v", pid, err)
		}
		if d.State != state {
			return poll.Continue("pid %d is %s", pid, d.State)
		}
		return poll.Success()
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(5*time.Millisecond))
}
