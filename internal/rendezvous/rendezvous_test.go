package rendezvous

import (
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/Paintersrp/sigrt/internal/signals"
)

type recorder struct {
	mu   sync.Mutex
	sigs []signals.Signal
	got  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) Post(sig signals.Signal) {
	r.mu.Lock()
	r.sigs = append(r.sigs, sig)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []signals.Signal {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-deadline:
			t.Fatalf("timed out waiting for %d signals", n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signals.Signal(nil), r.sigs...)
}

func TestName(t *testing.T) {
	assert.Check(t, is.Equal(Name(4242), "sigrt.4242.sigcatch"))
}

func TestMemoryPublishOpenPost(t *testing.T) {
	t.Parallel()

	reg := NewMemory()
	rec := newRecorder()
	pub, err := reg.Publish(10, rec)
	assert.NilError(t, err)

	_, err = reg.Publish(10, rec)
	assert.Check(t, errdefs.IsAlreadyExists(err))

	h, err := reg.Open(10)
	assert.NilError(t, err)
	assert.NilError(t, h.Post(signals.SIGUSR1))
	assert.NilError(t, h.Post(signals.SigFlush))
	assert.Check(t, is.DeepEqual(rec.wait(t, 2), []signals.Signal{signals.SIGUSR1, signals.SigFlush}))

	assert.NilError(t, pub.Close())
	assert.Check(t, is.Equal(reg.Len(), 0))
	err = h.Post(signals.SIGUSR1)
	assert.Check(t, errdefs.IsNotFound(err))

	_, err = reg.Open(10)
	assert.Check(t, errdefs.IsNotFound(err))

	assert.NilError(t, h.Close())
	assert.Check(t, errdefs.IsUnavailable(h.Post(signals.SIGUSR1)))
}

func TestMemoryRepublishAfterClose(t *testing.T) {
	t.Parallel()

	reg := NewMemory()
	first, err := reg.Publish(3, newRecorder())
	assert.NilError(t, err)
	assert.NilError(t, first.Close())

	second := newRecorder()
	pub, err := reg.Publish(3, second)
	assert.NilError(t, err)
	defer pub.Close()

	// Closing the stale publication again must not withdraw the new one.
	assert.NilError(t, first.Close())
	h, err := reg.Open(3)
	assert.NilError(t, err)
	assert.NilError(t, h.Post(signals.SIGHUP))
	assert.Check(t, is.DeepEqual(second.wait(t, 1), []signals.Signal{signals.SIGHUP}))
}
