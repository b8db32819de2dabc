package sigproc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/Paintersrp/sigrt/internal/signals"
)

func TestCountersConcurrentAddTake(t *testing.T) {
	t.Parallel()

	const senders, perSender = 8, 500
	var (
		c     counters
		taken atomic.Int32
		wg    sync.WaitGroup
		stop  = make(chan struct{})
	)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				c.add(signals.SIGUSR1)
			}
		}()
	}
	var takers sync.WaitGroup
	for i := 0; i < 4; i++ {
		takers.Add(1)
		go func() {
			defer takers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if c.take(signals.SIGUSR1) {
					taken.Add(1)
				}
				if c.count(signals.SIGUSR1) < 0 {
					t.Error("counter went negative")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	takers.Wait()

	rest := c.drain(signals.SIGUSR1)
	assert.Equal(t, taken.Load()+rest, int32(senders*perSender))
	assert.Equal(t, c.count(signals.SIGUSR1), int32(0))
	assert.Check(t, !c.take(signals.SIGUSR1))
}

func TestCountersPendingAndReset(t *testing.T) {
	var c counters
	c.add(signals.SIGINT)
	c.add(signals.SIGTERM)
	c.add(signals.SIGTERM)
	c.add(signals.SigFlush)

	assert.Equal(t, c.pending(), signals.SetOf(signals.SIGINT, signals.SIGTERM))
	assert.Equal(t, c.drain(signals.SIGTERM), int32(2))
	assert.Equal(t, c.count(signals.SigFlush), int32(1))

	c.reset()
	assert.Check(t, c.pending().Empty())
	assert.Equal(t, c.count(signals.SigFlush), int32(0))
}

func TestConcurrentSendsCountedBeforeDrain(t *testing.T) {
	t.Parallel()

	w := newWorld()
	p := w.start(t, Identity{Pid: 10})
	rec := newRecorder()
	catch(t, p, rec, signals.SIGUSR1)
	ctx := context.Background()

	// Park the delivery goroutine in a handler so nothing drains.
	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	park := signals.Handle(func(context.Context, signals.Signal) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}, 0)
	assert.NilError(t, p.Sigaction(signals.SIGUSR2, &park, nil))

	block := signals.SetOf(signals.SIGUSR1)
	assert.NilError(t, p.Sigprocmask(ctx, signals.HowBlock, &block, nil))
	assert.NilError(t, p.Send(ctx, SelfNoWait, signals.SIGUSR2))
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery goroutine never ran the parking handler")
	}

	const senders, perSender = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				assert.Check(t, p.Send(ctx, SelfNoWait, signals.SIGUSR1))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, p.tables[routePublic].count(signals.SIGUSR1), int32(senders*perSender))

	close(gate)
	// A synchronous send returns once the delivery goroutine has caught up.
	assert.NilError(t, p.Raise(ctx, signals.SIGUSR2))
	assert.Equal(t, p.tables[routePublic].count(signals.SIGUSR1), int32(1))
	assert.Check(t, p.Sigpending().Has(signals.SIGUSR1))
	assert.Equal(t, rec.count(signals.SIGUSR1), 0)

	assert.NilError(t, p.Sigprocmask(ctx, signals.HowUnblock, &block, nil))
	assert.Equal(t, rec.count(signals.SIGUSR1), 1)
	assert.Equal(t, p.tables[routePublic].count(signals.SIGUSR1), int32(0))
}
