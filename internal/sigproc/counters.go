package sigproc

import (
	"sync/atomic"

	"github.com/Paintersrp/sigrt/internal/signals"
)

// counters is one table of pending-signal counts, indexed by signal slot.
type counters struct {
	slots [signals.Slots]atomic.Int32
}

func (c *counters) add(sig signals.Signal) {
	c.slots[sig.Slot()].Add(1)
}

// take consumes one occurrence of sig, reporting whether there was one. The
// count never drops below zero.
func (c *counters) take(sig signals.Signal) bool {
	slot := &c.slots[sig.Slot()]
	for {
		n := slot.Load()
		if n <= 0 {
			return false
		}
		if slot.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// drain consumes every occurrence of sig and returns how many there were.
func (c *counters) drain(sig signals.Signal) int32 {
	var n int32
	for c.take(sig) {
		n++
	}
	return n
}

func (c *counters) count(sig signals.Signal) int32 {
	return c.slots[sig.Slot()].Load()
}

// pending returns the deliverable signals with a non-zero count.
func (c *counters) pending() signals.Set {
	var set signals.Set
	for sig := signals.Signal(1); sig < signals.NSIG; sig++ {
		if c.count(sig) > 0 {
			set = set.Add(sig)
		}
	}
	return set
}

func (c *counters) reset() {
	for i := range c.slots {
		c.slots[i].Store(0)
	}
}
