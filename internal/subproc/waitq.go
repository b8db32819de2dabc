package subproc

import "github.com/Paintersrp/sigrt/internal/signals"

const nilIndex = -1

// waiter is the queue node of one Waiter. Every field is guarded by the
// registry lock except wake.
type waiter struct {
	idx    int
	prev   int
	next   int
	linked bool

	pattern int
	options WaitOptions
	pgid    int
	ctty    int

	done        bool
	pid         int
	status      signals.WaitStatus
	usage       signals.Rusage
	interrupted bool
	intrSig     signals.Signal
	err         error

	wake chan struct{}
}

func (w *waiter) reset(pattern int, options WaitOptions, inh Inheritance) {
	w.pattern = pattern
	w.options = options
	w.pgid = inh.Pgid
	w.ctty = inh.Ctty
	w.done = false
	w.pid = 0
	w.status = 0
	w.usage = signals.Rusage{}
	w.interrupted = false
	w.intrSig = 0
	w.err = nil
	select {
	case <-w.wake:
	default:
	}
}

func (w *waiter) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// waitQueue is a doubly linked list threaded through an arena of nodes, so a
// node unlinks in constant time by index.
type waitQueue struct {
	nodes *arena[*waiter]
	head  int
	size  int
}

func newWaitQueue() *waitQueue {
	return &waitQueue{nodes: newArena[*waiter](0), head: nilIndex}
}

func (q *waitQueue) alloc() *waiter {
	w := &waiter{prev: nilIndex, next: nilIndex, wake: make(chan struct{}, 1)}
	w.idx, _ = q.nodes.insert(w)
	return w
}

func (q *waitQueue) release(w *waiter) {
	q.unlink(w)
	q.nodes.remove(w.idx)
	w.idx = nilIndex
}

func (q *waitQueue) push(w *waiter) {
	if w.linked {
		return
	}
	w.prev = nilIndex
	w.next = q.head
	if q.head != nilIndex {
		q.nodes.get(q.head).prev = w.idx
	}
	q.head = w.idx
	w.linked = true
	q.size++
}

func (q *waitQueue) unlink(w *waiter) {
	if !w.linked {
		return
	}
	if w.prev != nilIndex {
		q.nodes.get(w.prev).next = w.next
	} else {
		q.head = w.next
	}
	if w.next != nilIndex {
		q.nodes.get(w.next).prev = w.prev
	}
	w.prev, w.next = nilIndex, nilIndex
	w.linked = false
	q.size--
}

// each visits linked nodes from the head. fn may unlink the node it visits.
func (q *waitQueue) each(fn func(w *waiter)) {
	for i := q.head; i != nilIndex; {
		w := q.nodes.get(i)
		i = w.next
		fn(w)
	}
}

func (q *waitQueue) len() int { return q.size }
