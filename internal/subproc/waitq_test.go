package subproc

import (
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func queueOrder(q *waitQueue) []int {
	var out []int
	q.each(func(w *waiter) { out = append(out, w.idx) })
	return out
}

func TestWaitQueueLinking(t *testing.T) {
	q := newWaitQueue()
	a, b, c := q.alloc(), q.alloc(), q.alloc()

	q.push(a)
	q.push(b)
	q.push(c)
	q.push(c)
	assert.Check(t, is.DeepEqual(queueOrder(q), []int{c.idx, b.idx, a.idx}))
	assert.Check(t, is.Equal(q.len(), 3))

	q.unlink(b)
	assert.Check(t, is.DeepEqual(queueOrder(q), []int{c.idx, a.idx}))
	q.unlink(c)
	assert.Check(t, is.DeepEqual(queueOrder(q), []int{a.idx}))
	q.unlink(c)
	assert.Check(t, is.Equal(q.len(), 1))

	// Unlinking during iteration is allowed.
	q.push(b)
	q.each(func(w *waiter) { q.unlink(w) })
	assert.Check(t, is.Equal(q.len(), 0))

	idx := a.idx
	q.release(a)
	assert.Check(t, is.Equal(a.idx, nilIndex))
	d := q.alloc()
	assert.Check(t, is.Equal(d.idx, idx))
}

func TestArenaBounded(t *testing.T) {
	a := newArena[int](2)
	i, ok := a.insert(10)
	assert.Check(t, ok)
	_, ok = a.insert(20)
	assert.Check(t, ok)
	_, ok = a.insert(30)
	assert.Check(t, !ok)
	assert.Check(t, a.full())

	assert.Check(t, is.Equal(a.remove(i), 10))
	j, ok := a.insert(40)
	assert.Check(t, ok)
	assert.Check(t, is.Equal(j, i))

	var seen []int
	a.each(func(_ int, v int) bool { seen = append(seen, v); return true })
	assert.Check(t, is.DeepEqual(seen, []int{40, 20}))

	a.clear()
	assert.Check(t, is.Equal(a.len(), 0))
	_, ok = a.insert(1)
	assert.Check(t, ok)
}
