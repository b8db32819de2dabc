package subproc

// arena is a slot table addressed by index. A bounded arena refuses inserts
// beyond its capacity; an unbounded one (capacity 0) grows.
type arena[T any] struct {
	slots    []T
	used     []bool
	free     []int
	count    int
	capacity int
}

func newArena[T any](capacity int) *arena[T] {
	a := &arena[T]{capacity: capacity}
	if capacity > 0 {
		a.slots = make([]T, 0, capacity)
		a.used = make([]bool, 0, capacity)
	}
	return a
}

func (a *arena[T]) insert(v T) (int, bool) {
	if n := len(a.free); n > 0 {
		i := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[i] = v
		a.used[i] = true
		a.count++
		return i, true
	}
	if a.capacity > 0 && len(a.slots) >= a.capacity {
		return -1, false
	}
	a.slots = append(a.slots, v)
	a.used = append(a.used, true)
	a.count++
	return len(a.slots) - 1, true
}

func (a *arena[T]) remove(i int) T {
	var zero T
	v := a.slots[i]
	a.slots[i] = zero
	a.used[i] = false
	a.free = append(a.free, i)
	a.count--
	return v
}

func (a *arena[T]) get(i int) T { return a.slots[i] }

func (a *arena[T]) len() int { return a.count }

func (a *arena[T]) full() bool {
	return a.capacity > 0 && a.count >= a.capacity
}

// each visits occupied slots in index order until fn returns false. fn may
// remove the slot it is visiting.
func (a *arena[T]) each(fn func(i int, v T) bool) {
	for i := range a.slots {
		if !a.used[i] {
			continue
		}
		if !fn(i, a.slots[i]) {
			return
		}
	}
}

func (a *arena[T]) clear() {
	var zero T
	a.free = a.free[:0]
	for i := range a.slots {
		a.slots[i] = zero
		a.used[i] = false
		a.free = append(a.free, i)
	}
	a.count = 0
}
