package procdir

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alphadose/haxmap"
)

// Memory is a directory shared by processes in one address space.
type Memory struct {
	mu      sync.Mutex
	entries *haxmap.Map[int, Descriptor]
	next    atomic.Int64
}

// NewMemory returns an empty directory whose pid allocator starts at first.
func NewMemory(first int) *Memory {
	m := &Memory{entries: haxmap.New[int, Descriptor]()}
	m.next.Store(int64(first) - 1)
	return m
}

// NextPid allocates an unused pid.
func (m *Memory) NextPid() int {
	for {
		pid := int(m.next.Add(1))
		if _, taken := m.entries.Get(pid); !taken {
			return pid
		}
	}
}

func (m *Memory) Publish(d Descriptor) error {
	if d.Pid <= 0 {
		return fmt.Errorf("publish descriptor: invalid pid %d", d.Pid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Set(d.Pid, d)
	return nil
}

func (m *Memory) Remove(pid int, instance string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entries.Get(pid)
	if !ok {
		return fmt.Errorf("remove %d: %w", pid, ErrNotFound)
	}
	if instance != "" && cur.Instance != instance {
		return nil
	}
	m.entries.Del(pid)
	return nil
}

func (m *Memory) Lookup(pid int) (Descriptor, error) {
	d, ok := m.entries.Get(pid)
	if !ok {
		return Descriptor{}, fmt.Errorf("lookup %d: %w", pid, ErrNotFound)
	}
	return d, nil
}

func (m *Memory) List() ([]Descriptor, error) {
	out := make([]Descriptor, 0, m.entries.Len())
	m.entries.ForEach(func(_ int, d Descriptor) bool {
		out = append(out, d)
		return true
	})
	sortByPid(out)
	return out, nil
}
