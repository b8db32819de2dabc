package rendezvous

import (
	"fmt"
	"io"
	"sync"

	"github.com/alphadose/haxmap"

	"github.com/Paintersrp/sigrt/internal/signals"
)

// Memory is an in-address-space registry of endpoints.
type Memory struct {
	endpoints *haxmap.Map[string, *memoryEndpoint]
}

type memoryEndpoint struct {
	mu     sync.RWMutex
	sink   Sink
	closed bool
}

// NewMemory returns an empty registry.
func NewMemory() *Memory {
	return &Memory{endpoints: haxmap.New[string, *memoryEndpoint]()}
}

// Publish implements Rendezvous.
func (m *Memory) Publish(hostID int, sink Sink) (io.Closer, error) {
	if sink == nil {
		return nil, fmt.Errorf("publish %s: nil sink", Name(hostID))
	}
	ep := &memoryEndpoint{sink: sink}
	if _, loaded := m.endpoints.GetOrSet(Name(hostID), ep); loaded {
		return nil, fmt.Errorf("publish %s: %w", Name(hostID), ErrEndpointExists)
	}
	return &memoryPublication{registry: m, name: Name(hostID), ep: ep}, nil
}

// Open implements Rendezvous.
func (m *Memory) Open(hostID int) (Handle, error) {
	ep, ok := m.endpoints.Get(Name(hostID))
	if !ok {
		return nil, fmt.Errorf("open %s: %w", Name(hostID), ErrNoEndpoint)
	}
	return &memoryHandle{ep: ep}, nil
}

// Len reports the number of published endpoints.
func (m *Memory) Len() int {
	return int(m.endpoints.Len())
}

type memoryPublication struct {
	registry *Memory
	name     string
	ep       *memoryEndpoint
	once     sync.Once
}

func (p *memoryPublication) Close() error {
	p.once.Do(func() {
		p.ep.mu.Lock()
		p.ep.closed = true
		p.ep.mu.Unlock()
		if cur, ok := p.registry.endpoints.Get(p.name); ok && cur == p.ep {
			p.registry.endpoints.Del(p.name)
		}
	})
	return nil
}

type memoryHandle struct {
	ep     *memoryEndpoint
	mu     sync.Mutex
	closed bool
}

func (h *memoryHandle) Post(sig signals.Signal) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return ErrClosed
	}
	h.ep.mu.RLock()
	defer h.ep.mu.RUnlock()
	if h.ep.closed {
		return fmt.Errorf("post %s: %w", sig, ErrNoEndpoint)
	}
	h.ep.sink.Post(sig)
	return nil
}

func (h *memoryHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}
