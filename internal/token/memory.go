package token

import "sync"

// MemoryProvider keeps live handles in process memory. It serves when
// the fabric bridge is disabled, and as a test double.
type MemoryProvider struct {
	mu      sync.Mutex
	handles map[string]*MemoryHandle
}

// NewMemoryProvider creates an in-process handle provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{handles: make(map[string]*MemoryHandle)}
}

func (p *MemoryProvider) CreateHandle(id, typ string, value any) (Handle, error) {
	h := &MemoryHandle{provider: p, ID: id, Type: typ, Value: value}
	p.mu.Lock()
	p.handles[id] = h
	p.mu.Unlock()
	return h, nil
}

// Handle returns the live handle for id, or nil.
func (p *MemoryProvider) Handle(id string) *MemoryHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handles[id]
}

// MemoryHandle is an in-process token handle.
type MemoryHandle struct {
	provider *MemoryProvider

	mu    sync.Mutex
	ID    string
	Type  string
	Value any
}

func (h *MemoryHandle) SetValue(value any) error {
	h.mu.Lock()
	h.Value = value
	h.mu.Unlock()
	return nil
}

func (h *MemoryHandle) Unregister() error {
	h.provider.mu.Lock()
	delete(h.provider.handles, h.ID)
	h.provider.mu.Unlock()
	return nil
}

// Current returns the handle's value.
func (h *MemoryHandle) Current() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Value
}
