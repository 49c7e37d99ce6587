package token

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"scripthub/internal/store"
)

// Handle is a live token exposed to the automation fabric, paired 1:1
// with a persisted store.TokenEntry.
type Handle interface {
	// SetValue pushes a new value to the fabric.
	SetValue(value any) error
	// Unregister removes the token from the fabric.
	Unregister() error
}

// HandleProvider allocates live handles. The MQTT bridge is the
// production implementation.
type HandleProvider interface {
	CreateHandle(id, typ string, value any) (Handle, error)
}

// Registry reconciles persisted token entries with live fabric handles.
// An entry without a handle, or a handle without an entry, is a
// reconciliation defect this type exists to avoid.
type Registry struct {
	store    store.Store
	provider HandleProvider
	logger   *slog.Logger

	mu      sync.Mutex
	handles map[string]Handle
}

// New creates a token registry. Call Restore before first use to
// rebuild handles for persisted entries.
func New(s store.Store, provider HandleProvider, logger *slog.Logger) *Registry {
	return &Registry{
		store:    s,
		provider: provider,
		logger:   logger.With("component", "tokens"),
		handles:  make(map[string]Handle),
	}
}

// Restore rebuilds a live handle for every persisted entry. Each entry
// is restored independently: one failure is logged and must not block
// the others, and Restore itself only fails when the store cannot be
// read at all.
func (r *Registry) Restore() error {
	entries, err := r.store.ListTokens()
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range entries {
		h, err := r.provider.CreateHandle(entry.ID, entry.Type, entry.Value)
		if err != nil {
			r.logger.Warn("restore token handle", "id", entry.ID, "err", err)
			continue
		}
		r.handles[entry.ID] = h
	}
	r.logger.Info("tokens restored", "count", len(r.handles), "entries", len(entries))
	return nil
}

// Set creates, updates, or deletes the token id. A nil value deletes:
// the handle is unregistered (failure logged, not raised), the entry
// removed, and the change persisted. Otherwise the type is inferred
// from the value and the entry and handle are kept in lockstep.
func (r *Registry) Set(id string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if value == nil {
		if h, ok := r.handles[id]; ok {
			if err := h.Unregister(); err != nil {
				r.logger.Warn("unregister token handle", "id", id, "err", err)
			}
			delete(r.handles, id)
		}
		if err := r.store.DeleteToken(id); err != nil {
			return fmt.Errorf("delete token %s: %w", id, err)
		}
		return nil
	}

	typ, err := inferType(value)
	if err != nil {
		return fmt.Errorf("token %s: %w", id, err)
	}

	h, ok := r.handles[id]
	if !ok {
		h, err = r.provider.CreateHandle(id, typ, value)
		if err != nil {
			return fmt.Errorf("create token handle %s: %w", id, err)
		}
		r.handles[id] = h
	} else {
		if err := h.SetValue(value); err != nil {
			return fmt.Errorf("set token value %s: %w", id, err)
		}
	}

	entry := &store.TokenEntry{ID: id, Type: typ, Value: value}
	if err := r.store.SaveToken(entry); err != nil {
		return fmt.Errorf("persist token %s: %w", id, err)
	}
	return nil
}

// Get returns the persisted entry for id. store.ErrNotFound if absent.
func (r *Registry) Get(id string) (*store.TokenEntry, error) {
	return r.store.GetToken(id)
}

// List returns all persisted token entries.
func (r *Registry) List() ([]*store.TokenEntry, error) {
	return r.store.ListTokens()
}

// HasHandle reports whether a live handle exists for id.
func (r *Registry) HasHandle(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[id]
	return ok
}

// ErrUnsupportedType marks a token value outside the boolean/number/
// string set. Callers can treat it as invalid input.
var ErrUnsupportedType = errors.New("unsupported token value type")

// inferType maps a value to its token type tag.
func inferType(value any) (string, error) {
	switch value.(type) {
	case bool:
		return "boolean", nil
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return "number", nil
	case string:
		return "string", nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedType, value)
	}
}
