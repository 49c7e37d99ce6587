package token

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"scripthub/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *MemoryProvider, *store.BoltStore) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := NewMemoryProvider()
	return New(s, provider, logger), provider, s
}

func TestSetCreatesEntryAndHandle(t *testing.T) {
	r, p, _ := newTestRegistry(t)

	if err := r.Set("temp", 21.5); err != nil {
		t.Fatal(err)
	}

	entry, err := r.Get("temp")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Type != "number" {
		t.Errorf("type = %q, want %q", entry.Type, "number")
	}
	if !r.HasHandle("temp") {
		t.Error("no live handle after Set")
	}
	h := p.Handle("temp")
	if h == nil {
		t.Fatal("provider has no handle")
	}
	if v := h.Current(); v != 21.5 {
		t.Errorf("handle value = %v, want 21.5", v)
	}
}

func TestSetUpdatesExistingHandle(t *testing.T) {
	r, p, _ := newTestRegistry(t)

	if err := r.Set("mode", "day"); err != nil {
		t.Fatal(err)
	}
	h := p.Handle("mode")

	if err := r.Set("mode", "night"); err != nil {
		t.Fatal(err)
	}

	// Same handle, new value: no re-creation on update.
	if p.Handle("mode") != h {
		t.Error("update replaced the handle")
	}
	if v := h.Current(); v != "night" {
		t.Errorf("handle value = %v, want %q", v, "night")
	}
	entry, err := r.Get("mode")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Value != "night" {
		t.Errorf("persisted value = %v, want %q", entry.Value, "night")
	}
}

func TestSetNilDeletes(t *testing.T) {
	r, p, _ := newTestRegistry(t)

	if err := r.Set("gone", true); err != nil {
		t.Fatal(err)
	}
	if err := r.Set("gone", nil); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Get("gone"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if r.HasHandle("gone") {
		t.Error("handle survived deletion")
	}
	if p.Handle("gone") != nil {
		t.Error("provider handle survived deletion")
	}
}

func TestSetNilOnAbsentToken(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	if err := r.Set("never-existed", nil); err != nil {
		t.Fatalf("deleting an absent token: %v", err)
	}
}

func TestSetTypeInference(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	tests := []struct {
		id    string
		value any
		want  string
	}{
		{"b", true, "boolean"},
		{"n", 42.0, "number"},
		{"i", 7, "number"},
		{"s", "hello", "string"},
	}
	for _, tt := range tests {
		if err := r.Set(tt.id, tt.value); err != nil {
			t.Fatalf("Set(%q, %v): %v", tt.id, tt.value, err)
		}
		entry, err := r.Get(tt.id)
		if err != nil {
			t.Fatal(err)
		}
		if entry.Type != tt.want {
			t.Errorf("type of %v = %q, want %q", tt.value, entry.Type, tt.want)
		}
	}
}

func TestSetUnsupportedType(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	err := r.Set("bad", map[string]any{"nested": true})
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("err = %v, want ErrUnsupportedType", err)
	}
	if _, getErr := r.Get("bad"); !errors.Is(getErr, store.ErrNotFound) {
		t.Error("failed Set must not persist an entry")
	}
}

func TestRestoreRebuildsHandles(t *testing.T) {
	r, _, s := newTestRegistry(t)

	entries := []*store.TokenEntry{
		{ID: "a", Type: "number", Value: 1.0},
		{ID: "b", Type: "string", Value: "x"},
	}
	for _, e := range entries {
		if err := s.SaveToken(e); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.Restore(); err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if !r.HasHandle(e.ID) {
			t.Errorf("no handle for restored token %q", e.ID)
		}
	}
}

// failingProvider fails handle creation for one specific id.
type failingProvider struct {
	inner  *MemoryProvider
	failID string
}

func (p *failingProvider) CreateHandle(id, typ string, value any) (Handle, error) {
	if id == p.failID {
		return nil, errors.New("fabric rejected handle")
	}
	return p.inner.CreateHandle(id, typ, value)
}

func TestRestorePerEntryIsolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	for _, e := range []*store.TokenEntry{
		{ID: "ok-1", Type: "number", Value: 1.0},
		{ID: "broken", Type: "number", Value: 2.0},
		{ID: "ok-2", Type: "number", Value: 3.0},
	} {
		if err := s.SaveToken(e); err != nil {
			t.Fatal(err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := &failingProvider{inner: NewMemoryProvider(), failID: "broken"}
	r := New(s, provider, logger)

	if err := r.Restore(); err != nil {
		t.Fatalf("one bad entry must not fail Restore: %v", err)
	}
	if !r.HasHandle("ok-1") || !r.HasHandle("ok-2") {
		t.Error("healthy entries were not restored")
	}
	if r.HasHandle("broken") {
		t.Error("failed entry got a handle")
	}
}
