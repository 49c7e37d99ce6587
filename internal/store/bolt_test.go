package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetScript(t *testing.T) {
	s := newTestStore(t)

	last := time.Now().UTC().Truncate(time.Millisecond)
	def := &ScriptDefinition{
		ID:           "abc-123",
		Name:         "morning routine",
		Code:         "return 1 + 1",
		LastExecuted: &last,
	}

	if err := s.SaveScript(def); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetScript(def.ID)
	if err != nil {
		t.Fatal(err)
	}

	if got.ID != def.ID {
		t.Errorf("id = %q, want %q", got.ID, def.ID)
	}
	if got.Name != def.Name {
		t.Errorf("name = %q, want %q", got.Name, def.Name)
	}
	if got.Code != def.Code {
		t.Errorf("code = %q, want %q", got.Code, def.Code)
	}
	if got.LastExecuted == nil || !got.LastExecuted.Equal(last) {
		t.Errorf("lastExecuted = %v, want %v", got.LastExecuted, last)
	}
}

func TestGetScriptNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetScript("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteScript(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveScript(&ScriptDefinition{ID: "x", Name: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteScript("x"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetScript("x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// Deleting an absent id stays a no-op.
	if err := s.DeleteScript("x"); err != nil {
		t.Fatal(err)
	}
}

func TestListScripts(t *testing.T) {
	s := newTestStore(t)

	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		if err := s.SaveScript(&ScriptDefinition{ID: id, Name: "script " + id}); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListScripts()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("list count = %d, want 3", len(list))
	}

	found := make(map[string]bool)
	for _, def := range list {
		found[def.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			t.Errorf("script %s not in list", id)
		}
	}
}

func TestUpdateScript(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveScript(&ScriptDefinition{ID: "x", Name: "before", Code: "return 1"}); err != nil {
		t.Fatal(err)
	}

	err := s.UpdateScript("x", func(def *ScriptDefinition) error {
		def.Name = "after"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetScript("x")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "after" {
		t.Errorf("name = %q, want %q", got.Name, "after")
	}
	if got.Code != "return 1" {
		t.Errorf("code = %q, want untouched", got.Code)
	}
}

func TestUpdateScriptNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateScript("missing", func(def *ScriptDefinition) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateScriptCallbackError(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveScript(&ScriptDefinition{ID: "x", Name: "before"}); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := s.UpdateScript("x", func(def *ScriptDefinition) error {
		def.Name = "after"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	got, err := s.GetScript("x")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "before" {
		t.Errorf("name = %q, callback error must not persist changes", got.Name)
	}
}

func TestSaveAndGetToken(t *testing.T) {
	s := newTestStore(t)

	entry := &TokenEntry{ID: "temp", Type: "number", Value: 21.5}
	if err := s.SaveToken(entry); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetToken("temp")
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != "number" {
		t.Errorf("type = %q, want %q", got.Type, "number")
	}
	if v, ok := got.Value.(float64); !ok || v != 21.5 {
		t.Errorf("value = %v (%T), want 21.5", got.Value, got.Value)
	}
}

func TestDeleteToken(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveToken(&TokenEntry{ID: "t", Type: "string", Value: "v"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteToken("t"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetToken("t"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListTokens(t *testing.T) {
	s := newTestStore(t)

	entries := []*TokenEntry{
		{ID: "a", Type: "string", Value: "x"},
		{ID: "b", Type: "boolean", Value: true},
	}
	for _, e := range entries {
		if err := s.SaveToken(e); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListTokens()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list count = %d, want 2", len(list))
	}
}

func TestGlobals(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetGlobal("counter", 3.0); err != nil {
		t.Fatal(err)
	}
	if err := s.SetGlobal("mode", "night"); err != nil {
		t.Fatal(err)
	}

	v, err := s.GetGlobal("counter")
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := v.(float64); !ok || n != 3.0 {
		t.Errorf("counter = %v (%T), want 3", v, v)
	}

	// Last write wins.
	if err := s.SetGlobal("counter", 4.0); err != nil {
		t.Fatal(err)
	}
	v, err = s.GetGlobal("counter")
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := v.(float64); !ok || n != 4.0 {
		t.Errorf("counter = %v, want 4", v)
	}

	keys, err := s.GlobalKeys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys = %v, want 2 entries", keys)
	}

	if _, err := s.GetGlobal("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAppliedMigrationsNumericOrder(t *testing.T) {
	s := newTestStore(t)

	for _, idx := range []int{2, 10, 1} {
		if err := s.MarkMigrationApplied(idx); err != nil {
			t.Fatal(err)
		}
	}

	applied, err := s.AppliedMigrations()
	if err != nil {
		t.Fatal(err)
	}
	want := []int{1, 2, 10}
	if len(applied) != len(want) {
		t.Fatalf("applied = %v, want %v", applied, want)
	}
	for i := range want {
		if applied[i] != want[i] {
			t.Fatalf("applied = %v, want %v", applied, want)
		}
	}
}

func TestLegacyLastRun(t *testing.T) {
	s := newTestStore(t)

	want := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)
	if err := s.SetLegacyLastRun("old-script", want); err != nil {
		t.Fatal(err)
	}

	got, err := s.LegacyLastRun("old-script")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Errorf("lastrun = %v, want %v", got, want)
	}

	if _, err := s.LegacyLastRun("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
