package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBootstrapSeedsExamples(t *testing.T) {
	r, _ := newTestRegistry(t)

	if err := r.Bootstrap(""); err != nil {
		t.Fatal(err)
	}

	list, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) == 0 {
		t.Fatal("bootstrap seeded nothing from bundled examples")
	}
	for _, def := range list {
		if !strings.HasPrefix(def.ID, examplePrefix) {
			t.Errorf("seeded id %q lacks the %q prefix", def.ID, examplePrefix)
		}
		if def.Code == "" {
			t.Errorf("seeded script %q has empty code", def.ID)
		}
		if def.LastExecuted != nil {
			t.Errorf("seeded script %q has execution history", def.ID)
		}
	}
}

func TestBootstrapDoesNotResurrectDeletedScripts(t *testing.T) {
	r, _ := newTestRegistry(t)

	if err := r.Bootstrap(""); err != nil {
		t.Fatal(err)
	}

	// The user permanently deletes everything the seed installed.
	list, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) == 0 {
		t.Fatal("nothing seeded")
	}
	for _, def := range list {
		if err := r.Delete(def.ID); err != nil {
			t.Fatal(err)
		}
	}

	// The next start must not re-seed.
	if err := r.Bootstrap(""); err != nil {
		t.Fatal(err)
	}
	list, err = r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("restart resurrected %d deleted scripts", len(list))
	}
}

func TestBootstrapSkipsNonEmptyRegistry(t *testing.T) {
	r, _ := newTestRegistry(t)

	def, err := r.Create("mine", "return 1")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Bootstrap(""); err != nil {
		t.Fatal(err)
	}

	list, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("list count = %d, bootstrap must not seed a non-empty registry", len(list))
	}

	// Pre-existing data counts as bootstrapped: deleting it later must
	// not trigger seeding either.
	if err := r.Delete(def.ID); err != nil {
		t.Fatal(err)
	}
	if err := r.Bootstrap(""); err != nil {
		t.Fatal(err)
	}
	list, err = r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("list count = %d, want 0 after delete and restart", len(list))
	}
}

func TestBootstrapSeedsLegacyDir(t *testing.T) {
	r, s := newTestRegistry(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "heating.lua"), []byte("return 'warm'"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a script"), 0644); err != nil {
		t.Fatal(err)
	}

	// Legacy layout kept last-run times separately.
	lastRun := time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC)
	if err := s.SetLegacyLastRun("heating", lastRun); err != nil {
		t.Fatal(err)
	}

	if err := r.Bootstrap(dir); err != nil {
		t.Fatal(err)
	}

	def, err := r.Get("heating")
	if err != nil {
		t.Fatal(err)
	}
	if def.Name != "heating" {
		t.Errorf("name = %q, want stem fallback", def.Name)
	}
	if def.Code != "return 'warm'" {
		t.Errorf("code = %q", def.Code)
	}
	if def.LastExecuted == nil || !def.LastExecuted.Equal(lastRun) {
		t.Errorf("lastExecuted = %v, want recovered %v", def.LastExecuted, lastRun)
	}

	// The .txt file must not have been seeded.
	if _, err := r.Get("notes"); err == nil {
		t.Error("non-.lua file was seeded")
	}
}

func TestBootstrapMissingLegacyDir(t *testing.T) {
	r, _ := newTestRegistry(t)

	if err := r.Bootstrap(filepath.Join(t.TempDir(), "does-not-exist")); err != nil {
		t.Fatalf("missing legacy dir must not fail bootstrap: %v", err)
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		fallback string
		wantName string
		wantCode string
	}{
		{
			name:     "named header",
			content:  "-- {\"name\": \"Morning\"}\nreturn 1",
			fallback: "file",
			wantName: "Morning",
			wantCode: "return 1",
		},
		{
			name:     "no header",
			content:  "return 1",
			fallback: "file",
			wantName: "file",
			wantCode: "return 1",
		},
		{
			name:     "plain comment is not a header",
			content:  "-- just a comment\nreturn 1",
			fallback: "file",
			wantName: "file",
			wantCode: "-- just a comment\nreturn 1",
		},
		{
			name:     "malformed header keeps content",
			content:  "-- {not json}\nreturn 1",
			fallback: "file",
			wantName: "file",
			wantCode: "-- {not json}\nreturn 1",
		},
		{
			name:     "header only",
			content:  "-- {\"name\": \"Empty\"}",
			fallback: "file",
			wantName: "Empty",
			wantCode: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, code := parseHeader(tt.content, tt.fallback)
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}
