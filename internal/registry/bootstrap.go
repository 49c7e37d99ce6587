package registry

import (
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"scripthub/internal/store"
)

//go:embed examples/*.lua
var exampleFS embed.FS

// examplePrefix namespaces the ids of seeded example scripts so they can
// never collide with user-created ones.
const examplePrefix = "example-"

// Bootstrap seeds a fresh registry from the bundled example scripts and
// any legacy per-script files found in legacyDir. It runs at most once
// per store: a persisted marker keeps a user who deleted every script
// from getting the seeds resurrected on restart. A registry that already
// has scripts (pre-marker data) is marked done without seeding. Missing
// or unreadable seed sources are logged and skipped; bootstrap never
// fails application startup for them.
func (r *Registry) Bootstrap(legacyDir string) error {
	done, err := r.store.BootstrapDone()
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	existing, err := r.store.ListScripts()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return r.store.MarkBootstrapDone()
	}

	seeded := 0
	seeded += r.seedExamples()
	seeded += r.seedLegacy(legacyDir)
	r.logger.Info("registry bootstrapped", "scripts", seeded)
	return r.store.MarkBootstrapDone()
}

func (r *Registry) seedExamples() int {
	entries, err := fs.ReadDir(exampleFS, "examples")
	if err != nil {
		r.logger.Warn("read bundled examples", "err", err)
		return 0
	}

	n := 0
	for _, e := range entries {
		data, err := exampleFS.ReadFile("examples/" + e.Name())
		if err != nil {
			r.logger.Warn("read bundled example", "file", e.Name(), "err", err)
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".lua")
		name, code := parseHeader(string(data), stem)
		def := &store.ScriptDefinition{
			ID:   examplePrefix + stem,
			Name: name,
			Code: code,
		}
		if err := r.store.SaveScript(def); err != nil {
			r.logger.Warn("seed example script", "id", def.ID, "err", err)
			continue
		}
		n++
	}
	return n
}

func (r *Registry) seedLegacy(dir string) int {
	if dir == "" {
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("read legacy scripts dir", "dir", dir, "err", err)
		}
		return 0
	}

	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			r.logger.Warn("read legacy script", "file", e.Name(), "err", err)
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".lua")
		name, code := parseHeader(string(data), stem)
		def := &store.ScriptDefinition{
			ID:   stem,
			Name: name,
			Code: code,
		}
		// The legacy layout kept last-execution times in a separate
		// per-id record.
		if t, err := r.store.LegacyLastRun(stem); err == nil {
			ts := t
			def.LastExecuted = &ts
		}
		if err := r.store.SaveScript(def); err != nil {
			r.logger.Warn("seed legacy script", "id", def.ID, "err", err)
			continue
		}
		n++
	}
	return n
}

// parseHeader extracts a display name from an optional first-line JSON
// metadata comment: -- {"name": "..."}. The remainder is the code.
// Without a header the fallback name applies and the code is unchanged.
func parseHeader(content, fallback string) (name, code string) {
	name = fallback
	code = content

	lines := strings.SplitN(content, "\n", 2)
	if !strings.HasPrefix(lines[0], "-- {") {
		return name, code
	}

	var meta struct {
		Name string `json:"name"`
	}
	jsonStr := strings.TrimPrefix(lines[0], "-- ")
	if err := json.Unmarshal([]byte(jsonStr), &meta); err != nil || meta.Name == "" {
		return name, code
	}

	name = meta.Name
	if len(lines) > 1 {
		code = strings.TrimLeft(lines[1], "\n")
	} else {
		code = ""
	}
	return name, code
}
