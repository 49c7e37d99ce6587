package registry

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"scripthub/internal/store"
)

// Registry owns the lifetime of stored script definitions. All mutation
// goes through the backing store; nothing is cached in memory.
type Registry struct {
	store  store.Store
	logger *slog.Logger
}

// Partial carries the fields of a partial update. Nil fields are left
// untouched.
type Partial struct {
	Name *string `json:"name"`
	Code *string `json:"code"`
}

// Match is a single autocomplete search result.
type Match struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// New creates a script registry backed by s.
func New(s store.Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:  s,
		logger: logger.With("component", "registry"),
	}
}

// List returns all stored script definitions.
func (r *Registry) List() ([]*store.ScriptDefinition, error) {
	return r.store.ListScripts()
}

// Get returns a single script by id. store.ErrNotFound if absent.
func (r *Registry) Get(id string) (*store.ScriptDefinition, error) {
	return r.store.GetScript(id)
}

// Create stores a new script under a fresh unique id with no execution
// history.
func (r *Registry) Create(name, code string) (*store.ScriptDefinition, error) {
	def := &store.ScriptDefinition{
		ID:   uuid.NewString(),
		Name: name,
		Code: code,
	}
	if err := r.store.SaveScript(def); err != nil {
		return nil, fmt.Errorf("create script: %w", err)
	}
	r.logger.Info("script created", "id", def.ID, "name", def.Name)
	return def, nil
}

// Update merges the non-nil fields of p into the stored script.
// Updating an unknown id fails with store.ErrNotFound; it never
// implicitly creates an entry.
func (r *Registry) Update(id string, p Partial) (*store.ScriptDefinition, error) {
	err := r.store.UpdateScript(id, func(def *store.ScriptDefinition) error {
		if p.Name != nil {
			def.Name = *p.Name
		}
		if p.Code != nil {
			def.Code = *p.Code
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.store.GetScript(id)
}

// Delete removes a script permanently. Deleting an absent id is a no-op.
func (r *Registry) Delete(id string) error {
	if err := r.store.DeleteScript(id); err != nil {
		return fmt.Errorf("delete script: %w", err)
	}
	r.logger.Info("script deleted", "id", id)
	return nil
}

// RecordExecution sets the script's last-executed timestamp. Ad-hoc runs
// have no stored definition and are ignored upstream.
func (r *Registry) RecordExecution(id string, t time.Time) error {
	return r.store.UpdateScript(id, func(def *store.ScriptDefinition) error {
		ts := t
		def.LastExecuted = &ts
		return nil
	})
}

// Search returns scripts whose name contains query case-insensitively,
// in registry iteration order. No ranking.
func (r *Registry) Search(query string) ([]Match, error) {
	scripts, err := r.store.ListScripts()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	matches := make([]Match, 0, len(scripts))
	for _, s := range scripts {
		if strings.Contains(strings.ToLower(s.Name), q) {
			matches = append(matches, Match{ID: s.ID, Name: s.Name})
		}
	}
	return matches, nil
}
