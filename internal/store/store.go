package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Script operations
	SaveScript(s *ScriptDefinition) error
	GetScript(id string) (*ScriptDefinition, error)
	DeleteScript(id string) error
	ListScripts() ([]*ScriptDefinition, error)

	// UpdateScript atomically reads, modifies, and saves a script in a
	// single transaction. Returns ErrNotFound if the script does not exist.
	UpdateScript(id string, fn func(s *ScriptDefinition) error) error

	// Token operations
	SaveToken(t *TokenEntry) error
	GetToken(id string) (*TokenEntry, error)
	DeleteToken(id string) error
	ListTokens() ([]*TokenEntry, error)

	// Cross-script global namespace. Deliberately shared and unscoped
	// across all scripts, last write wins.
	SetGlobal(key string, value any) error
	GetGlobal(key string) (any, error)
	GlobalKeys() ([]string, error)

	// Migration bookkeeping
	AppliedMigrations() ([]int, error)
	MarkMigrationApplied(index int) error

	// One-shot bootstrap marker. Seeding happens at most once per store
	// lifetime, even if the user later deletes every script.
	BootstrapDone() (bool, error)
	MarkBootstrapDone() error

	// LegacyLastRun returns the per-id last-execution timestamp recorded
	// by the pre-registry storage layout. ErrNotFound if absent.
	LegacyLastRun(id string) (time.Time, error)
	SetLegacyLastRun(id string, t time.Time) error

	// Close the store
	Close() error
}
