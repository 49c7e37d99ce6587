package store

import (
	"encoding/json"
	"fmt"
	"log/slog"

	bolt "go.etcd.io/bbolt"
)

// Migration is a one-shot schema migration. Every migration must be
// idempotent: running it against already-migrated data changes nothing.
type Migration struct {
	Index int
	Name  string
	Run   func(s *BoltStore) error
}

// Migrations is the ordered registry of schema migrations. Entries are
// applied in slice order; each is checked against the persisted applied
// set first and recorded after it succeeds.
var Migrations = []Migration{
	{
		Index: 0,
		Name:  "backfill script name and id",
		Run:   migrateBackfillIdentity,
	},
}

// RunMigrations applies every registered migration that is not yet
// recorded as applied.
func RunMigrations(s *BoltStore, logger *slog.Logger) error {
	applied, err := s.AppliedMigrations()
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, idx := range applied {
		done[idx] = true
	}

	for _, m := range Migrations {
		if done[m.Index] {
			continue
		}
		if err := m.Run(s); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Index, m.Name, err)
		}
		if err := s.MarkMigrationApplied(m.Index); err != nil {
			return fmt.Errorf("mark migration %d applied: %w", m.Index, err)
		}
		logger.Info("migration applied", "index", m.Index, "name", m.Name)
	}
	return nil
}

// migrateBackfillIdentity sets a missing name or id on stored script
// entries to the entry's bucket key. Entries written before the registry
// format carried only the code.
func migrateBackfillIdentity(s *BoltStore) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScripts)
		if b == nil {
			return nil
		}
		type patch struct {
			key  []byte
			data []byte
		}
		var patches []patch
		err := b.ForEach(func(k, v []byte) error {
			var def ScriptDefinition
			if err := json.Unmarshal(v, &def); err != nil {
				return fmt.Errorf("script %s: %w", k, err)
			}
			if def.ID != "" && def.Name != "" {
				return nil
			}
			if def.ID == "" {
				def.ID = string(k)
			}
			if def.Name == "" {
				def.Name = string(k)
			}
			data, err := json.Marshal(&def)
			if err != nil {
				return err
			}
			patches = append(patches, patch{key: append([]byte(nil), k...), data: data})
			return nil
		})
		if err != nil {
			return err
		}
		for _, p := range patches {
			if err := b.Put(p.key, p.data); err != nil {
				return err
			}
		}
		return nil
	})
}
