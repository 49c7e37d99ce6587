package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketScripts    = []byte("scripts")
	bucketTokens     = []byte("tokens")
	bucketMigrations = []byte("migrations")
	bucketGlobals    = []byte("globals")
	bucketLastRun    = []byte("lastrun")
	bucketMeta       = []byte("meta")
)

var keyBootstrapped = []byte("bootstrapped")

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketScripts, bucketTokens, bucketMigrations, bucketGlobals, bucketLastRun, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveScript(def *ScriptDefinition) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScripts)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketScripts)
		}
		data, err := json.Marshal(def)
		if err != nil {
			return err
		}
		return b.Put([]byte(def.ID), data)
	})
}

func (s *BoltStore) GetScript(id string) (*ScriptDefinition, error) {
	var def ScriptDefinition
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScripts)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketScripts)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("script %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &def)
	})
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// DeleteScript removes a script. Deleting an absent id is a no-op.
func (s *BoltStore) DeleteScript(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScripts)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketScripts)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) ListScripts() ([]*ScriptDefinition, error) {
	var scripts []*ScriptDefinition
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScripts)
		if b == nil {
			return nil
		}
		scripts = make([]*ScriptDefinition, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var def ScriptDefinition
			if err := json.Unmarshal(v, &def); err != nil {
				return err
			}
			scripts = append(scripts, &def)
			return nil
		})
	})
	return scripts, err
}

func (s *BoltStore) UpdateScript(id string, fn func(def *ScriptDefinition) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScripts)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketScripts)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("script %s: %w", id, ErrNotFound)
		}
		var def ScriptDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			return err
		}
		if err := fn(&def); err != nil {
			return err
		}
		out, err := json.Marshal(&def)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

func (s *BoltStore) SaveToken(t *TokenEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTokens)
		}
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return b.Put([]byte(t.ID), data)
	})
}

func (s *BoltStore) GetToken(id string) (*TokenEntry, error) {
	var entry TokenEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTokens)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("token %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *BoltStore) DeleteToken(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketTokens)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) ListTokens() ([]*TokenEntry, error) {
	var tokens []*TokenEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		if b == nil {
			return nil
		}
		tokens = make([]*TokenEntry, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var entry TokenEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			tokens = append(tokens, &entry)
			return nil
		})
	})
	return tokens, err
}

func (s *BoltStore) SetGlobal(key string, value any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGlobals)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketGlobals)
		}
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) GetGlobal(key string) (any, error) {
	var value any
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGlobals)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketGlobals)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("global %s: %w", key, ErrNotFound)
		}
		return json.Unmarshal(data, &value)
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *BoltStore) GlobalKeys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGlobals)
		if b == nil {
			return nil
		}
		keys = make([]string, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (s *BoltStore) AppliedMigrations() ([]int, error) {
	var applied []int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMigrations)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			idx, err := strconv.Atoi(string(k))
			if err != nil {
				return fmt.Errorf("migration marker %q: %w", k, err)
			}
			applied = append(applied, idx)
			return nil
		})
	})
	// Bucket iteration is lexicographic over the decimal keys; the
	// applied list is ordered by index.
	sort.Ints(applied)
	return applied, err
}

func (s *BoltStore) MarkMigrationApplied(index int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMigrations)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketMigrations)
		}
		return b.Put([]byte(strconv.Itoa(index)), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
}

func (s *BoltStore) BootstrapDone() (bool, error) {
	var done bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return nil
		}
		done = b.Get(keyBootstrapped) != nil
		return nil
	})
	return done, err
}

func (s *BoltStore) MarkBootstrapDone() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketMeta)
		}
		return b.Put(keyBootstrapped, []byte(time.Now().UTC().Format(time.RFC3339)))
	})
}

func (s *BoltStore) LegacyLastRun(id string) (time.Time, error) {
	var t time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLastRun)
		if b == nil {
			return fmt.Errorf("lastrun %s: %w", id, ErrNotFound)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("lastrun %s: %w", id, ErrNotFound)
		}
		parsed, err := time.Parse(time.RFC3339Nano, string(data))
		if err != nil {
			return fmt.Errorf("lastrun %s: %w", id, err)
		}
		t = parsed
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func (s *BoltStore) SetLegacyLastRun(id string, t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLastRun)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketLastRun)
		}
		return b.Put([]byte(id), []byte(t.UTC().Format(time.RFC3339Nano)))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
