// Package checkpoint durably stores conversation message histories, keyed
// by thread id, so an in-progress conversation survives a process restart
// exactly as last written. That durability is what makes the dangling
// tool-call sanitizer necessary: a crash between a model's tool request
// and the recorded tool result leaves the checkpoint ending on an
// unresolved assistant turn.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/inception881/knowledgeGPT/core"
)

// Store persists message histories in an embedded key-value database.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the checkpoint database under dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	return &Store{db: db}, nil
}

// Load returns the saved history for threadID. An unknown thread yields an
// empty history, not an error.
func (s *Store) Load(threadID string) ([]core.Message, error) {
	var msgs []core.Message
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(threadID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msgs)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}
	return msgs, nil
}

// Save overwrites the history for threadID.
func (s *Store) Save(threadID string, msgs []core.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(threadID), data)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", threadID, err)
	}
	return nil
}

// Delete removes the history for threadID.
func (s *Store) Delete(threadID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(threadID))
	})
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", threadID, err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}
