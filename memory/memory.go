// Package memory is the long-term conversation memory: a vector-indexed
// store of past user and assistant turns, independent of the document
// index. Entries are addressed by a content hash so re-inserting
// identical content overwrites instead of duplicating.
package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	chromem "github.com/philippgille/chromem-go"

	"github.com/inception881/knowledgeGPT/embedder"
)

const collectionName = "conversation_history"

// RoleUser and RoleAssistant are the two memory entry roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one remembered conversation turn.
type Entry struct {
	ID        string
	Role      string
	Content   string
	Timestamp time.Time

	// Similarity is set on retrieval, higher is better.
	Similarity float32
}

// EntryID derives the storage id from (role, content). The id is a pure
// function of its inputs: persisting the same pair N times yields exactly
// one stored entry for any N >= 1.
func EntryID(role, content string) string {
	sum := md5.Sum([]byte(role + ":" + content))
	return hex.EncodeToString(sum[:])
}

// Store is the long-term memory store. The backing database persists each
// write immediately, so there is no separate save step.
type Store struct {
	col      *chromem.Collection
	embedder embedder.Embedder
	logger   *log.Logger
}

// Open creates or reopens the store persisted under dir.
func Open(dir string, emb embedder.Embedder, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default().WithPrefix("memory")
	}
	db, err := chromem.NewPersistentDB(dir, true)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("open memory collection: %w", err)
	}
	return &Store{col: col, embedder: emb, logger: logger}, nil
}

// Persist stores one conversation turn under its content-hash id.
// Inserting an existing id is an overwrite, never a duplicate.
func (s *Store) Persist(ctx context.Context, role, content string) error {
	if content == "" {
		return nil
	}

	id := EntryID(role, content)
	emb, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed memory entry: %w", err)
	}

	err = s.col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: emb,
		Metadata: map[string]string{
			"role":      role,
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("store memory entry: %w", err)
	}

	s.logger.Debug("memory entry persisted", "role", role, "id", id[:8])
	return nil
}

// RetrieveSimilar returns up to k past entries semantically similar to the
// query, most similar first.
func (s *Store) RetrieveSimilar(ctx context.Context, query string, k int) ([]Entry, error) {
	if k <= 0 {
		k = 3
	}
	if count := s.col.Count(); count == 0 {
		return nil, nil
	} else if k > count {
		k = count
	}

	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.col.QueryEmbedding(ctx, emb, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}

	entries := make([]Entry, 0, len(results))
	for _, res := range results {
		ts, _ := time.Parse(time.RFC3339, res.Metadata["timestamp"])
		entries = append(entries, Entry{
			ID:         res.ID,
			Role:       res.Metadata["role"],
			Content:    res.Content,
			Timestamp:  ts,
			Similarity: res.Similarity,
		})
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (s *Store) Count() int {
	return s.col.Count()
}
