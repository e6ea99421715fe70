// Package registry tracks which documents have been ingested, so the same
// upload is never processed twice, and owns the saved copies of uploaded
// files. The durable record is a newline-delimited list of filenames:
// append-only in normal operation, fully rewritten on delete.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Registry is the processed-document record plus the documents directory.
// All mutations are serialized; the rewrite-on-delete pattern is not safe
// under concurrent writers otherwise.
type Registry struct {
	mu         sync.Mutex
	recordPath string
	docsDir    string
	logger     *log.Logger

	// In-memory ordered set mirroring the record. The on-disk log may
	// contain duplicates; membership is deduplicated on read.
	seen  map[string]struct{}
	order []string
}

// Open loads (or initializes) the registry backed by the given record file
// and documents directory.
func Open(recordPath, docsDir string, logger *log.Logger) (*Registry, error) {
	if logger == nil {
		logger = log.Default().WithPrefix("registry")
	}
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create documents dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(recordPath), 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}

	r := &Registry{
		recordPath: recordPath,
		docsDir:    docsDir,
		logger:     logger,
		seen:       make(map[string]struct{}),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.recordPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read record: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		id := strings.TrimSpace(line)
		if id == "" {
			continue
		}
		if _, dup := r.seen[id]; dup {
			continue
		}
		r.seen[id] = struct{}{}
		r.order = append(r.order, id)
	}
	return nil
}

// DocumentsDir returns the directory holding saved document copies.
func (r *Registry) DocumentsDir() string {
	return r.docsDir
}

// IsProcessed reports whether docID has already been ingested.
func (r *Registry) IsProcessed(docID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[docID]
	return ok
}

// Record appends docID to the durable record. Recording an already-known
// id is a no-op in effect; the underlying log tolerates duplicates.
func (r *Registry) Record(docID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.recordPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open record: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(docID + "\n"); err != nil {
		return fmt.Errorf("append record: %w", err)
	}

	if _, dup := r.seen[docID]; !dup {
		r.seen[docID] = struct{}{}
		r.order = append(r.order, docID)
	}
	return nil
}

// ListAll returns every processed document id in ingestion order.
func (r *Registry) ListAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Delete removes the saved file copy (a missing file is only a warning)
// and rewrites the record without docID.
func (r *Registry) Delete(docID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(r.docsDir, filepath.Base(docID))
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			r.logger.Warn("saved copy not found", "doc", docID)
		} else {
			return fmt.Errorf("remove saved copy: %w", err)
		}
	}

	if _, ok := r.seen[docID]; !ok {
		r.logger.Warn("document not in processed record", "doc", docID)
		return nil
	}
	delete(r.seen, docID)
	kept := r.order[:0]
	for _, id := range r.order {
		if id != docID {
			kept = append(kept, id)
		}
	}
	r.order = kept

	return r.rewrite()
}

// ClearAll truncates the record and deletes every saved file. The two
// halves fail independently; a partial clear is logged, not fatal.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seen = make(map[string]struct{})
	r.order = nil
	if err := os.WriteFile(r.recordPath, nil, 0o644); err != nil {
		r.logger.Error("failed to truncate processed record", "err", err)
	} else {
		r.logger.Info("processed record cleared")
	}

	entries, err := os.ReadDir(r.docsDir)
	if err != nil {
		r.logger.Error("failed to list documents dir", "err", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(r.docsDir, entry.Name())); err != nil {
			r.logger.Error("failed to delete saved copy", "file", entry.Name(), "err", err)
		}
	}
	r.logger.Info("saved document copies cleared")
}

func (r *Registry) rewrite() error {
	var sb strings.Builder
	for _, id := range r.order {
		sb.WriteString(id)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(r.recordPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("rewrite record: %w", err)
	}
	return nil
}
