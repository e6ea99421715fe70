// Package index owns the persistent similarity-search index over document
// chunks and its id->content mapping. It is the system of record for
// retrieval: add, search, delete and clear keep the in-memory index, the
// mapping, and the on-disk export consistent.
//
// The underlying engine cannot answer queries on an empty collection, so
// the index always holds one sentinel entry that is not a real document.
// The sentinel is excluded from every result by id; callers never see it.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/inception881/knowledgeGPT/core"
	"github.com/inception881/knowledgeGPT/embedder"
)

const (
	collectionName  = "documents"
	sentinelID      = "__bootstrap__"
	sentinelContent = "index bootstrap placeholder"

	indexFileName   = "index.gob.gz"
	mappingFileName = "mapping.json"
)

// ErrLengthMismatch rejects an Add whose ids do not pair with its chunks.
var ErrLengthMismatch = errors.New("chunk count does not match id count")

// Options configures the index manager.
type Options struct {
	// Dir holds the serialized index and mapping.
	Dir string

	// TopK is the default result count for searches.
	TopK int

	// BatchSize is the number of chunks vectorized per add batch.
	BatchSize int

	// Trusted permits deserializing a persisted index from Dir. Loading
	// an export is a trust boundary: it decodes arbitrary gob data.
	Trusted bool
}

// Manager is the vector index manager. Searches may run concurrently;
// every mutation plus its persistence is one exclusive critical section.
type Manager struct {
	mu       sync.RWMutex
	db       *chromem.DB
	col      *chromem.Collection
	embedder embedder.Embedder
	logger   *log.Logger

	// chunks is the id->content mapping. Outside an in-progress
	// mutation, len(chunks)+1 (the sentinel) equals the collection count.
	chunks map[string]core.DocumentChunk

	dir       string
	topK      int
	batchSize int
	trusted   bool
}

// New loads the persisted index from opts.Dir, or bootstraps a fresh
// sentinel-seeded one when nothing is there or loading fails. A corrupt
// index is a warning, never a startup failure.
func New(ctx context.Context, emb embedder.Embedder, opts Options, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.Default().WithPrefix("index")
	}
	if opts.TopK <= 0 {
		opts.TopK = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	m := &Manager{
		embedder:  emb,
		logger:    logger,
		dir:       opts.Dir,
		topK:      opts.TopK,
		batchSize: opts.BatchSize,
		trusted:   opts.Trusted,
	}

	if err := m.loadOrCreate(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) indexPath() string   { return filepath.Join(m.dir, indexFileName) }
func (m *Manager) mappingPath() string { return filepath.Join(m.dir, mappingFileName) }

func (m *Manager) loadOrCreate(ctx context.Context) error {
	if _, err := os.Stat(m.indexPath()); err == nil {
		if !m.trusted {
			m.logger.Warn("persisted index present but not trusted, starting fresh", "dir", m.dir)
		} else if err := m.load(); err != nil {
			m.logger.Warn("failed to load persisted index, creating a new one", "err", err)
		} else {
			m.logger.Info("loaded existing index", "dir", m.dir, "documents", len(m.chunks))
			return nil
		}
	}

	if err := m.bootstrap(ctx); err != nil {
		return err
	}
	// Persist immediately so a restart finds the bootstrapped state.
	if err := m.persistLocked(); err != nil {
		return err
	}
	m.logger.Info("created fresh index", "dir", m.dir)
	return nil
}

// load imports the export file and the id mapping, and verifies they agree.
func (m *Manager) load() error {
	db := chromem.NewDB()
	if err := db.ImportFromFile(m.indexPath(), ""); err != nil {
		return fmt.Errorf("import index: %w", err)
	}
	col := db.GetCollection(collectionName, nil)
	if col == nil {
		return fmt.Errorf("collection %q missing from import", collectionName)
	}

	data, err := os.ReadFile(m.mappingPath())
	if err != nil {
		return fmt.Errorf("read mapping: %w", err)
	}
	chunks := make(map[string]core.DocumentChunk)
	if err := json.Unmarshal(data, &chunks); err != nil {
		return fmt.Errorf("decode mapping: %w", err)
	}

	if got, want := col.Count(), len(chunks)+1; got != want {
		return fmt.Errorf("index/mapping disagree: %d vectors, %d mapped ids", got, want-1)
	}

	m.db = db
	m.col = col
	m.chunks = chunks
	return nil
}

// bootstrap builds the sentinel-only state a fresh index starts from.
// Clear resets to exactly this state.
func (m *Manager) bootstrap(ctx context.Context) error {
	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	emb, err := m.embedder.Embed(ctx, sentinelContent)
	if err != nil {
		return fmt.Errorf("embed sentinel: %w", err)
	}
	err = col.AddDocument(ctx, chromem.Document{
		ID:        sentinelID,
		Content:   sentinelContent,
		Embedding: emb,
		Metadata:  map[string]string{"sentinel": "true"},
	})
	if err != nil {
		return fmt.Errorf("seed sentinel: %w", err)
	}

	m.db = db
	m.col = col
	m.chunks = make(map[string]core.DocumentChunk)
	return nil
}

// persistLocked exports the index and mapping to disk. Callers hold the
// write lock, so readers never observe a partially written export.
func (m *Manager) persistLocked() error {
	if err := m.db.ExportToFile(m.indexPath(), true, ""); err != nil {
		return fmt.Errorf("export index: %w", err)
	}
	data, err := json.MarshalIndent(m.chunks, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}
	if err := os.WriteFile(m.mappingPath(), data, 0o644); err != nil {
		return fmt.Errorf("write mapping: %w", err)
	}
	return nil
}

// GenerateID builds a vector id for a chunk: "{source_id}_{uuid}". The
// source prefix is load-bearing: DeleteBySource matches on it.
func GenerateID(sourceID string) string {
	return fmt.Sprintf("%s_%s", sourceID, uuid.New().String())
}

// Add vectorizes chunks in fixed-size batches and appends them to the
// index, then persists the whole index exactly once. When ids is nil they
// are generated per chunk. A chunks/ids length mismatch rejects the whole
// call before any batch is written.
//
// A failure mid-batch leaves the in-memory index ahead of the on-disk
// copy until the next successful mutation; this consistency window is an
// accepted property of the design.
func (m *Manager) Add(ctx context.Context, chunks []core.DocumentChunk, ids []string) ([]string, error) {
	if len(chunks) == 0 {
		m.logger.Warn("no chunks to add")
		return nil, nil
	}
	if ids == nil {
		ids = make([]string, len(chunks))
		for i, c := range chunks {
			ids[i] = GenerateID(c.SourceID)
		}
	}
	if len(ids) != len(chunks) {
		return nil, fmt.Errorf("%w: %d chunks, %d ids", ErrLengthMismatch, len(chunks), len(ids))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	batches := (len(chunks) + m.batchSize - 1) / m.batchSize
	for b := 0; b < len(chunks); b += m.batchSize {
		end := b + m.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		for i := b; i < end; i++ {
			emb, err := m.embedder.Embed(ctx, chunks[i].Content)
			if err != nil {
				return nil, fmt.Errorf("embed chunk %d: %w", i, err)
			}
			doc := chromem.Document{
				ID:        ids[i],
				Content:   chunks[i].Content,
				Embedding: emb,
				Metadata: map[string]string{
					"source_id": chunks[i].SourceID,
					"file_type": string(chunks[i].FileType),
					"sequence":  strconv.Itoa(chunks[i].Sequence),
				},
			}
			if err := m.col.AddDocument(ctx, doc); err != nil {
				return nil, fmt.Errorf("add document %s: %w", ids[i], err)
			}
			m.chunks[ids[i]] = chunks[i]
		}
		m.logger.Info("processed batch", "batch", b/m.batchSize+1, "of", batches)
	}

	if err := m.persistLocked(); err != nil {
		return nil, err
	}
	m.logger.Info("index updated", "added", len(chunks), "total", len(m.chunks))
	return ids, nil
}

// Search returns the k nearest chunks for the query.
func (m *Manager) Search(ctx context.Context, query string, k int) ([]core.RetrievedChunk, error) {
	return m.SearchWithScore(ctx, query, k)
}

// SearchWithScore returns the k nearest chunks with similarity scores.
func (m *Manager) SearchWithScore(ctx context.Context, query string, k int) ([]core.RetrievedChunk, error) {
	if k <= 0 {
		k = m.topK
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results, err := m.queryLocked(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return m.toChunksLocked(results), nil
}

// Retrieve is the diversity-aware search used by the retrieval tool. It
// over-fetches candidates and re-ranks with maximal marginal relevance to
// suppress redundant near-duplicate chunks.
func (m *Manager) Retrieve(ctx context.Context, query string, k int) ([]core.RetrievedChunk, error) {
	if k <= 0 {
		k = m.topK
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	fetch := 4 * k
	if fetch < 20 {
		fetch = 20
	}
	results, err := m.queryLocked(ctx, query, fetch)
	if err != nil || len(results) == 0 {
		return nil, err
	}

	qEmb, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	selected := maximalMarginalRelevance(qEmb, results, k, 0.5)
	return m.toChunksLocked(selected), nil
}

// queryLocked runs a nearest-neighbor query and strips the sentinel.
// fetch is clamped to the collection size; one extra slot compensates for
// the sentinel occupying a result.
func (m *Manager) queryLocked(ctx context.Context, query string, fetch int) ([]chromem.Result, error) {
	if len(m.chunks) == 0 {
		return nil, nil
	}
	qEmb, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	n := fetch + 1
	if max := m.col.Count(); n > max {
		n = max
	}
	results, err := m.col.QueryEmbedding(ctx, qEmb, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	kept := results[:0]
	for _, res := range results {
		if res.ID == sentinelID {
			continue
		}
		kept = append(kept, res)
	}
	if len(kept) > fetch {
		kept = kept[:fetch]
	}
	return kept, nil
}

func (m *Manager) toChunksLocked(results []chromem.Result) []core.RetrievedChunk {
	out := make([]core.RetrievedChunk, 0, len(results))
	for _, res := range results {
		chunk, ok := m.chunks[res.ID]
		if !ok {
			m.logger.Warn("result id missing from mapping", "id", res.ID)
			continue
		}
		out = append(out, core.RetrievedChunk{ID: res.ID, Chunk: chunk, Score: res.Similarity})
	}
	return out
}

// DeleteBySource removes every vector whose id carries the "{sourceID}_"
// prefix and persists. Zero matches is a no-match signal, not an error.
func (m *Manager) DeleteBySource(ctx context.Context, sourceID string) (int, error) {
	if sourceID == "" {
		m.logger.Warn("no source id provided for deletion")
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := sourceID + "_"
	var ids []string
	for id := range m.chunks {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		m.logger.Warn("no matching documents found", "source", sourceID)
		return 0, nil
	}

	if err := m.deleteLocked(ctx, ids); err != nil {
		return 0, err
	}
	m.logger.Info("deleted documents by source", "source", sourceID, "count", len(ids))
	return len(ids), nil
}

// Delete removes the given vector ids and persists.
func (m *Manager) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		m.logger.Warn("no document ids provided for deletion")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.deleteLocked(ctx, ids); err != nil {
		return err
	}
	m.logger.Info("deleted documents", "count", len(ids))
	return nil
}

func (m *Manager) deleteLocked(ctx context.Context, ids []string) error {
	if err := m.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete from index: %w", err)
	}
	for _, id := range ids {
		delete(m.chunks, id)
	}
	return m.persistLocked()
}

// Clear resets the index to the bootstrapped sentinel-only state and
// persists, so subsequent adds behave exactly as on a fresh index.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.bootstrap(ctx); err != nil {
		return err
	}
	if err := m.persistLocked(); err != nil {
		return err
	}
	m.logger.Info("index cleared")
	return nil
}

// Count returns the number of real (non-sentinel) indexed chunks.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// IDs returns every real vector id, for diagnostics and tests.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.chunks))
	for id := range m.chunks {
		ids = append(ids, id)
	}
	return ids
}
