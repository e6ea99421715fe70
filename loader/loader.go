// Package loader ingests uploaded documents: it gates on the supported
// extensions, saves a copy, extracts text, chunks it, and indexes the
// chunks. The filename is the document id everywhere downstream.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/inception881/knowledgeGPT/chunker"
	"github.com/inception881/knowledgeGPT/core"
	"github.com/inception881/knowledgeGPT/index"
	"github.com/inception881/knowledgeGPT/registry"
)

// ErrUnsupportedFileType rejects an upload before any byte reaches disk.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// ErrAlreadyProcessed reports a document id that was ingested before.
var ErrAlreadyProcessed = errors.New("document already processed")

// ErrNoExtractor reports a supported format with no registered extractor,
// typically a binary format whose extractor was not wired in.
var ErrNoExtractor = errors.New("no extractor registered for file type")

// Result summarizes one successful ingestion.
type Result struct {
	DocID  string
	Chunks int
}

// Loader coordinates ingestion across the registry, splitter, and index.
type Loader struct {
	registry   *registry.Registry
	splitter   *chunker.Splitter
	index      *index.Manager
	extractors map[core.FileType]Extractor
	logger     *log.Logger
}

// New builds a loader with the built-in text extractors registered.
func New(reg *registry.Registry, splitter *chunker.Splitter, idx *index.Manager, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.Default().WithPrefix("loader")
	}
	return &Loader{
		registry:   reg,
		splitter:   splitter,
		index:      idx,
		extractors: defaultExtractors(),
		logger:     logger,
	}
}

// RegisterExtractor installs (or replaces) the extractor for a format.
func (l *Loader) RegisterExtractor(ft core.FileType, ex Extractor) {
	l.extractors[ft] = ex
}

// Ingest processes one uploaded document. The filename is the document id;
// re-ingesting a known id returns ErrAlreadyProcessed without touching
// disk, and an unsupported extension is rejected the same way.
func (l *Loader) Ingest(ctx context.Context, filename string, r io.Reader) (*Result, error) {
	docID := filepath.Base(filename)
	ft, ok := core.ParseFileType(filepath.Ext(docID))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Ext(docID))
	}
	if l.registry.IsProcessed(docID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessed, docID)
	}
	extractor, ok := l.extractors[ft]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExtractor, ft)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	savedPath := filepath.Join(l.registry.DocumentsDir(), docID)
	if err := os.WriteFile(savedPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("save document copy: %w", err)
	}

	text, err := extractor.Extract(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", docID, err)
	}

	chunks := l.splitter.Chunk(text, docID, ft)
	if len(chunks) == 0 {
		l.logger.Warn("document produced no chunks", "doc", docID)
	}
	if _, err := l.index.Add(ctx, chunks, nil); err != nil {
		return nil, fmt.Errorf("index %s: %w", docID, err)
	}

	if err := l.registry.Record(docID); err != nil {
		// The chunks are indexed but the record write failed; the next
		// ingest of the same file will re-add them under fresh ids.
		return nil, fmt.Errorf("record %s: %w", docID, err)
	}

	l.logger.Info("document ingested", "doc", docID, "chunks", len(chunks))
	return &Result{DocID: docID, Chunks: len(chunks)}, nil
}

// IngestFile ingests a document from the local filesystem.
func (l *Loader) IngestFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()
	return l.Ingest(ctx, filepath.Base(path), f)
}

// Delete removes a document's vectors, its saved copy, and its record
// entry. It returns the number of vectors removed; zero means the index
// had nothing under that id.
func (l *Loader) Delete(ctx context.Context, docID string) (int, error) {
	removed, err := l.index.DeleteBySource(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("delete %s from index: %w", docID, err)
	}
	if err := l.registry.Delete(docID); err != nil {
		return removed, fmt.Errorf("delete %s from registry: %w", docID, err)
	}
	l.logger.Info("document deleted", "doc", docID, "vectors_removed", removed)
	return removed, nil
}

// Clear drops every document: the index is reset to its bootstrap state
// and the registry record and saved copies are removed.
func (l *Loader) Clear(ctx context.Context) error {
	if err := l.index.Clear(ctx); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	l.registry.ClearAll()
	l.logger.Info("all documents cleared")
	return nil
}

// List returns every processed document id in ingestion order.
func (l *Loader) List() []string {
	return l.registry.ListAll()
}
