// Package core contains the shared domain types of the assistant:
// document chunks produced by ingestion, retrieval results, and the
// typed conversation turns exchanged with the model.
package core

import "strings"

// FileType identifies the format a source document was uploaded in.
type FileType string

const (
	FileTypePDF      FileType = ".pdf"
	FileTypeDocx     FileType = ".docx"
	FileTypeDoc      FileType = ".doc"
	FileTypeText     FileType = ".txt"
	FileTypeHTML     FileType = ".html"
	FileTypeHTM      FileType = ".htm"
	FileTypeMarkdown FileType = ".md"
)

// SupportedFileTypes lists every extension the ingestion contract accepts.
// Anything else is rejected before a single byte is written to disk.
var SupportedFileTypes = []FileType{
	FileTypePDF,
	FileTypeDocx,
	FileTypeDoc,
	FileTypeText,
	FileTypeHTML,
	FileTypeHTM,
	FileTypeMarkdown,
}

// ParseFileType maps a filename extension (case-insensitive) to a FileType.
// The second return value reports whether the extension is supported.
func ParseFileType(ext string) (FileType, bool) {
	ft := FileType(strings.ToLower(ext))
	for _, supported := range SupportedFileTypes {
		if ft == supported {
			return ft, true
		}
	}
	return "", false
}

// DocumentChunk is a bounded span of a source document's text, the unit
// indexed for retrieval. Chunks are produced by the splitter and are
// immutable once created.
type DocumentChunk struct {
	// Content is the chunk's text.
	Content string `json:"content"`

	// SourceID is the originating document identifier (the filename).
	// It becomes the prefix of the indexed vector id, so deletion by
	// source depends on it.
	SourceID string `json:"source_id"`

	// FileType is the source document's format.
	FileType FileType `json:"file_type"`

	// Sequence is the chunk's ordinal position within the document.
	Sequence int `json:"sequence"`
}

// RetrievedChunk is a chunk returned from a similarity search together
// with its vector id and score.
type RetrievedChunk struct {
	ID    string
	Chunk DocumentChunk

	// Score is the cosine similarity to the query, higher is better.
	Score float32
}
