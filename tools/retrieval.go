// Package tools defines the tools the agent can call during a turn,
// currently document retrieval against the vector index.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/charmbracelet/log"

	"github.com/inception881/knowledgeGPT/core"
	"github.com/inception881/knowledgeGPT/index"
)

// RetrievalToolName is the tool name exposed to the model.
const RetrievalToolName = "retrieve_documents"

const noDocumentsMessage = "No relevant documents found."

// Retrieval searches the document index on behalf of the model. It holds
// no per-conversation state: retrieved chunks are returned to the caller,
// which owns citation tracking for its own turn. One instance is safely
// shared by every session.
type Retrieval struct {
	index  *index.Manager
	k      int
	logger *log.Logger
}

// NewRetrieval builds the retrieval tool over the given index. k is the
// default number of chunks returned per query.
func NewRetrieval(idx *index.Manager, k int, logger *log.Logger) *Retrieval {
	if logger == nil {
		logger = log.Default().WithPrefix("tools")
	}
	return &Retrieval{index: idx, k: k, logger: logger}
}

// Definition returns the tool's schema for the model API.
func (r *Retrieval) Definition() anthropic.ToolUnionParam {
	schema := ObjectSchema(map[string]interface{}{
		"query": StringProperty("The search query to find relevant documents."),
		"top_k": IntegerProperty("Optional: number of passages to return (default: " +
			"the configured result count)."),
	}, "query")

	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name: RetrievalToolName,
			Description: anthropic.String(
				"Search the uploaded documents for content relevant to a query. " +
					"Use this whenever the user's question may be answered by the documents.",
			),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
				Required:   []string{"query"},
			},
		},
	}
}

// Run executes a retrieval query and returns the model-facing result
// string together with the chunks behind it, for citation. k <= 0 uses
// the configured default.
func (r *Retrieval) Run(ctx context.Context, query string, k int) (string, []core.RetrievedChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return noDocumentsMessage, nil, nil
	}
	if k <= 0 {
		k = r.k
	}

	chunks, err := r.index.Retrieve(ctx, query, k)
	if err != nil {
		return "", nil, fmt.Errorf("retrieve documents: %w", err)
	}
	if len(chunks) == 0 {
		r.logger.Debug("retrieval found nothing", "query", query)
		return noDocumentsMessage, nil, nil
	}

	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("<doc>\n%s\n</doc>", c.Chunk.Content)
	}
	r.logger.Info("retrieved documents", "query", query, "chunks", len(chunks))
	return strings.Join(parts, "\n\n"), chunks, nil
}

// Sources returns the distinct source ids of the given chunks, sorted for
// stable output.
func Sources(chunks []core.RetrievedChunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	var sources []string
	for _, c := range chunks {
		if _, ok := seen[c.Chunk.SourceID]; ok {
			continue
		}
		seen[c.Chunk.SourceID] = struct{}{}
		sources = append(sources, c.Chunk.SourceID)
	}
	sort.Strings(sources)
	return sources
}
