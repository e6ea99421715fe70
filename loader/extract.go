package loader

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/inception881/knowledgeGPT/core"
)

// Extractor turns a document's raw bytes into plain text for chunking.
// The loader ships text-based extractors and a pdfcpu-backed PDF one;
// Word formats are registered by the caller.
type Extractor interface {
	Extract(r io.Reader) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(r io.Reader) (string, error)

func (f ExtractorFunc) Extract(r io.Reader) (string, error) { return f(r) }

// PlainText reads the document verbatim. Covers .txt and .md.
func PlainText() Extractor {
	return ExtractorFunc(func(r io.Reader) (string, error) {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read document: %w", err)
		}
		return string(data), nil
	})
}

var (
	htmlScriptRe = regexp.MustCompile(`(?is)<(script|style)\b.*?</(script|style)>`)
	htmlTagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	htmlSpaceRe  = regexp.MustCompile(`[ \t]+`)
)

// HTMLText strips markup and returns the page's visible text. Covers
// .html and .htm; good enough for uploaded documents, not a browser.
func HTMLText() Extractor {
	return ExtractorFunc(func(r io.Reader) (string, error) {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read document: %w", err)
		}
		text := htmlScriptRe.ReplaceAllString(string(data), " ")
		text = htmlTagRe.ReplaceAllString(text, " ")
		text = strings.NewReplacer(
			"&nbsp;", " ",
			"&amp;", "&",
			"&lt;", "<",
			"&gt;", ">",
			"&quot;", `"`,
			"&#39;", "'",
		).Replace(text)
		text = htmlSpaceRe.ReplaceAllString(text, " ")

		lines := strings.Split(text, "\n")
		kept := lines[:0]
		for _, line := range lines {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				kept = append(kept, trimmed)
			}
		}
		return strings.Join(kept, "\n"), nil
	})
}

// defaultExtractors maps each format with a built-in extractor.
func defaultExtractors() map[core.FileType]Extractor {
	plain := PlainText()
	html := HTMLText()
	return map[core.FileType]Extractor{
		core.FileTypeText:     plain,
		core.FileTypeMarkdown: plain,
		core.FileTypeHTML:     html,
		core.FileTypeHTM:      html,
		core.FileTypePDF:      PDFText(),
	}
}
