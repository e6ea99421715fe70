package loader

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFText extracts page text with pdfcpu. pdfcpu's API works on files and
// has no direct text extraction, so the document is staged to a temp file,
// its page content streams are extracted to a temp directory, and the
// per-page files are concatenated in page order.
func PDFText() Extractor {
	return ExtractorFunc(func(r io.Reader) (string, error) {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read document: %w", err)
		}

		tmp, err := os.CreateTemp("", "ingest-*.pdf")
		if err != nil {
			return "", fmt.Errorf("stage pdf: %w", err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return "", fmt.Errorf("stage pdf: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return "", fmt.Errorf("stage pdf: %w", err)
		}

		pdfCtx, err := api.ReadContextFile(tmp.Name())
		if err != nil {
			return "", fmt.Errorf("read pdf: %w", err)
		}

		outDir, err := os.MkdirTemp("", "ingest-pdf-pages-")
		if err != nil {
			return "", fmt.Errorf("stage pdf pages: %w", err)
		}
		defer os.RemoveAll(outDir)

		conf := model.NewDefaultConfiguration()
		if err := api.ExtractContentFile(tmp.Name(), outDir, nil, conf); err != nil {
			return "", fmt.Errorf("extract pdf content: %w", err)
		}

		entries, err := os.ReadDir(outDir)
		if err != nil {
			return "", fmt.Errorf("read extracted pages: %w", err)
		}
		pageTexts := make(map[int]string, pdfCtx.PageCount)
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			var pageNum int
			if _, err := fmt.Sscanf(entry.Name(), "Content_page_%d", &pageNum); err != nil {
				continue
			}
			content, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
			if err != nil {
				return "", fmt.Errorf("read extracted page %d: %w", pageNum, err)
			}
			pageTexts[pageNum] = string(content)
		}

		var pages []string
		for pageNum := 1; pageNum <= pdfCtx.PageCount; pageNum++ {
			if text := strings.TrimSpace(pageTexts[pageNum]); text != "" {
				pages = append(pages, text)
			}
		}
		return strings.Join(pages, "\n\n"), nil
	})
}
