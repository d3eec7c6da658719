package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileType classifies an ingested file for chunking purposes.
type FileType string

const (
	FileTypePDF      FileType = "pdf"
	FileTypeMarkdown FileType = "markdown"
	FileTypeCode     FileType = "code"
	FileTypeText     FileType = "text"
)

var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".rs": true,
	".java": true, ".c": true, ".cpp": true, ".rb": true, ".sh": true,
}

// DetectFileType classifies path by extension.
func DetectFileType(path string) FileType {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		return FileTypePDF
	case ".md", ".markdown":
		return FileTypeMarkdown
	default:
		if codeExtensions[ext] {
			return FileTypeCode
		}
		return FileTypeText
	}
}

// PDFExtractor extracts page text from a PDF file. The only shipped
// implementation is UnsupportedPDFExtractor; this interface is the seam
// a real extractor plugs into.
type PDFExtractor interface {
	ExtractPages(path string) ([]string, error)
}

// UnsupportedPDFExtractor reports every PDF page as a skipped extraction
// failure.
type UnsupportedPDFExtractor struct{}

func (UnsupportedPDFExtractor) ExtractPages(path string) ([]string, error) {
	return nil, fmt.Errorf("vectorstore: pdf text extraction unsupported for %s", path)
}

const (
	targetChunkSize = 2048
	chunkOverlap    = 200
)

// Chunk is one segment produced by ChunkText, ready to embed.
type Chunk struct {
	Content string
	Index   int
}

// splitParagraphs breaks text on blank-line boundaries, the paragraph
// rule applied uniformly to code, markdown, and plain text.
func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	var out []string
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ChunkText merges adjacent paragraphs into chunks targeting
// targetChunkSize characters with chunkOverlap characters of overlap that
// backs up to the nearest word boundary.
func ChunkText(text string) []Chunk {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []Chunk
	var builder strings.Builder
	for _, p := range paragraphs {
		if builder.Len() > 0 && builder.Len()+2+len(p) > targetChunkSize {
			chunks = append(chunks, Chunk{Content: builder.String(), Index: len(chunks)})
			overlap := trailingOverlap(builder.String(), chunkOverlap)
			builder.Reset()
			builder.WriteString(overlap)
			if builder.Len() > 0 {
				builder.WriteString("\n\n")
			}
		}
		builder.WriteString(p)
		builder.WriteString("\n\n")
	}
	if strings.TrimSpace(builder.String()) != "" {
		chunks = append(chunks, Chunk{Content: strings.TrimSpace(builder.String()), Index: len(chunks)})
	}
	for i := range chunks {
		chunks[i].Content = strings.TrimSpace(chunks[i].Content)
	}
	return chunks
}

// trailingOverlap returns up to n trailing characters of s, backed up to
// the nearest preceding word boundary so overlap never splits a word.
func trailingOverlap(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	if idx := strings.LastIndexByte(s[:start], ' '); idx >= 0 {
		start = idx + 1
	}
	return s[start:]
}

// ReadAndChunkFile reads path, extracts text according to its detected
// type, and splits it into chunks. PDFs go through the extractor; other
// file types are read whole.
func ReadAndChunkFile(path string, pdf PDFExtractor) (FileType, []Chunk, error) {
	fileType := DetectFileType(path)

	if fileType == FileTypePDF {
		pages, err := pdf.ExtractPages(path)
		if err != nil {
			return fileType, nil, fmt.Errorf("vectorstore: extract pdf %s: %w", path, err)
		}
		return fileType, ChunkText(strings.Join(pages, "\n\n")), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileType, nil, fmt.Errorf("vectorstore: read %s: %w", path, err)
	}
	return fileType, ChunkText(string(data)), nil
}

// IngestFile runs the file ingest pipeline:
// read, type-detect, extract, chunk, embed the chunks in one batch, and
// insert the resulting rows into `documents`.
func (s *Store) IngestFile(ctx context.Context, path string, pdf PDFExtractor) (int, error) {
	fileType, chunks, err := ReadAndChunkFile(path, pdf)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: embed %d chunks of %s: %w", len(chunks), path, err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("vectorstore: embed batch for %s returned %d vectors for %d chunks", path, len(embeddings), len(chunks))
	}
	for _, embedding := range embeddings {
		if err := s.lockDimension(embedding); err != nil {
			return 0, err
		}
	}

	if err := s.ensureDocumentsTable(); err != nil {
		return 0, err
	}

	inserted := 0
	for i, chunk := range chunks {
		id := uuid.NewString()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO documents (id, content, vector, file_path, file_type, chunk_index) VALUES (?, ?, ?, ?, ?, ?)`,
			id, chunk.Content, encodeVector(embeddings[i]), path, string(fileType), chunk.Index,
		)
		if err != nil {
			return inserted, fmt.Errorf("vectorstore: insert chunk %d of %s: %w", chunk.Index, path, err)
		}
		inserted++
	}
	return inserted, nil
}
