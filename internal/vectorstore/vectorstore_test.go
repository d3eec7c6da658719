package vectorstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, dim int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vectors.db"), NewHashEmbedder(dim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDimensionLockedOnFirstInsert(t *testing.T) {
	s := newTestStore(t, 384)
	ctx := context.Background()

	_, err := s.InsertMemory(ctx, "remember this", "note", "test")
	require.NoError(t, err)
	require.Equal(t, 384, s.Dimension())
}

func TestDimensionMismatchRejected(t *testing.T) {
	fixedEmbedder := &fixedDimEmbedder{dims: []int{384, 512}}
	s, err := Open(filepath.Join(t.TempDir(), "vectors.db"), fixedEmbedder)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, err = s.InsertMemory(ctx, "first", "note", "test")
	require.NoError(t, err)
	require.Equal(t, 384, s.Dimension())

	var before int
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM memories`).Scan(&before))
	require.Equal(t, 1, before)

	_, err = s.InsertMemory(ctx, "second", "note", "test")
	require.ErrorIs(t, err, ErrDimensionMismatch)

	var after int
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM memories`).Scan(&after))
	require.Equal(t, 1, after, "mismatched insert must not persist a row")
}

type fixedDimEmbedder struct {
	dims []int
	i    int
}

func (f *fixedDimEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	d := f.dims[f.i]
	if f.i < len(f.dims)-1 {
		f.i++
	}
	return make([]float32, d), nil
}

func (f *fixedDimEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func TestSearchMergesAcrossTablesAndSkipsMissing(t *testing.T) {
	s := newTestStore(t, 32)
	ctx := context.Background()

	_, err := s.InsertMemory(ctx, "the quick brown fox jumps", "note", "test")
	require.NoError(t, err)

	results, err := s.Search(ctx, "the quick brown fox jumps", TableAll, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, TableMemories, results[0].Table)
}

func TestChunkTextTargetsSizeWithOverlap(t *testing.T) {
	var builder []byte
	for i := 0; i < 50; i++ {
		builder = append(builder, []byte("this is a paragraph of sample text that repeats many words.\n\n")...)
	}
	chunks := ChunkText(string(builder))
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.LessOrEqual(t, len(c.Content), targetChunkSize+chunkOverlap+200)
	}
}

func TestDetectFileType(t *testing.T) {
	require.Equal(t, FileTypePDF, DetectFileType("doc.pdf"))
	require.Equal(t, FileTypeMarkdown, DetectFileType("notes.md"))
	require.Equal(t, FileTypeCode, DetectFileType("main.go"))
	require.Equal(t, FileTypeText, DetectFileType("plain.txt"))
}

func TestUnsupportedPDFExtractorSkipsWithError(t *testing.T) {
	_, err := UnsupportedPDFExtractor{}.ExtractPages("whatever.pdf")
	require.Error(t, err)
}

// countingEmbedder wraps HashEmbedder, recording how many times each
// entry point is hit so tests can assert ingest batches its chunks.
type countingEmbedder struct {
	inner      *HashEmbedder
	embeds     int
	batchCalls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embeds++
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchCalls++
	return c.inner.EmbedBatch(ctx, texts)
}

func TestIngestFileEmbedsAllChunksInOneBatchCall(t *testing.T) {
	embedder := &countingEmbedder{inner: NewHashEmbedder(32)}
	s, err := Open(filepath.Join(t.TempDir(), "vectors.db"), embedder)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	var doc []byte
	for i := 0; i < 50; i++ {
		doc = append(doc, []byte("this paragraph pads the document out far enough to split into several chunks.\n\n")...)
	}
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, doc, 0644))

	inserted, err := s.IngestFile(ctx, path, UnsupportedPDFExtractor{})
	require.NoError(t, err)
	require.Greater(t, inserted, 1, "fixture must chunk into more than one piece")

	require.Equal(t, 1, embedder.batchCalls, "every chunk of a file must be embedded in a single batch call")
	require.Equal(t, 0, embedder.embeds, "ingest must not fall back to per-chunk Embed calls")

	var rows int
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM documents`).Scan(&rows))
	require.Equal(t, inserted, rows)
}
