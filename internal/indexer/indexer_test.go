package indexer

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/bunsho/internal/embedding"
	"github.com/hyperjump/bunsho/internal/extract"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/storage"
)

type mapFetcher map[string][]byte

func (m mapFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	data, ok := m[url]
	if !ok {
		return nil, fmt.Errorf("%w: GET %s: 404 Not Found", models.ErrTransferFailure, url)
	}
	return data, nil
}

// scriptedEmbedder returns mock vectors, then lets shape rewrite the batch.
type scriptedEmbedder struct {
	mock  *embedding.MockEmbedder
	shape func([][]float32) [][]float32
	calls int
}

func (s *scriptedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	vecs, err := s.mock.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if s.shape != nil {
		vecs = s.shape(vecs)
	}
	return vecs, nil
}

func (s *scriptedEmbedder) ModelName() string { return "scripted" }

type fixture struct {
	store    *storage.SQLiteStorage
	fetcher  mapFetcher
	embedder *scriptedEmbedder
	idx      *Indexer
	session  *models.ChatSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(storage.DriverPure, filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sess := &models.ChatSession{UserID: 1, Title: "New Chat"}
	require.NoError(t, store.CreateSession(context.Background(), sess))

	chunker, err := NewChunker(10, 2)
	require.NoError(t, err)
	f := &fixture{
		store:    store,
		fetcher:  mapFetcher{},
		embedder: &scriptedEmbedder{mock: embedding.NewMockEmbedder(4)},
		session:  sess,
	}
	f.idx = NewIndexer(store, f.fetcher, extract.NewExtractor(extract.WithOCR(nil)), f.embedder, chunker)
	return f
}

func (f *fixture) addFile(t *testing.T, name string, data []byte) *models.File {
	t.Helper()
	url := "http://blobs.test/1/" + name
	file := &models.File{UserID: 1, FileName: name, FileURL: url, FileSize: int64(len(data))}
	require.NoError(t, f.store.CreateFile(context.Background(), file))
	require.NoError(t, f.store.LinkFile(context.Background(), f.session.ID, file.ID))
	f.fetcher[url] = data
	return file
}

func emptyDocx(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>   </w:t></w:r></w:p><w:p/>
<w:tbl><w:tr><w:tc><w:p/></w:tc><w:tc><w:p><w:r><w:t></w:t></w:r></w:p></w:tc></w:tr></w:tbl>
</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestIndex_RoundTrip(t *testing.T) {
	f := newFixture(t)
	text := words(30)
	file := f.addFile(t, "notes.txt", []byte(text))

	n, err := f.idx.Index(context.Background(), f.session.ID, file.ID)
	require.NoError(t, err)

	chunker, _ := NewChunker(10, 2)
	want := chunker.Split(text)
	assert.Equal(t, len(want), n)

	got, err := f.store.GetChunksBySession(context.Background(), f.session.ID)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i, c := range got {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, want[i], c.Text)
		assert.Equal(t, "scripted", c.EmbeddingModel)
		assert.Equal(t, len([]rune(want[i])), c.ChunkSize)
		assert.Equal(t, "notes.txt", c.FileName)
		assert.Len(t, c.Embedding, 4)
	}
}

func TestIndex_EmptyDocxWritesNothing(t *testing.T) {
	f := newFixture(t)
	file := f.addFile(t, "blank.docx", emptyDocx(t))

	_, err := f.idx.Index(context.Background(), f.session.ID, file.ID)
	assert.ErrorIs(t, err, models.ErrExtractionEmpty)
	assert.Zero(t, f.embedder.calls)
	got, _ := f.store.GetChunksByFile(context.Background(), file.ID)
	assert.Empty(t, got)
}

func TestIndex_BatchMismatchWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.embedder.shape = func(v [][]float32) [][]float32 { return v[:len(v)-1] }
	file := f.addFile(t, "notes.md", []byte(words(30)))

	_, err := f.idx.Index(context.Background(), f.session.ID, file.ID)
	assert.ErrorIs(t, err, models.ErrBatchMismatch)
	got, _ := f.store.GetChunksByFile(context.Background(), file.ID)
	assert.Empty(t, got)
}

func TestIndex_SkipsNilEmbedding(t *testing.T) {
	f := newFixture(t)
	f.embedder.shape = func(v [][]float32) [][]float32 {
		v[1] = nil
		return v
	}
	file := f.addFile(t, "notes.txt", []byte(words(30)))

	n, err := f.idx.Index(context.Background(), f.session.ID, file.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	got, _ := f.store.GetChunksByFile(context.Background(), file.ID)
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 2, 3}, []int{got[0].ChunkIndex, got[1].ChunkIndex, got[2].ChunkIndex})
}

func TestIndex_AllEmbeddingsMissing(t *testing.T) {
	f := newFixture(t)
	f.embedder.shape = func(v [][]float32) [][]float32 { return make([][]float32, len(v)) }
	file := f.addFile(t, "notes.txt", []byte(words(12)))

	_, err := f.idx.Index(context.Background(), f.session.ID, file.ID)
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
	got, _ := f.store.GetChunksByFile(context.Background(), file.ID)
	assert.Empty(t, got)
}

func TestIndex_ResolveAndFetchFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.idx.Index(ctx, f.session.ID, 404)
	assert.ErrorIs(t, err, models.ErrNotFound)

	noURL := &models.File{UserID: 1, FileName: "x.txt"}
	require.NoError(t, f.store.CreateFile(ctx, noURL))
	_, err = f.idx.Index(ctx, f.session.ID, noURL.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	gone := f.addFile(t, "gone.txt", []byte("x"))
	delete(f.fetcher, gone.FileURL)
	_, err = f.idx.Index(ctx, f.session.ID, gone.ID)
	assert.ErrorIs(t, err, models.ErrTransferFailure)

	odd := f.addFile(t, "image.png", []byte("\x89PNG"))
	_, err = f.idx.Index(ctx, f.session.ID, odd.ID)
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
	assert.Zero(t, f.embedder.calls)
}

func TestIndex_UnavailableEmbeddingClient(t *testing.T) {
	f := newFixture(t)
	chunker, _ := NewChunker(10, 2)
	client := embedding.NewClient(embedding.NewMockEmbedder(4))
	idx := NewIndexer(f.store, f.fetcher, extract.NewExtractor(extract.WithOCR(nil)), client, chunker)
	file := f.addFile(t, "notes.txt", []byte(words(5)))

	_, err := idx.Index(context.Background(), f.session.ID, file.ID)
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
}

func TestReindex_ReplacesChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.addFile(t, "notes.txt", []byte(words(30)))

	first, err := f.idx.Index(ctx, f.session.ID, file.ID)
	require.NoError(t, err)
	second, err := f.idx.Reindex(ctx, f.session.ID, file.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, _ := f.store.GetChunksByFile(ctx, file.ID)
	assert.Len(t, got, first)

	_, err = f.idx.Reindex(ctx, f.session.ID, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReindex_FailureKeepsExistingChunks(t *testing.T) {
	tests := []struct {
		name string
		fail func(f *fixture, file *models.File)
		want error
	}{
		{
			name: "blob gone",
			fail: func(f *fixture, file *models.File) { delete(f.fetcher, file.FileURL) },
			want: models.ErrTransferFailure,
		},
		{
			name: "embedding client down",
			fail: func(f *fixture, _ *models.File) {
				chunker, _ := NewChunker(10, 2)
				client := embedding.NewClient(embedding.NewMockEmbedder(4))
				f.idx = NewIndexer(f.store, f.fetcher, extract.NewExtractor(extract.WithOCR(nil)), client, chunker)
			},
			want: models.ErrBackendUnavailable,
		},
		{
			name: "embeddings missing",
			fail: func(f *fixture, _ *models.File) {
				f.embedder.shape = func(v [][]float32) [][]float32 { return make([][]float32, len(v)) }
			},
			want: models.ErrBackendUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			file := f.addFile(t, "notes.txt", []byte(words(30)))
			n, err := f.idx.Index(ctx, f.session.ID, file.ID)
			require.NoError(t, err)

			tt.fail(f, file)
			_, err = f.idx.Reindex(ctx, f.session.ID, file.ID)
			assert.ErrorIs(t, err, tt.want)

			got, err := f.store.GetChunksByFile(ctx, file.ID)
			require.NoError(t, err)
			assert.Len(t, got, n)
		})
	}
}

func TestIndexContent_UsesURLExtension(t *testing.T) {
	f := newFixture(t)
	file := &models.File{UserID: 1, FileName: "README", FileURL: "http://blobs.test/1/README.md?v=2"}
	require.NoError(t, f.store.CreateFile(context.Background(), file))

	n, err := f.idx.IndexContent(context.Background(), f.session.ID, file, []byte("# Title\n\nsome body text"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
