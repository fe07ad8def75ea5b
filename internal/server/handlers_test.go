package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/bunsho/internal/blob"
	"github.com/hyperjump/bunsho/internal/chat"
	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/embedding"
	"github.com/hyperjump/bunsho/internal/extract"
	"github.com/hyperjump/bunsho/internal/indexer"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/search"
	"github.com/hyperjump/bunsho/internal/storage"
)

type stubCompleter struct{ prompt string }

func (s *stubCompleter) Complete(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return "From notes.txt: bunsho indexes documents.", nil
}

type testAPI struct {
	url       string
	completer *stubCompleter
}

// newTestAPI serves the full stack over a real listener so blob URLs resolve.
func newTestAPI(t *testing.T, maxUploadMB int) *testAPI {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.DatabasePath = filepath.Join(dir, "db.sqlite")
	cfg.Storage.BlobDir = filepath.Join(dir, "blobs")
	cfg.Server.MaxUploadMB = maxUploadMB
	config.ApplyDefaults(cfg)

	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	store, err := storage.NewSQLiteStorage(storage.DriverPure, cfg.Storage.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	blobs, err := blob.NewDiskStore(cfg.Storage.BlobDir, ts.URL)
	require.NoError(t, err)

	client := embedding.NewClient(embedding.NewMockEmbedder(16), embedding.WithRetry(1, 0))
	require.True(t, client.Connect(context.Background()))
	chunker, err := indexer.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	require.NoError(t, err)
	idx := indexer.NewIndexer(store, blob.NewHTTPFetcher(0, 0), extract.NewExtractor(extract.WithOCR(nil)), client, chunker)
	engine := search.NewEngine(client, search.NewRetriever(store))
	completer := &stubCompleter{}
	svc := chat.NewService(store, blobs, idx, engine, completer, chat.WithMaxUploadBytes(cfg.Server.MaxUploadBytes()))

	handler = NewServer(svc, client, blobs, cfg, nil).Routes()
	return &testAPI{url: ts.URL, completer: completer}
}

func (a *testAPI) do(t *testing.T, method, path string, body io.Reader, header map[string]string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, a.url+path, body)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (a *testAPI) doJSON(t *testing.T, method, path string, payload interface{}, user int64) (int, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	header := map[string]string{"Content-Type": "application/json"}
	if user > 0 {
		header[UserIDHeader] = fmt.Sprint(user)
	}
	return a.do(t, method, path, body, header)
}

func (a *testAPI) upload(t *testing.T, sessionID, user int64, name string, content []byte) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return a.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%d/upload", sessionID), &buf, map[string]string{
		"Content-Type": mw.FormDataContentType(),
		UserIDHeader:   fmt.Sprint(user),
	})
}

func (a *testAPI) createSession(t *testing.T, user int64) *models.ChatSession {
	t.Helper()
	code, body := a.doJSON(t, http.MethodPost, "/api/v1/sessions?title=Docs", nil, user)
	require.Equal(t, http.StatusOK, code, string(body))
	var sess models.ChatSession
	require.NoError(t, json.Unmarshal(body, &sess))
	return &sess
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, 20)
	code, body := api.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, true, out["embedding_ready"])
	assert.Equal(t, "mock", out["embedding_model"])
}

func TestSessionLifecycle(t *testing.T) {
	api := newTestAPI(t, 20)

	code, _ := api.doJSON(t, http.MethodPost, "/api/v1/sessions", nil, 0)
	assert.Equal(t, http.StatusUnauthorized, code)

	sess := api.createSession(t, 3)
	assert.Equal(t, "Docs", sess.Title)

	code, body := api.doJSON(t, http.MethodGet, "/api/v1/sessions", nil, 3)
	require.Equal(t, http.StatusOK, code)
	var list []models.ChatSession
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	code, _ = api.doJSON(t, http.MethodPut, fmt.Sprintf("/api/v1/sessions/%d/rename", sess.ID), map[string]string{"new_name": " "}, 0)
	assert.Equal(t, http.StatusBadRequest, code)
	code, body = api.doJSON(t, http.MethodPut, fmt.Sprintf("/api/v1/sessions/%d/rename", sess.ID), map[string]string{"new_name": "Renamed"}, 0)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"title":"Renamed"`)

	code, _ = api.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%d/messages", sess.ID),
		map[string]string{"role": "user", "content": "hello"}, 0)
	assert.Equal(t, http.StatusCreated, code)
	code, body = api.doJSON(t, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%d/messages", sess.ID), nil, 0)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"message":"hello"`)

	code, _ = api.doJSON(t, http.MethodDelete, fmt.Sprintf("/api/v1/sessions/%d", sess.ID), nil, 0)
	assert.Equal(t, http.StatusOK, code)
	code, body = api.doJSON(t, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%d", sess.ID), nil, 0)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, string(body), `"error"`)

	code, _ = api.doJSON(t, http.MethodGet, "/api/v1/sessions/abc", nil, 0)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUploadSearchProcessReindex(t *testing.T) {
	api := newTestAPI(t, 20)
	sess := api.createSession(t, 5)

	code, body := api.upload(t, sess.ID, 5, "notes.txt", []byte("bunsho indexes uploaded documents into searchable chunks"))
	require.Equal(t, http.StatusCreated, code, string(body))
	var file models.File
	require.NoError(t, json.Unmarshal(body, &file))
	assert.Equal(t, "notes.txt", file.FileName)
	assert.True(t, strings.HasPrefix(file.FileURL, api.url+"/blobs/5/notes.txt"))

	code, body = api.do(t, http.MethodGet, "/blobs/5/notes.txt", nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "bunsho indexes")

	code, body = api.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%d/search", sess.ID),
		map[string]interface{}{"query": "bunsho indexes uploaded documents into searchable chunks", "top_k": 3}, 0)
	require.Equal(t, http.StatusOK, code, string(body))
	var resp models.SearchResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Len(t, resp.Results, 1)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-5)

	code, body = api.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%d/process", sess.ID),
		map[string]string{"user_message": "what does bunsho do?"}, 0)
	require.Equal(t, http.StatusOK, code, string(body))
	var answer models.Answer
	require.NoError(t, json.Unmarshal(body, &answer))
	assert.Equal(t, "From notes.txt: bunsho indexes documents.", answer.Answer)
	assert.Contains(t, api.completer.prompt, "[From notes.txt]:")

	code, body = api.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/files/%d/reindex?session_id=%d", file.ID, sess.ID), nil, 0)
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Contains(t, string(body), `"chunks":1`)

	code, _ = api.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/files/%d/reindex", file.ID), nil, 0)
	assert.Equal(t, http.StatusBadRequest, code)

	other := api.createSession(t, 6)
	code, _ = api.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/files/%d/reindex?session_id=%d", file.ID, other.ID), nil, 0)
	assert.Equal(t, http.StatusNotFound, code)
	code, body = api.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%d/search", other.ID),
		map[string]interface{}{"query": "bunsho indexes uploaded documents into searchable chunks"}, 0)
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Contains(t, string(body), `"results":[]`)
	code, body = api.doJSON(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%d/search", sess.ID),
		map[string]interface{}{"query": "bunsho indexes uploaded documents into searchable chunks"}, 0)
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Contains(t, string(body), `"rank":1`)

	code, body = api.doJSON(t, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%d/files", sess.ID), nil, 0)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"filename":"notes.txt"`)

	code, _ = api.doJSON(t, http.MethodDelete, fmt.Sprintf("/api/v1/files/%d", file.ID), nil, 0)
	assert.Equal(t, http.StatusOK, code)
	code, _ = api.doJSON(t, http.MethodGet, fmt.Sprintf("/api/v1/files/%d", file.ID), nil, 0)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUploadErrors(t *testing.T) {
	api := newTestAPI(t, 1)
	sess := api.createSession(t, 5)

	code, _ := api.upload(t, sess.ID, 5, "image.png", []byte("png"))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = api.upload(t, sess.ID, 5, "empty.txt", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := api.upload(t, sess.ID, 5, "big.txt", bytes.Repeat([]byte("a "), 1<<19+100))
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.Contains(t, string(body), "maximum allowed size is 1 MB")

	code, body = api.upload(t, sess.ID, 5, "blank.md", []byte("   "))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, string(body), "failed to index file")

	code, _ = api.upload(t, 999, 5, "a.txt", []byte("x"))
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		message string
	}{
		{fmt.Errorf("%w: session 4", models.ErrNotFound), http.StatusNotFound, "not found: session 4"},
		{models.ErrUnsupportedFormat, http.StatusBadRequest, ""},
		{models.ErrExtractionEmpty, http.StatusBadRequest, ""},
		{models.ErrInvalidInput, http.StatusBadRequest, ""},
		{models.ErrTooLarge, http.StatusRequestEntityTooLarge, ""},
		{fmt.Errorf("%w: dial tcp: refused", models.ErrBackendUnavailable), http.StatusInternalServerError, "service temporarily unavailable"},
		{models.ErrPersistenceFailure, http.StatusInternalServerError, "internal server error"},
		{models.ErrBatchMismatch, http.StatusInternalServerError, "internal server error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal server error"},
		{fmt.Errorf("%w: %w", chat.ErrIndexing, models.ErrExtractionEmpty), http.StatusInternalServerError, "failed to index file"},
	}
	for _, tt := range tests {
		status, message := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		if tt.message != "" {
			assert.Equal(t, tt.message, message)
		}
	}
}
