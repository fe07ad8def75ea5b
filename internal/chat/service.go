// Package chat implements chat sessions over uploaded documents: session and message
// bookkeeping, upload-and-index, and grounded answers.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/blob"
	"github.com/hyperjump/bunsho/internal/extract"
	"github.com/hyperjump/bunsho/internal/fileid"
	"github.com/hyperjump/bunsho/internal/indexer"
	"github.com/hyperjump/bunsho/internal/llm"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/search"
	"github.com/hyperjump/bunsho/internal/storage"
	"github.com/hyperjump/bunsho/pkg/utils"
)

// DefaultSessionTitle names sessions created without a title.
const DefaultSessionTitle = "New Chat"

// Defaults for answers and uploads.
const (
	DefaultAnswerTopK     = 3
	DefaultMaxUploadBytes = 20 << 20
)

// ErrIndexing marks an upload whose file was stored but could not be indexed.
var ErrIndexing = errors.New("failed to index file")

// Service wires the store, blob store, indexer, search engine, and completion client.
type Service struct {
	store          storage.Store
	blobs          blob.Store
	indexer        *indexer.Indexer
	engine         *search.Engine
	completer      llm.Completer
	answerTopK     int
	maxUploadBytes int64
	logger         *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithAnswerTopK sets how many chunks ground an answer.
func WithAnswerTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.answerTopK = k
		}
	}
}

// WithMaxUploadBytes sets the upload size limit.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a chat service.
func NewService(
	store storage.Store,
	blobs blob.Store,
	idx *indexer.Indexer,
	engine *search.Engine,
	completer llm.Completer,
	opts ...Option,
) *Service {
	s := &Service{
		store:          store,
		blobs:          blobs,
		indexer:        idx,
		engine:         engine,
		completer:      completer,
		answerTopK:     DefaultAnswerTopK,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s
}

// CreateSession returns the user's existing session without files if there is one;
// otherwise it creates a new session titled title (DefaultSessionTitle when blank).
func (s *Service) CreateSession(ctx context.Context, userID int64, title string) (*models.ChatSession, error) {
	existing, err := s.store.FindEmptySession(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultSessionTitle
	}
	sess := &models.ChatSession{UserID: userID, Title: title}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Debug("created session", zap.Int64("session_id", sess.ID), zap.Int64("user_id", userID))
	return sess, nil
}

// ListSessions returns the user's sessions, most recent first.
func (s *Service) ListSessions(ctx context.Context, userID int64) ([]*models.ChatSession, error) {
	sessions, err := s.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []*models.ChatSession{}
	}
	return sessions, nil
}

// GetSession returns a session or models.ErrNotFound.
func (s *Service) GetSession(ctx context.Context, id int64) (*models.ChatSession, error) {
	return s.store.GetSession(ctx, id)
}

// RenameSession sets a new non-blank title.
func (s *Service) RenameSession(ctx context.Context, id int64, name string) (*models.ChatSession, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: session name cannot be empty", models.ErrInvalidInput)
	}
	return s.store.RenameSession(ctx, id, name)
}

// DeleteSession removes a session with its files, messages, and chunks.
func (s *Service) DeleteSession(ctx context.Context, id int64) error {
	return s.store.DeleteSession(ctx, id)
}

// AddMessage appends a message with role "user" or "bot".
func (s *Service) AddMessage(ctx context.Context, sessionID int64, role, content string) (*models.ChatMessage, error) {
	if role != models.RoleUser && role != models.RoleBot {
		return nil, fmt.Errorf("%w: role must be %q or %q", models.ErrInvalidInput, models.RoleUser, models.RoleBot)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message content cannot be empty", models.ErrInvalidInput)
	}
	msg := &models.ChatMessage{SessionID: sessionID, Role: role, Content: content}
	if err := s.store.AddMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns a session's messages in order.
func (s *Service) ListMessages(ctx context.Context, sessionID int64) ([]*models.ChatMessage, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []*models.ChatMessage{}
	}
	return msgs, nil
}

// ListFiles returns the files linked to a session.
func (s *Service) ListFiles(ctx context.Context, sessionID int64) ([]*models.File, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	files, err := s.store.ListFiles(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []*models.File{}
	}
	return files, nil
}

// GetFile returns a file record or models.ErrNotFound.
func (s *Service) GetFile(ctx context.Context, fileID int64) (*models.File, error) {
	return s.store.GetFile(ctx, fileID)
}

// DeleteFile removes a file record together with its chunks and session links.
// The blob is kept: a later upload of the same name by the same user reuses its key.
func (s *Service) DeleteFile(ctx context.Context, fileID int64) error {
	return s.store.DeleteFile(ctx, fileID)
}

// Upload stores data as a new file of the session and indexes it. When indexing fails the
// file record and link remain and the returned error wraps ErrIndexing.
func (s *Service) Upload(ctx context.Context, userID, sessionID int64, filename, contentType string, data []byte) (*models.File, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file upload", models.ErrInvalidInput)
	}
	if int64(len(data)) > s.maxUploadBytes {
		return nil, fmt.Errorf("%w: file too large, maximum allowed size is %d MB",
			models.ErrTooLarge, s.maxUploadBytes>>20)
	}
	name := fileid.BaseName(filename)
	if ext := extract.ExtensionOf(name); !extract.Supported(ext) {
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, ext)
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	url, err := s.blobs.Put(ctx, fileid.BlobKey(userID, name), data, contentType)
	if err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}
	file := &models.File{
		UserID:   userID,
		FileName: name,
		FileURL:  url,
		FileType: contentType,
		FileSize: int64(len(data)),
	}
	if err := s.store.CreateFile(ctx, file); err != nil {
		return nil, err
	}
	if err := s.store.LinkFile(ctx, sessionID, file.ID); err != nil {
		return nil, fmt.Errorf("link file to session: %w", err)
	}

	n, err := s.indexer.IndexContent(ctx, sessionID, file, data)
	if err != nil {
		s.logger.Error("indexing failed",
			zap.Int64("session_id", sessionID), zap.Int64("file_id", file.ID), zap.Error(err))
		return file, fmt.Errorf("%w: %w", ErrIndexing, err)
	}
	s.logger.Info("file uploaded",
		zap.Int64("session_id", sessionID), zap.Int64("file_id", file.ID), zap.Int("chunks", n))
	return file, nil
}

// Reindex drops a file's chunks and indexes it again from its stored blob. The file
// must be linked to sessionID; otherwise models.ErrNotFound is returned and nothing changes.
func (s *Service) Reindex(ctx context.Context, sessionID, fileID int64) (int, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return 0, err
	}
	linked, err := s.store.IsFileLinked(ctx, sessionID, fileID)
	if err != nil {
		return 0, fmt.Errorf("check file link: %w", err)
	}
	if !linked {
		return 0, fmt.Errorf("%w: file %d in session %d", models.ErrNotFound, fileID, sessionID)
	}
	return s.indexer.Reindex(ctx, sessionID, fileID)
}

// Search ranks the session's chunks against query.
func (s *Service) Search(ctx context.Context, sessionID int64, query *models.SearchQuery) (*models.SearchResponse, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.engine.Search(ctx, sessionID, query)
}

// Answer retrieves the chunks most similar to message, asks the completion service
// for a grounded reply, and stores the reply as a bot message.
func (s *Service) Answer(ctx context.Context, sessionID int64, message string) (*models.Answer, error) {
	req := &models.ProcessRequest{UserMessage: message}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	resp, err := s.engine.Search(ctx, sessionID, &models.SearchQuery{Query: req.UserMessage, TopK: s.answerTopK})
	if err != nil {
		return nil, err
	}
	prompt := BuildPrompt(req.UserMessage, resp.Results)
	reply, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: completion: %w", models.ErrBackendUnavailable, err)
	}
	if reply == "" {
		return nil, fmt.Errorf("%w: completion returned an empty answer", models.ErrBackendUnavailable)
	}

	msg, err := s.AddMessage(ctx, sessionID, models.RoleBot, reply)
	if err != nil {
		return nil, fmt.Errorf("store answer: %w", err)
	}
	return &models.Answer{
		SessionID:   sessionID,
		MessageID:   msg.ID,
		UserMessage: req.UserMessage,
		Answer:      reply,
		Sources:     resp.Results,
	}, nil
}
