package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/blob"
	"github.com/hyperjump/bunsho/internal/models"
)

// UserIDHeader carries the authenticated user's ID, set by the fronting auth layer.
const UserIDHeader = "X-User-ID"

// multipartOverhead is allowed on top of the upload limit for form boundaries and headers.
const multipartOverhead = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "ok",
		"embedding_ready": s.embedding.Ready(),
		"embedding_model": s.embedding.ModelName(),
	}
	paths := []string{s.config.Storage.DatabasePath}
	if s.blobs != nil {
		paths = append(paths, s.blobs.Root())
	}
	if n, err := blob.Usage(paths...); err == nil {
		resp["disk_usage_bytes"] = n
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	sess, err := s.chat.CreateSession(r.Context(), userID, r.URL.Query().Get("title"))
	if err != nil {
		s.fail(w, "create session failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	sessions, err := s.chat.ListSessions(r.Context(), userID)
	if err != nil {
		s.fail(w, "list sessions failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	sess, err := s.chat.GetSession(r.Context(), id)
	if err != nil {
		s.fail(w, "get session failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, sess)
}

type renameRequest struct {
	NewName string `json:"new_name"`
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req renameRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.chat.RenameSession(r.Context(), id, req.NewName)
	if err != nil {
		s.fail(w, "rename session failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	s.logger.Debug("delete session request", zap.Int64("session_id", id))
	if err := s.chat.DeleteSession(r.Context(), id); err != nil {
		s.fail(w, "delete session failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	msgs, err := s.chat.ListMessages(r.Context(), id)
	if err != nil {
		s.fail(w, "list messages failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, msgs)
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !s.decode(w, r, &req) {
		return
	}
	msg, err := s.chat.AddMessage(r.Context(), id, req.Role, req.Content)
	if err != nil {
		s.fail(w, "add message failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	files, err := s.chat.ListFiles(r.Context(), id)
	if err != nil {
		s.fail(w, "list files failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, files)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	limit := s.config.Server.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file too large, maximum allowed size is %d MB", limit>>20))
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	part, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, `multipart field "file" is required`)
		return
	}
	defer part.Close()
	data, err := io.ReadAll(io.LimitReader(part, limit+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	s.logger.Debug("upload request",
		zap.Int64("session_id", sessionID), zap.String("filename", header.Filename), zap.Int("bytes", len(data)))
	file, err := s.chat.Upload(r.Context(), userID, sessionID, header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		s.fail(w, "upload failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, file)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req models.ProcessRequest
	if !s.decode(w, r, &req) {
		return
	}
	answer, err := s.chat.Answer(r.Context(), id, req.UserMessage)
	if err != nil {
		s.fail(w, "process message failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, answer)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var query models.SearchQuery
	if !s.decode(w, r, &query) {
		return
	}
	s.logger.Debug("search request", zap.Int64("session_id", id), zap.String("query", query.Query), zap.Int("top_k", query.TopK))
	response, err := s.chat.Search(r.Context(), id, &query)
	if err != nil {
		s.fail(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	file, err := s.chat.GetFile(r.Context(), id)
	if err != nil {
		s.fail(w, "get file failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, file)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.chat.DeleteFile(r.Context(), id); err != nil {
		s.fail(w, "delete file failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	fileID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	sessionID, err := strconv.ParseInt(r.URL.Query().Get("session_id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "session_id query parameter is required")
		return
	}
	n, err := s.chat.Reindex(r.Context(), sessionID, fileID)
	if err != nil {
		s.fail(w, "reindex failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"file_id": fileID, "chunks": n, "status": "indexed"})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (s *Server) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.Header.Get(UserIDHeader))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusUnauthorized, "missing or invalid "+UserIDHeader+" header")
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// fail logs err and writes the mapped status. Server-side failures log at Error.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, message)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
