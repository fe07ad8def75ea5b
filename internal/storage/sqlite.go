package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/pkg/utils"
)

// Supported database/sql driver names.
const (
	DriverCGO  = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPure = "sqlite"  // modernc.org/sqlite
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

//go:embed schema.sql
var schemaSQL string

// SQLiteStorage implements Store using SQLite through either supported driver.
type SQLiteStorage struct {
	db        *sql.DB
	driver    string
	embedding *gojsonschema.Schema
	logger    *zap.Logger
}

// Option configures SQLiteStorage.
type Option func(*SQLiteStorage)

// WithLogger sets the logger used for rows skipped on read.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteStorage) { s.logger = l }
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(driver, dbPath string, opts ...Option) (*SQLiteStorage, error) {
	if driver == "" {
		driver = DriverCGO
	}
	dsn, err := dataSourceName(driver, dbPath)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(embeddingSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile embedding schema: %w", err)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStorage{db: db, driver: driver, embedding: schema}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s, nil
}

// dataSourceName enables WAL, a busy timeout, and foreign keys on every pooled connection.
func dataSourceName(driver, path string) (string, error) {
	switch driver {
	case DriverCGO:
		return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", nil
	case DriverPure:
		return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}
}

// Driver returns the database/sql driver name in use.
func (s *SQLiteStorage) Driver() string {
	return s.driver
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("%w: %s %d", models.ErrNotFound, kind, id)
}

// CreateSession inserts session and sets its ID and timestamps.
func (s *SQLiteStorage) CreateSession(ctx context.Context, session *models.ChatSession) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		session.UserID, session.Title, formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	session.ID = id
	session.CreatedAt = now
	session.UpdatedAt = now
	return nil
}

const sessionColumns = `id, user_id, title, created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*models.ChatSession, error) {
	var sess models.ChatSession
	var created, updated string
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &created, &updated); err != nil {
		return nil, err
	}
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return &sess, nil
}

// GetSession returns a session by ID.
func (s *SQLiteStorage) GetSession(ctx context.Context, id int64) (*models.ChatSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("session", id)
	}
	return sess, err
}

// ListSessions returns the user's sessions, most recently updated first.
func (s *SQLiteStorage) ListSessions(ctx context.Context, userID int64) ([]*models.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE user_id = ? ORDER BY updated_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.ChatSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// FindEmptySession returns the user's oldest session with no linked file, or ErrNotFound.
func (s *SQLiteStorage) FindEmptySession(ctx context.Context, userID int64) (*models.ChatSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions cs
		 WHERE cs.user_id = ?
		   AND NOT EXISTS (SELECT 1 FROM session_files sf WHERE sf.session_id = cs.id)
		 ORDER BY cs.id LIMIT 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no empty session for user %d", models.ErrNotFound, userID)
	}
	return sess, err
}

// RenameSession updates the title and returns the updated session.
func (s *SQLiteStorage) RenameSession(ctx context.Context, id int64, title string) (*models.ChatSession, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET title = ?, updated_at = ? WHERE id = ?`,
		title, formatTime(time.Now()), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, notFound("session", id)
	}
	return s.GetSession(ctx, id)
}

// DeleteSession removes the session and the files linked to it. Messages, links, and
// chunks go with them through ON DELETE CASCADE.
func (s *SQLiteStorage) DeleteSession(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM files WHERE id IN (SELECT file_id FROM session_files WHERE session_id = ?)`, id); err != nil {
		return fmt.Errorf("delete session files: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("session", id)
	}
	return tx.Commit()
}

// AddMessage inserts msg and bumps the session's updated_at.
func (s *SQLiteStorage) AddMessage(ctx context.Context, msg *models.ChatMessage) error {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, formatTime(now), msg.SessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("session", msg.SessionID)
	}
	res, err = tx.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, role, message, created_at) VALUES (?, ?, ?, ?)`,
		msg.SessionID, msg.Role, msg.Content, formatTime(now))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	msg.CreatedAt = now
	return tx.Commit()
}

// ListMessages returns the session's messages in insertion order.
func (s *SQLiteStorage) ListMessages(ctx context.Context, sessionID int64) ([]*models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, message, created_at FROM chat_messages WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var created string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(created)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// CreateFile inserts a file record and sets its ID.
func (s *SQLiteStorage) CreateFile(ctx context.Context, file *models.File) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO files (user_id, filename, file_url, file_type, file_size, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		file.UserID, file.FileName, file.FileURL, file.FileType, file.FileSize, formatTime(now))
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	if file.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	file.CreatedAt = now
	return nil
}

const fileColumns = `f.id, f.user_id, f.filename, f.file_url, f.file_type, f.file_size, f.created_at`

func scanFile(row interface{ Scan(...any) error }) (*models.File, error) {
	var f models.File
	var created string
	if err := row.Scan(&f.ID, &f.UserID, &f.FileName, &f.FileURL, &f.FileType, &f.FileSize, &created); err != nil {
		return nil, err
	}
	f.CreatedAt = parseTime(created)
	return &f, nil
}

// GetFile returns a file record by ID.
func (s *SQLiteStorage) GetFile(ctx context.Context, fileID int64) (*models.File, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files f WHERE f.id = ?`, fileID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("file", fileID)
	}
	return f, err
}

// LinkFile attaches a file to a session. Linking twice is a no-op.
func (s *SQLiteStorage) LinkFile(ctx context.Context, sessionID, fileID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO session_files (session_id, file_id, created_at) VALUES (?, ?, ?)`,
		sessionID, fileID, formatTime(time.Now()))
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "foreign key") {
		return fmt.Errorf("%w: session %d or file %d", models.ErrNotFound, sessionID, fileID)
	}
	return err
}

// IsFileLinked reports whether fileID is attached to sessionID.
func (s *SQLiteStorage) IsFileLinked(ctx context.Context, sessionID, fileID int64) (bool, error) {
	var linked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM session_files WHERE session_id = ? AND file_id = ?)`,
		sessionID, fileID).Scan(&linked)
	return linked, err
}

// ListFiles returns the files linked to a session in upload order.
func (s *SQLiteStorage) ListFiles(ctx context.Context, sessionID int64) ([]*models.File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files f
		 JOIN session_files sf ON sf.file_id = f.id
		 WHERE sf.session_id = ? ORDER BY f.id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFile removes the file record; its chunks and session links cascade.
func (s *SQLiteStorage) DeleteFile(ctx context.Context, fileID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("file", fileID)
	}
	return nil
}
