package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
)

var ErrSessionNotFound = errors.New("sessions: upload session not found")

const sessionCacheSize = 512

const schema = `
CREATE TABLE IF NOT EXISTS upload_sessions (
	upload_id  TEXT PRIMARY KEY,
	match_id   INTEGER NOT NULL,
	file_name  TEXT NOT NULL,
	file_size  INTEGER NOT NULL,
	chunk_size INTEGER NOT NULL,
	part_count INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS upload_parts (
	upload_id   TEXT NOT NULL REFERENCES upload_sessions(upload_id) ON DELETE CASCADE,
	part_number INTEGER NOT NULL,
	size        INTEGER NOT NULL,
	etag        TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (upload_id, part_number)
);
CREATE INDEX IF NOT EXISTS idx_upload_sessions_match ON upload_sessions(match_id);
`

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// UploadSession is one server-side upload session row.
type UploadSession struct {
	UploadID  string    `db:"upload_id"`
	MatchID   int64     `db:"match_id"`
	FileName  string    `db:"file_name"`
	FileSize  int64     `db:"file_size"`
	ChunkSize int64     `db:"chunk_size"`
	PartCount int       `db:"part_count"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// UploadPart is one stored part of a session.
type UploadPart struct {
	UploadID   string    `db:"upload_id"`
	PartNumber int       `db:"part_number"`
	Size       int64     `db:"size"`
	ETag       string    `db:"etag"`
	CreatedAt  time.Time `db:"created_at"`
}

// Store persists sessions and their parts in SQLite, with a small LRU in
// front of session lookups since every part upload hits one.
type Store struct {
	db    *sqlx.DB
	cache *lru.Cache[string, *UploadSession]
}

func NewStore(db *sqlx.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply sessions schema: %w", err)
	}
	cache, err := lru.New[string, *UploadSession](sessionCacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, cache: cache}, nil
}

func (s *Store) CreateSession(ctx context.Context, session *UploadSession) error {
	session.CreatedAt = time.Now().UTC()
	session.UpdatedAt = session.CreatedAt
	if session.Status == "" {
		session.Status = StatusPending
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO upload_sessions (upload_id, match_id, file_name, file_size, chunk_size, part_count, status, created_at, updated_at)
		VALUES (:upload_id, :match_id, :file_name, :file_size, :chunk_size, :part_count, :status, :created_at, :updated_at)`,
		session)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	s.cache.Add(session.UploadID, session)
	return nil
}

func (s *Store) GetSession(ctx context.Context, uploadID string) (*UploadSession, error) {
	if session, ok := s.cache.Get(uploadID); ok {
		return session, nil
	}

	var session UploadSession
	err := s.db.GetContext(ctx, &session, `SELECT * FROM upload_sessions WHERE upload_id = ?`, uploadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.cache.Add(uploadID, &session)
	return &session, nil
}

func (s *Store) PutPart(ctx context.Context, part *UploadPart) error {
	part.CreatedAt = time.Now().UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO upload_parts (upload_id, part_number, size, etag, created_at)
		VALUES (:upload_id, :part_number, :size, :etag, :created_at)
		ON CONFLICT (upload_id, part_number) DO UPDATE SET size = excluded.size, etag = excluded.etag`,
		part)
	if err != nil {
		return fmt.Errorf("put part: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE upload_sessions SET updated_at = ? WHERE upload_id = ?`, time.Now().UTC(), part.UploadID)
	if err == nil {
		s.cache.Remove(part.UploadID)
	}
	return err
}

func (s *Store) ListParts(ctx context.Context, uploadID string) ([]*UploadPart, error) {
	var parts []*UploadPart
	err := s.db.SelectContext(ctx, &parts, `
		SELECT * FROM upload_parts WHERE upload_id = ? ORDER BY part_number ASC`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	return parts, nil
}

func (s *Store) MarkCompleted(ctx context.Context, uploadID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE upload_sessions SET status = ?, updated_at = ? WHERE upload_id = ?`,
		StatusCompleted, time.Now().UTC(), uploadID)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	s.cache.Remove(uploadID)
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, uploadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM upload_parts WHERE upload_id = ?`, uploadID); err != nil {
		return fmt.Errorf("delete parts: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE upload_id = ?`, uploadID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.cache.Remove(uploadID)
	return nil
}
