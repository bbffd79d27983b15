// Package ingest stores uploaded files as extracted plain text so
// attachments can enter a turn as ordinary message content. Extraction
// happens once at upload time; the original bytes are not kept.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/libris-ai/libris/internal/log"
)

// DefaultMaxBytes caps a single upload when the store is created
// without an explicit limit.
const DefaultMaxBytes = 10 << 20

var (
	// ErrFileNotFound indicates the file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrFileTooLarge indicates the upload exceeds the size limit.
	ErrFileTooLarge = errors.New("file exceeds the upload size limit")
)

// File is one ingested upload. Text is the extracted content and can be
// large, so it stays out of JSON responses; clients read it through the
// read_document tool.
type File struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	MediaType string    `json:"media_type"`
	Size      int64     `json:"byte_size"`
	Text      string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment is the resolved form handed to the streaming layer.
type Attachment struct {
	ID        uuid.UUID
	Name      string
	MediaType string
	Text      string
}

// DBTX is the subset of pgx used by the store.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists ingested files.
type Store struct {
	db       DBTX
	maxBytes int64
	logger   log.Logger
}

// New creates a store backed by a connection pool. maxBytes caps one
// upload; zero or negative means DefaultMaxBytes.
func New(pool *pgxpool.Pool, maxBytes int64, logger log.Logger) *Store {
	return NewWithDB(pool, maxBytes, logger)
}

// NewWithDB creates a store over a bare DBTX.
func NewWithDB(db DBTX, maxBytes int64, logger log.Logger) *Store {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{db: db, maxBytes: maxBytes, logger: logger}
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// Ingest reads at most the configured limit from r, extracts text and
// persists the file.
func (s *Store) Ingest(ctx context.Context, name, mediaType string, r io.Reader) (*File, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload %q: %w", name, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %q is over %d bytes", ErrFileTooLarge, name, s.maxBytes)
	}

	// Strip parameters such as "; charset=utf-8" before dispatch.
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = mt
	}

	text, err := ExtractText(name, mediaType, data)
	if err != nil {
		return nil, fmt.Errorf("extracting %q: %w", name, err)
	}

	const q = `
		INSERT INTO files (name, media_type, byte_size, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	if err := s.db.QueryRow(ctx, q, name, mediaType, int64(len(data)), text).Scan(&id, &createdAt); err != nil {
		return nil, fmt.Errorf("storing file %q: %w", name, err)
	}

	f := &File{
		ID:        uuid.UUID(id.Bytes),
		Name:      name,
		MediaType: mediaType,
		Size:      int64(len(data)),
		Text:      text,
		CreatedAt: createdAt.Time,
	}
	s.logger.Debug("ingested file",
		"file_id", f.ID,
		"name", name,
		"media_type", mediaType,
		"bytes", f.Size,
		"text_chars", len(text))
	return f, nil
}

// Get returns one ingested file.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*File, error) {
	const q = `
		SELECT id, name, media_type, byte_size, content, created_at
		FROM files
		WHERE id = $1`

	var (
		fid       pgtype.UUID
		f         File
		createdAt pgtype.Timestamptz
	)
	err := s.db.QueryRow(ctx, q, pgUUID(id)).Scan(
		&fid, &f.Name, &f.MediaType, &f.Size, &f.Text, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("getting file %s: %w", id, err)
	}

	f.ID = uuid.UUID(fid.Bytes)
	f.CreatedAt = createdAt.Time
	return &f, nil
}

// Resolve returns attachment text for the given IDs, preserving their
// order. Any missing ID fails the whole resolution.
func (s *Store) Resolve(ctx context.Context, ids []uuid.UUID) ([]Attachment, error) {
	atts := make([]Attachment, 0, len(ids))
	for _, id := range ids {
		f, err := s.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolving attachment %s: %w", id, err)
		}
		atts = append(atts, Attachment{
			ID:        f.ID,
			Name:      f.Name,
			MediaType: f.MediaType,
			Text:      f.Text,
		})
	}
	return atts, nil
}
