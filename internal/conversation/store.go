package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/libris-ai/libris/internal/log"
)

// DBTX is the subset of pgx used by the store. Both *pgxpool.Pool and
// pgx.Tx satisfy it, which lets every query run inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists chats and turns.
type Store struct {
	db     DBTX
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a store backed by a connection pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{db: pool, pool: pool, logger: logger}
}

// NewWithDB creates a store over a bare DBTX without transaction
// support. Tests only; PersistTurn falls back to its non-transactional
// path.
func NewWithDB(db DBTX, logger log.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// CreateChat creates a chat. An empty title is allowed; the endpoint
// fills it in after the first turn.
func (s *Store) CreateChat(ctx context.Context, title string) (*Chat, error) {
	const q = `
		INSERT INTO chats (title)
		VALUES ($1)
		RETURNING id, title, created_at, updated_at`

	chat, err := scanChat(s.db.QueryRow(ctx, q, title))
	if err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}

	s.logger.Debug("created chat", "chat_id", chat.ID, "title", title)
	return chat, nil
}

// GetChat retrieves a chat by ID.
func (s *Store) GetChat(ctx context.Context, chatID uuid.UUID) (*Chat, error) {
	const q = `
		SELECT id, title, created_at, updated_at
		FROM chats
		WHERE id = $1`

	chat, err := scanChat(s.db.QueryRow(ctx, q, pgUUID(chatID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("getting chat %s: %w", chatID, err)
	}
	return chat, nil
}

// ListChats returns chats ordered by most recent activity.
func (s *Store) ListChats(ctx context.Context, limit, offset int32) ([]*Chat, error) {
	const q = `
		SELECT id, title, created_at, updated_at
		FROM chats
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := s.db.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	chats := make([]*Chat, 0, limit)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}

	s.logger.Debug("listed chats", "count", len(chats))
	return chats, nil
}

// RenameChat sets a chat's title.
func (s *Store) RenameChat(ctx context.Context, chatID uuid.UUID, title string) error {
	const q = `UPDATE chats SET title = $2, updated_at = now() WHERE id = $1`

	tag, err := s.db.Exec(ctx, q, pgUUID(chatID), title)
	if err != nil {
		return fmt.Errorf("renaming chat %s: %w", chatID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChatNotFound
	}
	return nil
}

// DeleteChat deletes a chat and all its turns (CASCADE).
func (s *Store) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	const q = `DELETE FROM chats WHERE id = $1`

	tag, err := s.db.Exec(ctx, q, pgUUID(chatID))
	if err != nil {
		return fmt.Errorf("deleting chat %s: %w", chatID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChatNotFound
	}

	s.logger.Debug("deleted chat", "chat_id", chatID)
	return nil
}

// PersistTurn appends a turn to its chat and assigns the next sequence
// number. The chat row is locked for the duration so concurrent writers
// cannot race on sequence numbers. On success the turn's ID, Seq and
// CreatedAt are filled in.
func (s *Store) PersistTurn(ctx context.Context, turn *Turn) error {
	if turn == nil {
		return errors.New("turn is nil")
	}
	if turn.Role != RoleUser && turn.Role != RoleModel {
		return fmt.Errorf("invalid turn role %q", turn.Role)
	}

	// Without a pool (mock-backed tests) there is no transaction to run
	if s.pool == nil {
		return s.persistTurnIn(ctx, s.db, turn)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	// Lock the chat row so only one writer assigns sequence numbers
	var locked pgtype.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM chats WHERE id = $1 FOR UPDATE`, pgUUID(turn.ChatID)).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrChatNotFound
		}
		return fmt.Errorf("locking chat %s: %w", turn.ChatID, err)
	}

	if err := s.persistTurnIn(ctx, tx, turn); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE chats SET updated_at = now() WHERE id = $1`, pgUUID(turn.ChatID)); err != nil {
		return fmt.Errorf("touching chat %s: %w", turn.ChatID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}

	s.logger.Debug("persisted turn",
		"chat_id", turn.ChatID,
		"turn_id", turn.ID,
		"role", turn.Role,
		"seq", turn.Seq,
		"invocations", len(turn.Invocations),
		"incomplete", turn.Incomplete)
	return nil
}

// persistTurnIn inserts the turn at max(seq)+1 using the given executor.
func (s *Store) persistTurnIn(ctx context.Context, db DBTX, turn *Turn) error {
	var maxSeq int32
	err := db.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM turns WHERE chat_id = $1`,
		pgUUID(turn.ChatID)).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("reading max sequence for chat %s: %w", turn.ChatID, err)
	}

	invocations := turn.Invocations
	if invocations == nil {
		invocations = []ToolInvocation{}
	}
	invJSON, err := json.Marshal(invocations)
	if err != nil {
		return fmt.Errorf("encoding invocations: %w", err)
	}

	const q = `
		INSERT INTO turns (chat_id, seq, role, text, invocations, incomplete)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	err = db.QueryRow(ctx, q,
		pgUUID(turn.ChatID), maxSeq+1, turn.Role, turn.Text, invJSON, turn.Incomplete,
	).Scan(&id, &createdAt)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	turn.ID = uuid.UUID(id.Bytes)
	turn.Seq = maxSeq + 1
	turn.CreatedAt = createdAt.Time
	return nil
}

// History returns a chat's turns ordered by sequence. A limit of 0
// means no limit.
func (s *Store) History(ctx context.Context, chatID uuid.UUID, limit int32) ([]*Turn, error) {
	q := `
		SELECT id, chat_id, seq, role, text, invocations, incomplete, created_at
		FROM turns
		WHERE chat_id = $1
		ORDER BY seq ASC`
	args := []any{pgUUID(chatID)}
	if limit > 0 {
		// Window to the most recent turns, re-sorted ascending
		q = `
		SELECT id, chat_id, seq, role, text, invocations, incomplete, created_at
		FROM (
			SELECT id, chat_id, seq, role, text, invocations, incomplete, created_at
			FROM turns
			WHERE chat_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("loading history for chat %s: %w", chatID, err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading history for chat %s: %w", chatID, err)
	}

	s.logger.Debug("loaded history", "chat_id", chatID, "turns", len(turns))
	return turns, nil
}

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanChat(row scanner) (*Chat, error) {
	var (
		id        pgtype.UUID
		title     string
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return &Chat{
		ID:        uuid.UUID(id.Bytes),
		Title:     title,
		CreatedAt: createdAt.Time,
		UpdatedAt: updatedAt.Time,
	}, nil
}

func scanTurn(row scanner) (*Turn, error) {
	var (
		id         pgtype.UUID
		chatID     pgtype.UUID
		seq        int32
		role       string
		text       string
		invJSON    []byte
		incomplete bool
		createdAt  pgtype.Timestamptz
	)
	if err := row.Scan(&id, &chatID, &seq, &role, &text, &invJSON, &incomplete, &createdAt); err != nil {
		return nil, err
	}

	var invocations []ToolInvocation
	if len(invJSON) > 0 {
		if err := json.Unmarshal(invJSON, &invocations); err != nil {
			return nil, fmt.Errorf("decoding invocations: %w", err)
		}
	}

	return &Turn{
		ID:          uuid.UUID(id.Bytes),
		ChatID:      uuid.UUID(chatID.Bytes),
		Seq:         seq,
		Role:        role,
		Text:        text,
		Invocations: invocations,
		Incomplete:  incomplete,
		CreatedAt:   createdAt.Time,
	}, nil
}
