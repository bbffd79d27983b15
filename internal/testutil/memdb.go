package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// MemDB is an in-memory stand-in for the pgx DBTX surface the stores
// use. It recognizes the stores' SQL by substring and keeps chats,
// turns and files in plain slices, which lets handler and stream tests
// run the real store code without a database.
//
// Thread-safe for concurrent use.
type MemDB struct {
	mu    sync.Mutex
	chats []*memChat
	turns []*memTurn
	files []*memFile

	failErr error
	failOn  string
}

type memChat struct {
	id        uuid.UUID
	title     string
	createdAt time.Time
	updatedAt time.Time
}

type memTurn struct {
	id         uuid.UUID
	chatID     uuid.UUID
	seq        int32
	role       string
	text       string
	invJSON    []byte
	incomplete bool
	createdAt  time.Time
}

type memFile struct {
	id        uuid.UUID
	name      string
	mediaType string
	size      int64
	content   string
	createdAt time.Time
}

// NewMemDB creates an empty in-memory database.
func NewMemDB() *MemDB {
	return &MemDB{}
}

// FailNext makes the next statement whose SQL contains substr return
// err. The trigger is consumed by the first match.
func (db *MemDB) FailNext(substr string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failOn = substr
	db.failErr = err
}

// checkFail must be called with the lock held.
func (db *MemDB) checkFail(sql string) error {
	if db.failOn != "" && strings.Contains(sql, db.failOn) {
		err := db.failErr
		db.failOn = ""
		db.failErr = nil
		return err
	}
	return nil
}

// Chats returns a snapshot of the stored chats as (id, title) pairs.
func (db *MemDB) Chats() map[uuid.UUID]string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make(map[uuid.UUID]string, len(db.chats))
	for _, c := range db.chats {
		out[c.id] = c.title
	}
	return out
}

// TurnCount returns how many turns a chat holds.
func (db *MemDB) TurnCount(chatID uuid.UUID) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, t := range db.turns {
		if t.chatID == chatID {
			n++
		}
	}
	return n
}

func asUUID(arg any) uuid.UUID {
	switch v := arg.(type) {
	case pgtype.UUID:
		return uuid.UUID(v.Bytes)
	case uuid.UUID:
		return v
	default:
		return uuid.Nil
	}
}

func asInt32(arg any) int32 {
	switch v := arg.(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	default:
		return 0
	}
}

func asInt64(arg any) int64 {
	switch v := arg.(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

// Exec implements DBTX.
func (db *MemDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkFail(sql); err != nil {
		return pgconn.CommandTag{}, err
	}

	switch {
	case strings.Contains(sql, "UPDATE chats SET title"):
		id := asUUID(args[0])
		for _, c := range db.chats {
			if c.id == id {
				c.title = args[1].(string)
				c.updatedAt = time.Now()
				return pgconn.NewCommandTag("UPDATE 1"), nil
			}
		}
		return pgconn.NewCommandTag("UPDATE 0"), nil

	case strings.Contains(sql, "UPDATE chats SET updated_at"):
		id := asUUID(args[0])
		for _, c := range db.chats {
			if c.id == id {
				c.updatedAt = time.Now()
				return pgconn.NewCommandTag("UPDATE 1"), nil
			}
		}
		return pgconn.NewCommandTag("UPDATE 0"), nil

	case strings.Contains(sql, "DELETE FROM chats"):
		id := asUUID(args[0])
		for i, c := range db.chats {
			if c.id == id {
				db.chats = append(db.chats[:i], db.chats[i+1:]...)
				kept := db.turns[:0]
				for _, t := range db.turns {
					if t.chatID != id {
						kept = append(kept, t)
					}
				}
				db.turns = kept
				return pgconn.NewCommandTag("DELETE 1"), nil
			}
		}
		return pgconn.NewCommandTag("DELETE 0"), nil
	}

	return pgconn.CommandTag{}, fmt.Errorf("memdb: unhandled exec: %s", sql)
}

// QueryRow implements DBTX.
func (db *MemDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkFail(sql); err != nil {
		return memRow{err: err}
	}

	switch {
	case strings.Contains(sql, "INSERT INTO chats"):
		c := &memChat{
			id:        uuid.New(),
			title:     args[0].(string),
			createdAt: time.Now(),
			updatedAt: time.Now(),
		}
		db.chats = append(db.chats, c)
		return memRow{vals: []any{c.id, c.title, c.createdAt, c.updatedAt}}

	case strings.Contains(sql, "FROM chats"):
		id := asUUID(args[0])
		for _, c := range db.chats {
			if c.id == id {
				return memRow{vals: []any{c.id, c.title, c.createdAt, c.updatedAt}}
			}
		}
		return memRow{err: pgx.ErrNoRows}

	case strings.Contains(sql, "COALESCE(MAX(seq)"):
		id := asUUID(args[0])
		var max int32
		for _, t := range db.turns {
			if t.chatID == id && t.seq > max {
				max = t.seq
			}
		}
		return memRow{vals: []any{max}}

	case strings.Contains(sql, "INSERT INTO turns"):
		t := &memTurn{
			id:         uuid.New(),
			chatID:     asUUID(args[0]),
			seq:        asInt32(args[1]),
			role:       args[2].(string),
			text:       args[3].(string),
			invJSON:    args[4].([]byte),
			incomplete: args[5].(bool),
			createdAt:  time.Now(),
		}
		db.turns = append(db.turns, t)
		return memRow{vals: []any{t.id, t.createdAt}}

	case strings.Contains(sql, "INSERT INTO files"):
		f := &memFile{
			id:        uuid.New(),
			name:      args[0].(string),
			mediaType: args[1].(string),
			size:      asInt64(args[2]),
			content:   args[3].(string),
			createdAt: time.Now(),
		}
		db.files = append(db.files, f)
		return memRow{vals: []any{f.id, f.createdAt}}

	case strings.Contains(sql, "FROM files"):
		id := asUUID(args[0])
		for _, f := range db.files {
			if f.id == id {
				return memRow{vals: []any{f.id, f.name, f.mediaType, f.size, f.content, f.createdAt}}
			}
		}
		return memRow{err: pgx.ErrNoRows}
	}

	return memRow{err: fmt.Errorf("memdb: unhandled query row: %s", sql)}
}

// Query implements DBTX.
func (db *MemDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkFail(sql); err != nil {
		return nil, err
	}

	switch {
	case strings.Contains(sql, "FROM turns"):
		id := asUUID(args[0])
		var turns []*memTurn
		for _, t := range db.turns {
			if t.chatID == id {
				turns = append(turns, t)
			}
		}
		sort.Slice(turns, func(i, j int) bool { return turns[i].seq < turns[j].seq })
		if len(args) > 1 {
			if limit := int(asInt32(args[1])); len(turns) > limit {
				turns = turns[len(turns)-limit:]
			}
		}
		rows := &memRows{}
		for _, t := range turns {
			rows.rows = append(rows.rows, []any{
				t.id, t.chatID, t.seq, t.role, t.text, t.invJSON, t.incomplete, t.createdAt,
			})
		}
		return rows, nil

	case strings.Contains(sql, "FROM chats"):
		chats := make([]*memChat, len(db.chats))
		copy(chats, db.chats)
		sort.Slice(chats, func(i, j int) bool { return chats[i].updatedAt.After(chats[j].updatedAt) })
		limit, offset := int(asInt32(args[0])), int(asInt32(args[1]))
		if offset > len(chats) {
			offset = len(chats)
		}
		chats = chats[offset:]
		if len(chats) > limit {
			chats = chats[:limit]
		}
		rows := &memRows{}
		for _, c := range chats {
			rows.rows = append(rows.rows, []any{c.id, c.title, c.createdAt, c.updatedAt})
		}
		return rows, nil
	}

	return nil, fmt.Errorf("memdb: unhandled query: %s", sql)
}

// memRow implements pgx.Row.
type memRow struct {
	vals []any
	err  error
}

func (r memRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanVals(r.vals, dest)
}

// memRows implements pgx.Rows over materialized value rows.
type memRows struct {
	rows [][]any
	idx  int
}

func (r *memRows) Close()                                       {}
func (r *memRows) Err() error                                   { return nil }
func (r *memRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *memRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *memRows) Next() bool                                   { return r.idx < len(r.rows) }
func (r *memRows) Values() ([]any, error)                       { return nil, nil }
func (r *memRows) RawValues() [][]byte                          { return nil }
func (r *memRows) Conn() *pgx.Conn                              { return nil }

func (r *memRows) Scan(dest ...any) error {
	vals := r.rows[r.idx]
	r.idx++
	return scanVals(vals, dest)
}

// scanVals copies stored values into pgx scan destinations.
func scanVals(vals []any, dest []any) error {
	if len(vals) != len(dest) {
		return fmt.Errorf("memdb: scan %d values into %d destinations", len(vals), len(dest))
	}
	for i, val := range vals {
		switch d := dest[i].(type) {
		case *pgtype.UUID:
			d.Bytes = val.(uuid.UUID)
			d.Valid = true
		case *pgtype.Timestamptz:
			d.Time = val.(time.Time)
			d.Valid = true
		case *uuid.UUID:
			*d = val.(uuid.UUID)
		case *string:
			*d = val.(string)
		case *[]byte:
			*d = val.([]byte)
		case *int32:
			*d = val.(int32)
		case *int64:
			*d = val.(int64)
		case *bool:
			*d = val.(bool)
		case *time.Time:
			*d = val.(time.Time)
		default:
			return fmt.Errorf("memdb: unsupported scan destination %T", dest[i])
		}
	}
	return nil
}
