//go:build integration
// +build integration

package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libris-ai/libris/internal/log"
	"github.com/libris-ai/libris/internal/testutil"
)

func TestStore_IngestAndGet_Integration(t *testing.T) {
	dbc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(dbc.Pool, 0, log.NewNop())
	ctx := context.Background()

	f, err := store.Ingest(ctx, "notes.md", "text/markdown", strings.NewReader("# Findings\n\nRaw data attached."))
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.NotEqual(t, uuid.Nil, f.ID)
	assert.Equal(t, "notes.md", f.Name)
	assert.Equal(t, "text/markdown", f.MediaType)
	assert.Equal(t, int64(30), f.Size)
	assert.NotZero(t, f.CreatedAt)

	got, err := store.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, "# Findings\n\nRaw data attached.", got.Text)
}

func TestStore_IngestStripsCharsetParameter_Integration(t *testing.T) {
	dbc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(dbc.Pool, 0, log.NewNop())

	f, err := store.Ingest(context.Background(), "notes.txt", "text/plain; charset=utf-8", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", f.MediaType)
}

func TestStore_IngestTooLarge_Integration(t *testing.T) {
	dbc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(dbc.Pool, 16, log.NewNop())

	_, err := store.Ingest(context.Background(), "big.txt", "text/plain", strings.NewReader(strings.Repeat("x", 17)))
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestStore_GetNotFound_Integration(t *testing.T) {
	dbc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(dbc.Pool, 0, log.NewNop())

	_, err := store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestStore_ResolvePreservesOrder_Integration(t *testing.T) {
	dbc, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(dbc.Pool, 0, log.NewNop())
	ctx := context.Background()

	first, err := store.Ingest(ctx, "a.txt", "text/plain", strings.NewReader("alpha"))
	require.NoError(t, err)
	second, err := store.Ingest(ctx, "b.txt", "text/plain", strings.NewReader("bravo"))
	require.NoError(t, err)

	atts, err := store.Resolve(ctx, []uuid.UUID{second.ID, first.ID})
	require.NoError(t, err)
	require.Len(t, atts, 2)
	assert.Equal(t, "bravo", atts[0].Text)
	assert.Equal(t, "alpha", atts[1].Text)

	_, err = store.Resolve(ctx, []uuid.UUID{first.ID, uuid.New()})
	assert.ErrorIs(t, err, ErrFileNotFound)
}
