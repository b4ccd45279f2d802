package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Save(ctx, "clash", "proxies: []\n")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, doc.ID)
	require.Equal(t, "clash", doc.Format)
	require.Equal(t, "proxies: []\n", doc.Content)
	require.WithinDuration(t, time.Now(), doc.CreatedAt, time.Minute)
}

func TestStore_GetNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get(context.Background(), "no-such-id")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_IDsAreUnique(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.Save(ctx, "plain", "x")
	require.NoError(t, err)
	b, err := s.Save(ctx, "plain", "x")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestStore_Prune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	oldID, err := s.Save(ctx, "plain", "old")
	require.NoError(t, err)
	// Age the row directly; Prune compares against wall-clock seconds.
	_, err = s.db.ExecContext(ctx, `UPDATE documents SET created_at = ? WHERE id = ?`,
		time.Now().Add(-48*time.Hour).Unix(), oldID)
	require.NoError(t, err)

	freshID, err := s.Save(ctx, "plain", "fresh")
	require.NoError(t, err)

	n, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = s.Get(ctx, oldID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, freshID)
	require.NoError(t, err)
}

func TestStore_ReopenKeepsDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.Save(ctx, "singbox", "{}")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	doc, err := s2.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "{}", doc.Content)
}
