package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowrite/cowrite/internal/ot"
)

func TestMemorySnapshot(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, _, err := m.LoadSnapshot(ctx, "doc")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, m.SaveSnapshot(ctx, "doc", 3, "hello"))
	rev, content, err := m.LoadSnapshot(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 3, rev)
	assert.Equal(t, "hello", content)
}

func TestMemoryEntriesSince(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		e := Entry{
			Revision:    i,
			Op:          ot.New().Insert("x"),
			Author:      "s1",
			CommittedAt: time.Now(),
		}
		require.NoError(t, m.AppendEntry(ctx, "doc", e))
	}

	entries, err := m.EntriesSince(ctx, "doc", 3)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 4, entries[0].Revision)
	assert.Equal(t, 5, entries[1].Revision)

	entries, err = m.EntriesSince(ctx, "other", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryUsers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.PasswordHash(ctx, "alice")
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, m.CreateUser(ctx, "alice", "hash"))
	assert.ErrorIs(t, m.CreateUser(ctx, "alice", "other"), ErrUserExists)

	hash, err := m.PasswordHash(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash", hash)
}
