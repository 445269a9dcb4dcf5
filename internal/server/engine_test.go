package server

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowrite/cowrite/internal/ot"
	"github.com/cowrite/cowrite/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	eng, err := NewEngine(context.Background(), "doc", st)
	require.NoError(t, err)
	return eng, st
}

func TestSubmitAtHead(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	entry, err := eng.Submit(ctx, "s1", 0, ot.New().Insert("Hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Revision)
	assert.Equal(t, "s1", entry.Author)

	rev, content := eng.Snapshot()
	assert.Equal(t, 1, rev)
	assert.Equal(t, "Hello", content)
}

func TestSubmitTransformsThroughLog(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Submit(ctx, "s1", 0, ot.New().Insert("A"))
	require.NoError(t, err)

	// s2 also edited against revision 0; its insert lands after the
	// committed one because the log is senior.
	entry, err := eng.Submit(ctx, "s2", 0, ot.New().Insert("B"))
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Revision)

	_, content := eng.Snapshot()
	assert.Equal(t, "AB", content)
}

func TestSubmitFutureRevision(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.Submit(context.Background(), "s1", 3, ot.New().Insert("x"))
	assert.ErrorIs(t, err, ErrFutureRevision)
}

func TestSubmitInvalidBaseLength(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Submit(ctx, "s1", 0, ot.New().Insert("abc"))
	require.NoError(t, err)

	// Claims revision 1 but was built against a 5-character text.
	_, err = eng.Submit(ctx, "s2", 1, ot.New().Retain(5).Insert("x"))
	assert.ErrorIs(t, err, ErrOperationInvalid)

	// Rejections leave the document untouched.
	rev, content := eng.Snapshot()
	assert.Equal(t, 1, rev)
	assert.Equal(t, "abc", content)
}

func TestCompactMovesStaleBoundary(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := eng.Submit(ctx, "s1", i, ot.New().Retain(i).Insert("x"))
		require.NoError(t, err)
	}

	require.NoError(t, eng.Compact(ctx, 1))

	_, err := eng.Submit(ctx, "s2", 1, ot.New().Retain(1))
	assert.ErrorIs(t, err, ErrStaleRevision)

	// Revision 2 is still inside the window.
	entries, err := eng.EntriesSince(2)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].Revision)

	_, err = eng.EntriesSince(1)
	assert.ErrorIs(t, err, ErrStaleRevision)

	// The snapshot was persisted at the compaction revision.
	rev, content, err := st.LoadSnapshot(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 3, rev)
	assert.Equal(t, "xxx", content)
}

func TestConcurrentSubmitsSerialize(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Everyone claims revision 0; the serializer transforms
			// each op through whatever committed first.
			_, err := eng.Submit(ctx, fmt.Sprintf("s%d", i), 0, ot.New().Insert("x"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rev, content := eng.Snapshot()
	assert.Equal(t, n, rev)
	assert.Len(t, content, n)

	entries, err := eng.EntriesSince(0)
	require.NoError(t, err)
	require.Len(t, entries, n)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Revision)
	}
}

func TestEngineRestore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	eng, err := NewEngine(ctx, "doc", st)
	require.NoError(t, err)
	_, err = eng.Submit(ctx, "s1", 0, ot.New().Insert("Hello"))
	require.NoError(t, err)
	require.NoError(t, eng.Compact(ctx, 0))
	_, err = eng.Submit(ctx, "s1", 1, ot.New().Retain(5).Insert(" World"))
	require.NoError(t, err)

	// A fresh engine replays snapshot plus newer entries.
	restored, err := NewEngine(ctx, "doc", st)
	require.NoError(t, err)
	rev, content := restored.Snapshot()
	assert.Equal(t, 2, rev)
	assert.Equal(t, "Hello World", content)
}

func TestApplyCommittedOrdering(t *testing.T) {
	eng, _ := newTestEngine(t)

	e1 := store.Entry{Revision: 1, Op: ot.New().Insert("a"), Author: "remote"}
	e3 := store.Entry{Revision: 3, Op: ot.New().Retain(1).Insert("c"), Author: "remote"}

	require.NoError(t, eng.ApplyCommitted(e1))
	assert.ErrorIs(t, eng.ApplyCommitted(e3), ErrOutOfSequence)

	rev, content := eng.Snapshot()
	assert.Equal(t, 1, rev)
	assert.Equal(t, "a", content)
}
