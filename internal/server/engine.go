// Package server hosts the authoritative side of the sync protocol:
// the per-document reconciliation engine with its revision log, and
// the session manager that connects engines to websocket clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cowrite/cowrite/internal/ot"
	"github.com/cowrite/cowrite/internal/store"
)

var (
	// ErrStaleRevision means the client's revision precedes the oldest
	// retained log entry; it must resynchronize via FullSync.
	ErrStaleRevision = errors.New("server: revision below retained log window")

	// ErrFutureRevision means the client claimed a revision the server
	// has not reached.
	ErrFutureRevision = errors.New("server: revision ahead of document")

	// ErrOperationInvalid means the submitted operation cannot be
	// transformed or applied at its claimed revision.
	ErrOperationInvalid = errors.New("server: invalid operation")

	// ErrOutOfSequence means a relayed entry skipped a revision.
	ErrOutOfSequence = errors.New("server: relayed entry out of sequence")
)

// Engine owns one document: its content, revision counter and
// append-only log of accepted operations. All commits for a document
// are serialized behind the engine mutex; separate documents run in
// parallel. The engine restores itself from the store on construction
// and appends every accepted entry to it.
type Engine struct {
	docID string
	st    store.Store

	// fanMu is held by the session manager across commit plus fan-out,
	// so every session sees commits in revision order.
	fanMu sync.Mutex

	mu      sync.Mutex
	content string
	rev     int
	// minRev is the revision preceding the oldest retained entry:
	// log[i] carries revision minRev+i+1.
	minRev int
	log    []store.Entry
}

// NewEngine loads the snapshot and replays newer log entries.
func NewEngine(ctx context.Context, docID string, st store.Store) (*Engine, error) {
	rev, content := 0, ""
	if r, c, err := st.LoadSnapshot(ctx, docID); err == nil {
		rev, content = r, c
	} else if !errors.Is(err, store.ErrNoSnapshot) {
		return nil, fmt.Errorf("server: load snapshot %q: %w", docID, err)
	}

	entries, err := st.EntriesSince(ctx, docID, rev)
	if err != nil {
		return nil, fmt.Errorf("server: load log %q: %w", docID, err)
	}
	for _, e := range entries {
		if e.Revision != rev+1 {
			return nil, fmt.Errorf("server: log gap in %q at revision %d", docID, e.Revision)
		}
		content, err = ot.Apply(content, e.Op)
		if err != nil {
			return nil, fmt.Errorf("server: replay %q revision %d: %w", docID, e.Revision, err)
		}
		rev = e.Revision
	}

	return &Engine{
		docID:   docID,
		st:      st,
		content: content,
		rev:     rev,
		minRev:  rev - len(entries),
		log:     entries,
	}, nil
}

// Submit accepts an operation claimed against clientRev: it is
// transformed forward through every entry committed after clientRev
// (the log's operations are senior), applied, persisted and appended.
// The returned entry carries the transformed op and new revision.
func (e *Engine) Submit(ctx context.Context, sessionID string, clientRev int, op *ot.Operation) (store.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if clientRev > e.rev {
		return store.Entry{}, fmt.Errorf("%w: client %d, document %d", ErrFutureRevision, clientRev, e.rev)
	}
	if clientRev < e.minRev {
		return store.Entry{}, fmt.Errorf("%w: client %d, oldest retained %d", ErrStaleRevision, clientRev, e.minRev)
	}

	for _, committed := range e.log[clientRev-e.minRev:] {
		var err error
		op, err = ot.Transform(op, committed.Op, false)
		if err != nil {
			return store.Entry{}, fmt.Errorf("%w: %v", ErrOperationInvalid, err)
		}
	}

	content, err := ot.Apply(e.content, op)
	if err != nil {
		return store.Entry{}, fmt.Errorf("%w: %v", ErrOperationInvalid, err)
	}

	entry := store.Entry{
		Revision:    e.rev + 1,
		Op:          op,
		Author:      sessionID,
		CommittedAt: time.Now().UTC(),
	}
	if err := e.st.AppendEntry(ctx, e.docID, entry); err != nil {
		return store.Entry{}, fmt.Errorf("server: persist entry: %w", err)
	}

	e.content = content
	e.rev = entry.Revision
	e.log = append(e.log, entry)
	return entry, nil
}

// ApplyCommitted folds in an entry another node already committed.
// Entries must arrive in revision order; nothing is persisted, the
// committing node owns durability.
func (e *Engine) ApplyCommitted(entry store.Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if entry.Revision != e.rev+1 {
		return fmt.Errorf("%w: have %d, got %d", ErrOutOfSequence, e.rev, entry.Revision)
	}
	content, err := ot.Apply(e.content, entry.Op)
	if err != nil {
		return fmt.Errorf("server: apply relayed entry: %w", err)
	}
	e.content = content
	e.rev = entry.Revision
	e.log = append(e.log, entry)
	return nil
}

// Snapshot returns the current revision and content.
func (e *Engine) Snapshot() (int, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rev, e.content
}

// EntriesSince returns retained entries with revision > rev, for
// catch-up. Fails with ErrStaleRevision when rev predates the window.
func (e *Engine) EntriesSince(rev int) ([]store.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rev < e.minRev {
		return nil, fmt.Errorf("%w: requested %d, oldest retained %d", ErrStaleRevision, rev, e.minRev)
	}
	if rev > e.rev {
		return nil, fmt.Errorf("%w: requested %d, document %d", ErrFutureRevision, rev, e.rev)
	}
	out := make([]store.Entry, e.rev-rev)
	copy(out, e.log[rev-e.minRev:])
	return out, nil
}

// Compact persists a snapshot at the current revision and trims the
// in-memory log to at most keep entries. Clients parked below the new
// window get a FullSync on their next submit.
func (e *Engine) Compact(ctx context.Context, keep int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.st.SaveSnapshot(ctx, e.docID, e.rev, e.content); err != nil {
		return fmt.Errorf("server: save snapshot: %w", err)
	}
	if len(e.log) > keep {
		drop := len(e.log) - keep
		e.log = append([]store.Entry(nil), e.log[drop:]...)
		e.minRev += drop
	}
	return nil
}
