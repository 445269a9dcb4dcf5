// Package store persists the revision log and document snapshots so a
// server can recover after a crash, plus the registered user records.
// The engine only needs append, snapshot load and catch-up reads.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/cowrite/cowrite/internal/ot"
)

var (
	// ErrNoSnapshot means the document has never been persisted.
	ErrNoSnapshot = errors.New("store: no snapshot for document")

	ErrUserExists   = errors.New("store: user already exists")
	ErrUserNotFound = errors.New("store: user not found")
)

// Entry is one committed operation, immutable once appended.
type Entry struct {
	Revision    int
	Op          *ot.Operation
	Author      string
	CommittedAt time.Time
}

// Store is the durable home of the revision log and snapshots.
type Store interface {
	// AppendEntry records a committed operation for docID.
	AppendEntry(ctx context.Context, docID string, e Entry) error
	// SaveSnapshot replaces the stored snapshot for docID.
	SaveSnapshot(ctx context.Context, docID string, revision int, content string) error
	// LoadSnapshot returns the latest stored snapshot, or ErrNoSnapshot.
	LoadSnapshot(ctx context.Context, docID string) (revision int, content string, err error)
	// EntriesSince returns entries with revision > the given revision,
	// in ascending revision order.
	EntriesSince(ctx context.Context, docID string, revision int) ([]Entry, error)
}

// UserStore holds registered editor accounts. Password hashing is the
// caller's concern; only the hash is stored.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) error
	PasswordHash(ctx context.Context, username string) (string, error)
}
