package store

import (
	"context"
	"sync"
)

type memDoc struct {
	revision int
	content  string
	hasSnap  bool
	entries  []Entry
}

// Memory is an in-process Store and UserStore, used when no Mongo URI
// is configured and throughout the tests.
type Memory struct {
	mu    sync.Mutex
	docs  map[string]*memDoc
	users map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		docs:  make(map[string]*memDoc),
		users: make(map[string]string),
	}
}

func (m *Memory) doc(docID string) *memDoc {
	d, ok := m.docs[docID]
	if !ok {
		d = &memDoc{}
		m.docs[docID] = d
	}
	return d
}

func (m *Memory) AppendEntry(_ context.Context, docID string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.doc(docID)
	d.entries = append(d.entries, e)
	return nil
}

func (m *Memory) SaveSnapshot(_ context.Context, docID string, revision int, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.doc(docID)
	d.revision = revision
	d.content = content
	d.hasSnap = true
	return nil
}

func (m *Memory) LoadSnapshot(_ context.Context, docID string) (int, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[docID]
	if !ok || !d.hasSnap {
		return 0, "", ErrNoSnapshot
	}
	return d.revision, d.content, nil
}

func (m *Memory) EntriesSince(_ context.Context, docID string, revision int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[docID]
	if !ok {
		return nil, nil
	}
	var out []Entry
	for _, e := range d.entries {
		if e.Revision > revision {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) CreateUser(_ context.Context, username, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return ErrUserExists
	}
	m.users[username] = passwordHash
	return nil
}

func (m *Memory) PasswordHash(_ context.Context, username string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, ok := m.users[username]
	if !ok {
		return "", ErrUserNotFound
	}
	return hash, nil
}
