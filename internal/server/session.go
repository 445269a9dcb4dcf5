package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cowrite/cowrite/internal/common"
)

const sendQueueSize = 64

// Session is one connected editing client. Outbound messages go
// through a buffered queue drained by a single writer goroutine, so
// delivery is FIFO per connection and fan-out never blocks on a slow
// peer; a session that cannot keep up is dropped.
type Session struct {
	ID  string
	UID string

	conn *websocket.Conn
	send chan common.Message

	mu        sync.Mutex
	closed    bool
	lastAcked int
	latency   time.Duration
}

func newSession(id, uid string, conn *websocket.Conn) *Session {
	return &Session{
		ID:   id,
		UID:  uid,
		conn: conn,
		send: make(chan common.Message, sendQueueSize),
	}
}

// trySend queues a message. It reports false when the session is gone
// or its queue is full; the caller drops the session in that case.
func (s *Session) trySend(msg common.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

func (s *Session) setLastAcked(rev int) {
	s.mu.Lock()
	s.lastAcked = rev
	s.mu.Unlock()
}

// LastAcked returns the newest revision acknowledged to this session.
func (s *Session) LastAcked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAcked
}

func (s *Session) setLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// Latency returns the last measured heartbeat round trip.
func (s *Session) Latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency
}

// writeLoop drains the send queue onto the wire. It owns all writes
// to the connection.
func (s *Session) writeLoop() {
	for msg := range s.send {
		if err := s.conn.WriteJSON(msg); err != nil {
			break
		}
	}
	s.conn.Close()
}
