package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cowrite/cowrite/internal/auth"
	"github.com/cowrite/cowrite/internal/common"
	"github.com/cowrite/cowrite/internal/metrics"
	"github.com/cowrite/cowrite/internal/relay"
	"github.com/cowrite/cowrite/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Options tune the session manager; zero values get defaults.
type Options struct {
	Relay             *relay.Relay
	HeartbeatInterval time.Duration
	LogRetention      int
	CompactInterval   time.Duration
}

// Server owns the live sessions and the per-document engines, routes
// inbound operations into the engines and fans committed operations
// back out.
type Server struct {
	st   store.Store
	auth *auth.Service
	rel  *relay.Relay

	hbInterval   time.Duration
	retention    int
	compactEvery time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	engines  map[string]*Engine
	sessions map[string]map[string]*Session // docID -> sessionID
}

func New(st store.Store, authSvc *auth.Service, opts Options) *Server {
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.LogRetention == 0 {
		opts.LogRetention = 1000
	}
	if opts.CompactInterval == 0 {
		opts.CompactInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		st:           st,
		auth:         authSvc,
		rel:          opts.Relay,
		hbInterval:   opts.HeartbeatInterval,
		retention:    opts.LogRetention,
		compactEvery: opts.CompactInterval,
		ctx:          ctx,
		cancel:       cancel,
		engines:      make(map[string]*Engine),
		sessions:     make(map[string]map[string]*Session),
	}
	go s.compactLoop()
	return s
}

// Router wires the HTTP surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws/{docid}", s.ws)
	r.HandleFunc("/login", s.auth.Login).Methods("POST")
	r.HandleFunc("/register", s.auth.Register).Methods("POST")
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Handler:           s.Router(),
		Addr:              addr,
		ReadHeaderTimeout: 15 * time.Second,
	}
	log.Printf("server: listening on %s", addr)
	return srv.ListenAndServe()
}

// Close stops background loops and drops every session.
func (s *Server) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.sessions {
		for _, sess := range doc {
			sess.close()
		}
	}
	s.sessions = make(map[string]map[string]*Session)
}

// engine returns the document engine, creating and restoring it on
// first use and hooking it to the relay when one is configured.
func (s *Server) engine(ctx context.Context, docID string) (*Engine, error) {
	s.mu.RLock()
	eng, ok := s.engines[docID]
	s.mu.RUnlock()
	if ok {
		return eng, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if eng, ok = s.engines[docID]; ok {
		return eng, nil
	}
	eng, err := NewEngine(ctx, docID, s.st)
	if err != nil {
		return nil, err
	}
	s.engines[docID] = eng
	if s.rel != nil {
		s.rel.Subscribe(s.ctx, docID, func(env relay.Envelope) {
			s.onRelayed(docID, eng, env)
		})
	}
	return eng, nil
}

// onRelayed mirrors an entry another node committed. A sequence gap
// means we missed traffic; catch up from the shared store.
func (s *Server) onRelayed(docID string, eng *Engine, env relay.Envelope) {
	err := eng.ApplyCommitted(env.Entry())
	if errors.Is(err, ErrOutOfSequence) {
		rev, _ := eng.Snapshot()
		entries, serr := s.st.EntriesSince(s.ctx, docID, rev)
		if serr != nil {
			log.Printf("server: relay catch-up %q: %v", docID, serr)
			return
		}
		err = nil
		for _, e := range entries {
			if err = eng.ApplyCommitted(e); err != nil {
				break
			}
			s.broadcast(docID, "", common.Message{
				Type:     common.ServerBroadcast,
				Revision: e.Revision,
				Op:       e.Op,
				Author:   e.Author,
			})
		}
		if err != nil {
			log.Printf("server: relay apply %q: %v", docID, err)
		}
		return
	}
	if err != nil {
		log.Printf("server: relay apply %q: %v", docID, err)
		return
	}
	s.broadcast(docID, "", common.Message{
		Type:     common.ServerBroadcast,
		Revision: env.Revision,
		Op:       env.Op,
		Author:   env.Author,
	})
}

// ws upgrades a connection into an editing session. The token maps the
// connection to a user before any ClientOp is accepted.
func (s *Server) ws(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docid"]
	uid, err := s.auth.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Invalid token", http.StatusForbidden)
		return
	}

	eng, err := s.engine(r.Context(), docID)
	if err != nil {
		log.Printf("server: open document %q: %v", docID, err)
		http.Error(w, "Document unavailable", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	sess := newSession(uuid.NewString(), uid, conn)
	go sess.writeLoop()
	go s.heartbeatLoop(sess)

	// Register and snapshot under the fan-out lock so the first
	// broadcast the session sees is the revision right after its
	// FullSync. A reconnecting client starts over from here.
	eng.fanMu.Lock()
	s.register(docID, sess)
	sess.trySend(s.fullSync(eng))
	eng.fanMu.Unlock()
	defer s.unregister(docID, sess.ID)

	s.interact(docID, eng, sess)
}

func (s *Server) register(docID string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.sessions[docID]
	if !ok {
		doc = make(map[string]*Session)
		s.sessions[docID] = doc
	}
	doc[sess.ID] = sess
	metrics.ConnectedSessions.Inc()
}

func (s *Server) unregister(docID, sessID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.sessions[docID]
	sess, ok := doc[sessID]
	if !ok {
		return
	}
	delete(doc, sessID)
	sess.close()
	metrics.ConnectedSessions.Dec()
}

// interact reads frames until the connection dies. Bad frames get an
// Error reply; the session survives them.
func (s *Server) interact(docID string, eng *Engine, sess *Session) {
	for {
		var m common.Message
		if err := sess.conn.ReadJSON(&m); err != nil {
			return
		}

		switch m.Type {
		case common.ClientOp:
			if m.Op == nil {
				sess.trySend(common.Message{Type: common.Error, Code: common.CodeBadMessage, Detail: "ClientOp without op"})
				continue
			}
			s.handleOp(docID, eng, sess, m)
		case common.Heartbeat:
			sess.trySend(common.Message{Type: common.HeartbeatAck, SentAt: m.SentAt})
		case common.HeartbeatAck:
			rtt := m.RTT(time.Now())
			sess.setLatency(rtt)
			metrics.HeartbeatRTT.Observe(rtt.Seconds())
		default:
			sess.trySend(common.Message{Type: common.Error, Code: common.CodeBadMessage, Detail: fmt.Sprintf("unexpected type %s", m.Type)})
		}
	}
}

func (s *Server) handleOp(docID string, eng *Engine, sess *Session, m common.Message) {
	// Commit and fan-out happen under one lock: without it two commits
	// could reach a session's queue out of revision order.
	eng.fanMu.Lock()
	start := time.Now()
	entry, err := eng.Submit(s.ctx, sess.ID, m.Revision, m.Op)
	metrics.ObserveSubmit(docID, start, err)
	if err != nil {
		eng.fanMu.Unlock()
		s.rejectOp(eng, sess, err)
		return
	}

	sess.setLastAcked(entry.Revision)
	sess.trySend(common.Message{Type: common.ServerAck, Revision: entry.Revision, Op: entry.Op})
	s.broadcast(docID, sess.ID, common.Message{
		Type:     common.ServerBroadcast,
		Revision: entry.Revision,
		Op:       entry.Op,
		Author:   sess.ID,
	})

	if s.rel != nil {
		if err := s.rel.Publish(s.ctx, docID, entry); err != nil {
			log.Printf("server: relay publish %q: %v", docID, err)
		}
	}
	eng.fanMu.Unlock()
}

func (s *Server) rejectOp(eng *Engine, sess *Session, err error) {
	switch {
	case errors.Is(err, ErrStaleRevision):
		// Recoverable: the client fell out of the retained window.
		metrics.OpsRejected.WithLabelValues("stale").Inc()
		sess.trySend(s.fullSync(eng))
	case errors.Is(err, ErrFutureRevision):
		metrics.OpsRejected.WithLabelValues("future").Inc()
		sess.trySend(common.Message{Type: common.Error, Code: common.CodeFutureRevision, Detail: err.Error()})
		sess.trySend(s.fullSync(eng))
	case errors.Is(err, ErrOperationInvalid):
		metrics.OpsRejected.WithLabelValues("invalid").Inc()
		sess.trySend(common.Message{Type: common.Error, Code: common.CodeOperationInvalid, Detail: err.Error()})
	default:
		metrics.OpsRejected.WithLabelValues("internal").Inc()
		log.Printf("server: submit: %v", err)
		sess.trySend(common.Message{Type: common.Error, Code: common.CodeBadMessage, Detail: "internal error"})
	}
}

func (s *Server) fullSync(eng *Engine) common.Message {
	rev, content := eng.Snapshot()
	return common.Message{Type: common.FullSync, Revision: rev, Content: content}
}

// broadcast queues msg to every session on docID except the author.
// A session whose queue is full has fallen too far behind and is
// dropped; it resynchronizes on reconnect.
func (s *Server) broadcast(docID, exceptID string, msg common.Message) {
	s.mu.RLock()
	var stale []string
	for id, sess := range s.sessions[docID] {
		if id == exceptID {
			continue
		}
		if sess.trySend(msg) {
			metrics.BroadcastsSent.Inc()
		} else {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range stale {
		log.Printf("server: dropping slow session %s on %q", id, docID)
		s.unregister(docID, id)
	}
}

// heartbeatLoop pings one session until it closes.
func (s *Server) heartbeatLoop(sess *Session) {
	t := time.NewTicker(s.hbInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			if !sess.trySend(common.NewHeartbeat()) {
				return
			}
		}
	}
}

// compactLoop periodically snapshots every engine and trims its
// in-memory log to the retention window.
func (s *Server) compactLoop() {
	t := time.NewTicker(s.compactEvery)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.mu.RLock()
			engines := make(map[string]*Engine, len(s.engines))
			for id, eng := range s.engines {
				engines[id] = eng
			}
			s.mu.RUnlock()

			for id, eng := range engines {
				if err := eng.Compact(s.ctx, s.retention); err != nil {
					log.Printf("server: compact %q: %v", id, err)
				}
			}
		}
	}
}
