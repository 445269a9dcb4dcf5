package client

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/cowrite/cowrite/internal/common"
	"github.com/cowrite/cowrite/internal/ot"
)

const defaultHeartbeatInterval = 15 * time.Second

// Editor connects a reconciliation machine to a server over a
// websocket. It performs the initial full sync, pumps inbound traffic
// into the machine, measures latency with heartbeats and reconnects
// with exponential backoff. After a reconnect the session starts over
// from a fresh snapshot; unacknowledged local edits are discarded.
type Editor struct {
	url    string
	ctx    context.Context
	cancel context.CancelFunc

	HeartbeatInterval time.Duration

	mu      sync.Mutex // guards machine, conn and latency; conn writes hold it
	machine *Machine
	conn    *websocket.Conn
	latency time.Duration
}

// Option tweaks an Editor before it connects.
type Option func(*Editor)

// WithHeartbeatInterval sets how often the editor pings the server.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(e *Editor) { e.HeartbeatInterval = d }
}

// Dial connects to url (a ws:// endpoint including any auth token),
// waits for the initial FullSync and starts the editor loops.
func Dial(ctx context.Context, url string, opts ...Option) (*Editor, error) {
	cctx, cancel := context.WithCancel(ctx)
	e := &Editor{
		url:               url,
		ctx:               cctx,
		cancel:            cancel,
		HeartbeatInterval: defaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.connect(); err != nil {
		cancel()
		return nil, err
	}
	go e.heartbeatLoop()
	return e, nil
}

// connect dials with exponential backoff until the context is done,
// then consumes the FullSync and starts a read loop.
func (e *Editor) connect() error {
	var conn *websocket.Conn
	dial := func() error {
		c, _, err := websocket.DefaultDialer.DialContext(e.ctx, e.url, nil)
		if err != nil {
			return err
		}
		var m common.Message
		if err := c.ReadJSON(&m); err != nil {
			c.Close()
			return err
		}
		if m.Type != common.FullSync {
			c.Close()
			return fmt.Errorf("client: expected FullSync, got %s", m.Type)
		}
		e.mu.Lock()
		if e.machine == nil {
			e.machine = NewMachine(m.Revision, m.Content, e)
		} else {
			e.machine.Resync(m.Revision, m.Content)
		}
		e.conn = c
		e.mu.Unlock()
		conn = c
		return nil
	}
	if err := backoff.Retry(dial, backoff.WithContext(backoff.NewExponentialBackOff(), e.ctx)); err != nil {
		return err
	}
	go e.readLoop(conn)
	return nil
}

func (e *Editor) readLoop(conn *websocket.Conn) {
	for {
		var m common.Message
		if err := conn.ReadJSON(&m); err != nil {
			if e.ctx.Err() != nil {
				return
			}
			log.Printf("client: connection lost, reconnecting: %v", err)
			if err := e.connect(); err != nil && e.ctx.Err() == nil {
				log.Printf("client: reconnect failed: %v", err)
			}
			return
		}
		if err := e.handle(m); err != nil {
			// Anything the machine cannot fold in means we missed
			// traffic; drop the connection and resynchronize.
			log.Printf("client: resynchronizing: %v", err)
			conn.Close()
		}
	}
}

func (e *Editor) handle(m common.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch m.Type {
	case common.ServerAck:
		return e.machine.Ack(m.Revision)
	case common.ServerBroadcast:
		if m.Op == nil {
			return fmt.Errorf("client: broadcast without op")
		}
		return e.machine.Remote(m.Revision, m.Op)
	case common.FullSync:
		e.machine.Resync(m.Revision, m.Content)
		return nil
	case common.Heartbeat:
		return e.conn.WriteJSON(common.Message{Type: common.HeartbeatAck, SentAt: m.SentAt})
	case common.HeartbeatAck:
		e.latency = m.RTT(time.Now())
		return nil
	case common.Error:
		return fmt.Errorf("client: server rejected message: %s %s", m.Code, m.Detail)
	default:
		log.Printf("client: ignoring message type %s", m.Type)
		return nil
	}
}

func (e *Editor) heartbeatLoop() {
	t := time.NewTicker(e.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-t.C:
			e.mu.Lock()
			if e.conn != nil {
				if err := e.conn.WriteJSON(common.NewHeartbeat()); err != nil {
					log.Printf("client: heartbeat: %v", err)
				}
			}
			e.mu.Unlock()
		}
	}
}

// SendOp implements Sender. The machine invokes it with e.mu held, so
// the write is already serialized.
func (e *Editor) SendOp(revision int, op *ot.Operation) error {
	if e.conn == nil {
		return fmt.Errorf("client: not connected")
	}
	return e.conn.WriteJSON(common.Message{Type: common.ClientOp, Revision: revision, Op: op})
}

// Edit applies a local edit and schedules it for delivery.
func (e *Editor) Edit(op *ot.Operation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Edit(op)
}

// EditWith builds an edit from the current text and applies it in one
// step, so no server traffic can slip between read and edit.
func (e *Editor) EditWith(f func(text string) *ot.Operation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Edit(f(e.machine.Text()))
}

// Text returns the local copy of the document.
func (e *Editor) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Text()
}

// Revision returns the last server revision seen.
func (e *Editor) Revision() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Revision()
}

// State names the reconciliation state, for logging and tests.
func (e *Editor) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.State()
}

// Latency returns the last heartbeat round trip time.
func (e *Editor) Latency() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latency
}

// Close tears the session down.
func (e *Editor) Close() error {
	e.cancel()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}
