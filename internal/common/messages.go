// Package common defines the wire messages exchanged between editing
// clients and the server. Messages are transport-agnostic JSON and may
// be carried over any duplex channel; here they ride on websockets.
package common

import (
	"time"

	"github.com/cowrite/cowrite/internal/ot"
)

type MsgType string

const (
	// ClientOp submits an edit made against Revision.
	ClientOp MsgType = "ClientOp"
	// ServerAck confirms a commit to the originating client and carries
	// the (possibly transformed) committed operation.
	ServerAck MsgType = "ServerAck"
	// ServerBroadcast delivers a committed operation to every other client.
	ServerBroadcast MsgType = "ServerBroadcast"
	// FullSync carries a full document snapshot, sent on connect and
	// whenever a client has fallen behind the retained log window.
	FullSync MsgType = "FullSync"
	// Heartbeat and HeartbeatAck measure round-trip latency. Either side
	// may send a Heartbeat; the peer echoes SentAt back unchanged.
	Heartbeat    MsgType = "Heartbeat"
	HeartbeatAck MsgType = "HeartbeatAck"
	// Error reports a rejected message; the session stays up.
	Error MsgType = "Error"
)

// Error codes carried in Message.Code.
const (
	CodeOperationInvalid = "OperationInvalid"
	CodeFutureRevision   = "FutureRevision"
	CodeBadMessage       = "BadMessage"
)

// Message is the single envelope for all frame types; unused fields
// are omitted on the wire.
type Message struct {
	Type     MsgType       `json:"type"`
	Revision int           `json:"revision"`
	Op       *ot.Operation `json:"op,omitempty"`
	Author   string        `json:"author,omitempty"`
	Content  string        `json:"content,omitempty"`
	SentAt   int64         `json:"sentAt,omitempty"` // unix milliseconds
	Code     string        `json:"code,omitempty"`
	Detail   string        `json:"detail,omitempty"`
}

// NewHeartbeat stamps a heartbeat with the current wall clock.
func NewHeartbeat() Message {
	return Message{Type: Heartbeat, SentAt: time.Now().UnixMilli()}
}

// RTT returns the round trip time encoded in a HeartbeatAck.
func (m Message) RTT(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(m.SentAt))
}
