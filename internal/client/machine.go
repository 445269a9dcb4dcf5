package client

import (
	"fmt"

	"github.com/cowrite/cowrite/internal/ot"
)

// Sender ships an operation claimed against a revision to the server.
type Sender interface {
	SendOp(revision int, op *ot.Operation) error
}

// Machine is the per-session reconciliation state machine. It owns the
// local copy of the document and the last known server revision and
// guarantees at most one operation is in flight at a time.
//
// Machine is not safe for concurrent use; callers serialize access.
type Machine struct {
	sender Sender
	doc    string
	rev    int
	state  syncState
}

// NewMachine starts a machine from a server snapshot, in Synchronized.
func NewMachine(revision int, content string, sender Sender) *Machine {
	return &Machine{
		sender: sender,
		doc:    content,
		rev:    revision,
		state:  synchronized{},
	}
}

// Text returns the local document.
func (m *Machine) Text() string { return m.doc }

// Revision returns the last server revision this machine has seen.
func (m *Machine) Revision() int { return m.rev }

// State names the current reconciliation state.
func (m *Machine) State() string { return m.state.name() }

func (m *Machine) send(op *ot.Operation) error {
	return m.sender.SendOp(m.rev, op)
}

// Edit applies a local edit to the document and either sends it or
// buffers it behind the in-flight operation. No-op edits are dropped.
func (m *Machine) Edit(op *ot.Operation) error {
	if op.IsNoop() {
		return nil
	}
	doc, err := ot.Apply(m.doc, op)
	if err != nil {
		return fmt.Errorf("client: local edit: %w", err)
	}
	next, err := m.state.localEdit(m, op)
	if err != nil {
		return err
	}
	m.doc = doc
	m.state = next
	return nil
}

// Ack handles a server acknowledgement of our in-flight operation: the
// local revision advances and any buffered edit is sent.
func (m *Machine) Ack(revision int) error {
	// Advance first: a buffered edit flushed by the ack is claimed
	// against the revision the ack confirmed.
	prev := m.rev
	m.rev = revision
	next, err := m.state.ack(m)
	if err != nil {
		m.rev = prev
		return err
	}
	m.state = next
	return nil
}

// Remote folds in an operation committed by another session. The op is
// transformed past the in-flight operation and buffer (the server op
// is senior), applied to the local document, and the local operations
// are replaced by their transforms without being resent.
func (m *Machine) Remote(revision int, op *ot.Operation) error {
	if revision != m.rev+1 {
		return fmt.Errorf("%w: have %d, got %d", ErrRevisionGap, m.rev, revision)
	}
	opLocal, next, err := m.state.remote(m, op)
	if err != nil {
		return err
	}
	doc, err := ot.Apply(m.doc, opLocal)
	if err != nil {
		return fmt.Errorf("client: apply remote op: %w", err)
	}
	m.doc = doc
	m.rev = revision
	m.state = next
	return nil
}

// Resync resets the machine from a fresh server snapshot, discarding
// any unresolved in-flight state.
func (m *Machine) Resync(revision int, content string) {
	m.doc = content
	m.rev = revision
	m.state = synchronized{}
}
