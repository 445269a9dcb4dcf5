// Package client implements the editing-session side of the sync
// protocol: the three-state reconciliation machine that decides when
// local edits are sent and how server traffic is merged with them,
// plus a websocket editor that drives the machine over the network.
package client

import (
	"errors"
	"fmt"

	"github.com/cowrite/cowrite/internal/ot"
)

// State names, visible through Machine.State.
const (
	StateSynchronized       = "Synchronized"
	StateAwaitingConfirm    = "AwaitingConfirm"
	StateAwaitingWithBuffer = "AwaitingWithBuffer"
)

var (
	// ErrUnexpectedAck means the server acknowledged while nothing was
	// in flight; the session is out of sync and must resynchronize.
	ErrUnexpectedAck = errors.New("client: ack received while synchronized")

	// ErrRevisionGap means a broadcast skipped a revision; the session
	// missed traffic and must resynchronize.
	ErrRevisionGap = errors.New("client: revision gap in server stream")
)

// syncState is one of the three reconciliation states. Transitions
// return the successor state; remote additionally returns the server
// operation rewritten to apply to the local document.
type syncState interface {
	name() string
	localEdit(m *Machine, op *ot.Operation) (syncState, error)
	ack(m *Machine) (syncState, error)
	remote(m *Machine, op *ot.Operation) (*ot.Operation, syncState, error)
}

// synchronized: no outstanding local operation.
type synchronized struct{}

func (synchronized) name() string { return StateSynchronized }

func (synchronized) localEdit(m *Machine, op *ot.Operation) (syncState, error) {
	if err := m.send(op); err != nil {
		return nil, err
	}
	return awaitingConfirm{inFlight: op}, nil
}

func (synchronized) ack(*Machine) (syncState, error) {
	return nil, ErrUnexpectedAck
}

func (s synchronized) remote(_ *Machine, op *ot.Operation) (*ot.Operation, syncState, error) {
	return op, s, nil
}

// awaitingConfirm: one operation sent, not yet acknowledged.
type awaitingConfirm struct {
	inFlight *ot.Operation
}

func (awaitingConfirm) name() string { return StateAwaitingConfirm }

func (s awaitingConfirm) localEdit(_ *Machine, op *ot.Operation) (syncState, error) {
	return awaitingWithBuffer{inFlight: s.inFlight, buffer: op}, nil
}

func (awaitingConfirm) ack(*Machine) (syncState, error) {
	return synchronized{}, nil
}

func (s awaitingConfirm) remote(_ *Machine, op *ot.Operation) (*ot.Operation, syncState, error) {
	// The server op was committed first, so it is senior to our
	// unacknowledged edit.
	opPrime, inFlightPrime, err := transformBoth(op, s.inFlight)
	if err != nil {
		return nil, nil, err
	}
	return opPrime, awaitingConfirm{inFlight: inFlightPrime}, nil
}

// awaitingWithBuffer: one operation in flight plus later local edits
// composed into a buffer.
type awaitingWithBuffer struct {
	inFlight *ot.Operation
	buffer   *ot.Operation
}

func (awaitingWithBuffer) name() string { return StateAwaitingWithBuffer }

func (s awaitingWithBuffer) localEdit(_ *Machine, op *ot.Operation) (syncState, error) {
	buffer, err := ot.Compose(s.buffer, op)
	if err != nil {
		return nil, err
	}
	return awaitingWithBuffer{inFlight: s.inFlight, buffer: buffer}, nil
}

func (s awaitingWithBuffer) ack(m *Machine) (syncState, error) {
	if s.buffer.IsNoop() {
		return synchronized{}, nil
	}
	if err := m.send(s.buffer); err != nil {
		return nil, err
	}
	return awaitingConfirm{inFlight: s.buffer}, nil
}

func (s awaitingWithBuffer) remote(_ *Machine, op *ot.Operation) (*ot.Operation, syncState, error) {
	opPrime, inFlightPrime, err := transformBoth(op, s.inFlight)
	if err != nil {
		return nil, nil, err
	}
	opDouble, bufferPrime, err := transformBoth(opPrime, s.buffer)
	if err != nil {
		return nil, nil, err
	}
	return opDouble, awaitingWithBuffer{inFlight: inFlightPrime, buffer: bufferPrime}, nil
}

// transformBoth rewrites the senior server op past a local op and vice
// versa.
func transformBoth(serverOp, localOp *ot.Operation) (serverPrime, localPrime *ot.Operation, err error) {
	serverPrime, localPrime, err = ot.TransformPair(serverOp, localOp)
	if err != nil {
		return nil, nil, fmt.Errorf("client: transform against local edit: %w", err)
	}
	return serverPrime, localPrime, nil
}
