// Package ot implements the operation algebra for collaborative text
// editing: apply, compose, transform and invert over operations built
// from retain/insert/delete components. All functions are pure; they
// either fully succeed or return an error before producing output.
//
// Lengths are counted in Unicode code points, not bytes.
package ot

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLengthMismatch is returned by Apply when an operation's base
	// length does not match the length of the text it is applied to.
	ErrLengthMismatch = errors.New("ot: operation base length does not match text length")

	// ErrIncompatibleLengths is returned by Compose when the first
	// operation's target length differs from the second's base length.
	ErrIncompatibleLengths = errors.New("ot: compose requires a.TargetLen == b.BaseLen")

	// ErrDivergentBase is returned by Transform when the two operations
	// were not derived from the same source text.
	ErrDivergentBase = errors.New("ot: transform requires equal base lengths")

	// ErrInvalid is returned when decoding a malformed operation.
	ErrInvalid = errors.New("ot: invalid operation")
)

// Kind discriminates the component variants.
type Kind uint8

const (
	KindRetain Kind = iota
	KindInsert
	KindDelete
)

// Component is one step of an operation: Retain(N), Insert(S) or
// Delete(N). Zero-length components are never stored and adjacent
// components of the same kind are always merged.
type Component struct {
	Kind Kind
	N    int    // length for Retain and Delete
	S    string // text for Insert
}

// Len reports how many code points the component covers.
func (c Component) Len() int {
	if c.Kind == KindInsert {
		return len([]rune(c.S))
	}
	return c.N
}

func (c Component) String() string {
	switch c.Kind {
	case KindRetain:
		return fmt.Sprintf("retain(%d)", c.N)
	case KindInsert:
		return fmt.Sprintf("insert(%q)", c.S)
	default:
		return fmt.Sprintf("delete(%d)", c.N)
	}
}

// Operation is an ordered sequence of components describing an edit.
// BaseLen is the length of text the operation consumes, TargetLen the
// length it produces; both are maintained by the builder methods.
type Operation struct {
	Comps     []Component
	BaseLen   int
	TargetLen int
}

// New returns an empty operation.
func New() *Operation {
	return &Operation{}
}

// Retain appends a retain component, merging with a trailing retain.
// Chainable. Panics on negative n; zero is a no-op.
func (op *Operation) Retain(n int) *Operation {
	if n < 0 {
		panic("ot: negative retain")
	}
	if n == 0 {
		return op
	}
	op.BaseLen += n
	op.TargetLen += n
	if l := len(op.Comps); l > 0 && op.Comps[l-1].Kind == KindRetain {
		op.Comps[l-1].N += n
	} else {
		op.Comps = append(op.Comps, Component{Kind: KindRetain, N: n})
	}
	return op
}

// Insert appends an insert component. An insert directly after a
// delete is moved in front of it, so insert-before-delete is the
// canonical order at any position; the two orders apply identically.
func (op *Operation) Insert(s string) *Operation {
	if s == "" {
		return op
	}
	op.TargetLen += len([]rune(s))
	l := len(op.Comps)
	switch {
	case l > 0 && op.Comps[l-1].Kind == KindInsert:
		op.Comps[l-1].S += s
	case l > 0 && op.Comps[l-1].Kind == KindDelete:
		if l > 1 && op.Comps[l-2].Kind == KindInsert {
			op.Comps[l-2].S += s
		} else {
			op.Comps = append(op.Comps, op.Comps[l-1])
			op.Comps[l-1] = Component{Kind: KindInsert, S: s}
		}
	default:
		op.Comps = append(op.Comps, Component{Kind: KindInsert, S: s})
	}
	return op
}

// Delete appends a delete component, merging with a trailing delete.
// Chainable. Panics on negative n; zero is a no-op.
func (op *Operation) Delete(n int) *Operation {
	if n < 0 {
		panic("ot: negative delete")
	}
	if n == 0 {
		return op
	}
	op.BaseLen += n
	if l := len(op.Comps); l > 0 && op.Comps[l-1].Kind == KindDelete {
		op.Comps[l-1].N += n
	} else {
		op.Comps = append(op.Comps, Component{Kind: KindDelete, N: n})
	}
	return op
}

// IsNoop reports whether the operation leaves any text unchanged,
// i.e. it is empty or a single retain.
func (op *Operation) IsNoop() bool {
	if len(op.Comps) == 0 {
		return true
	}
	return len(op.Comps) == 1 && op.Comps[0].Kind == KindRetain
}

// Noop returns the identity operation over a text of length n.
func Noop(n int) *Operation {
	return New().Retain(n)
}

func (op *Operation) String() string {
	parts := make([]string, len(op.Comps))
	for i, c := range op.Comps {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}

// Apply runs op over text and returns the result. Fails with
// ErrLengthMismatch unless len(text) == op.BaseLen.
func Apply(text string, op *Operation) (string, error) {
	src := []rune(text)
	if len(src) != op.BaseLen {
		return "", fmt.Errorf("%w: text %d, op %d", ErrLengthMismatch, len(src), op.BaseLen)
	}
	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, c := range op.Comps {
		switch c.Kind {
		case KindRetain:
			b.WriteString(string(src[pos : pos+c.N]))
			pos += c.N
		case KindInsert:
			b.WriteString(c.S)
		case KindDelete:
			pos += c.N
		}
	}
	return b.String(), nil
}

// Invert builds the operation that undoes op when applied to its
// output. original must be the text op was applied to; deleted runs
// are read back from it so they can be re-inserted.
func Invert(op *Operation, original string) (*Operation, error) {
	src := []rune(original)
	if len(src) != op.BaseLen {
		return nil, fmt.Errorf("%w: text %d, op %d", ErrLengthMismatch, len(src), op.BaseLen)
	}
	inv := New()
	pos := 0
	for _, c := range op.Comps {
		switch c.Kind {
		case KindRetain:
			inv.Retain(c.N)
			pos += c.N
		case KindInsert:
			inv.Delete(len([]rune(c.S)))
		case KindDelete:
			inv.Insert(string(src[pos : pos+c.N]))
			pos += c.N
		}
	}
	return inv, nil
}
