package ot

import "fmt"

// stream walks an operation's components and supports consuming a
// prefix of the current component, measured in code points.
type stream struct {
	comps []Component
	i     int
	cur   Component
	ok    bool
}

func newStream(comps []Component) *stream {
	s := &stream{comps: comps}
	s.advance()
	return s
}

func (s *stream) advance() {
	if s.i < len(s.comps) {
		s.cur = s.comps[s.i]
		s.i++
		s.ok = true
	} else {
		s.ok = false
	}
}

func (s *stream) consume(n int) {
	if n == s.cur.Len() {
		s.advance()
		return
	}
	if s.cur.Kind == KindInsert {
		s.cur.S = string([]rune(s.cur.S)[n:])
	} else {
		s.cur.N -= n
	}
}

// headInsert returns the first n code points of the current insert.
func (s *stream) headInsert(n int) string {
	r := []rune(s.cur.S)
	if n >= len(r) {
		return s.cur.S
	}
	return string(r[:n])
}

// Compose merges two sequential operations into one, such that
// Apply(Apply(t, a), b) == Apply(t, Compose(a, b)). Fails with
// ErrIncompatibleLengths unless a.TargetLen == b.BaseLen.
func Compose(a, b *Operation) (*Operation, error) {
	if a.TargetLen != b.BaseLen {
		return nil, fmt.Errorf("%w: a target %d, b base %d", ErrIncompatibleLengths, a.TargetLen, b.BaseLen)
	}
	out := New()
	s1, s2 := newStream(a.Comps), newStream(b.Comps)

	for s1.ok || s2.ok {
		// a's deletes and b's inserts pass through untouched: a's
		// delete consumed source text b never saw, and b's insert
		// produces text a never saw.
		if s1.ok && s1.cur.Kind == KindDelete {
			out.Delete(s1.cur.N)
			s1.advance()
			continue
		}
		if s2.ok && s2.cur.Kind == KindInsert {
			out.Insert(s2.cur.S)
			s2.advance()
			continue
		}
		if !s1.ok || !s2.ok {
			return nil, fmt.Errorf("%w: component streams misaligned", ErrIncompatibleLengths)
		}

		n := min(s1.cur.Len(), s2.cur.Len())
		switch {
		case s1.cur.Kind == KindRetain && s2.cur.Kind == KindRetain:
			out.Retain(n)
		case s1.cur.Kind == KindRetain && s2.cur.Kind == KindDelete:
			out.Delete(n)
		case s1.cur.Kind == KindInsert && s2.cur.Kind == KindRetain:
			out.Insert(s1.headInsert(n))
		case s1.cur.Kind == KindInsert && s2.cur.Kind == KindDelete:
			// b deletes what a inserted; the pair cancels.
		}
		s1.consume(n)
		s2.consume(n)
	}
	return out, nil
}
