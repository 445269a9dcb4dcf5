package ot

import "fmt"

// TransformPair derives the bottom two sides of the transform diamond:
// for a and b built against the same text, it returns a' and b' with
//
//	Apply(Apply(t, a), b') == Apply(Apply(t, b), a')
//
// a is senior: when both operations insert at the same position, a's
// text ends up first. Fails with ErrDivergentBase unless the base
// lengths match.
func TransformPair(a, b *Operation) (ap, bp *Operation, err error) {
	if a.BaseLen != b.BaseLen {
		return nil, nil, fmt.Errorf("%w: a %d, b %d", ErrDivergentBase, a.BaseLen, b.BaseLen)
	}
	ap, bp = New(), New()
	s1, s2 := newStream(a.Comps), newStream(b.Comps)

	for s1.ok || s2.ok {
		// Inserts consume no source text, so each side's insert is
		// emitted whole and retained by the other. The senior side is
		// checked first, which settles same-position insert ties.
		if s1.ok && s1.cur.Kind == KindInsert {
			ap.Insert(s1.cur.S)
			bp.Retain(s1.cur.Len())
			s1.advance()
			continue
		}
		if s2.ok && s2.cur.Kind == KindInsert {
			ap.Retain(s2.cur.Len())
			bp.Insert(s2.cur.S)
			s2.advance()
			continue
		}
		if !s1.ok || !s2.ok {
			return nil, nil, fmt.Errorf("%w: component streams misaligned", ErrDivergentBase)
		}

		n := min(s1.cur.Len(), s2.cur.Len())
		switch {
		case s1.cur.Kind == KindRetain && s2.cur.Kind == KindRetain:
			ap.Retain(n)
			bp.Retain(n)
		case s1.cur.Kind == KindDelete && s2.cur.Kind == KindDelete:
			// Both sides deleted the same run; it is already gone for
			// each of them.
		case s1.cur.Kind == KindDelete && s2.cur.Kind == KindRetain:
			ap.Delete(n)
		case s1.cur.Kind == KindRetain && s2.cur.Kind == KindDelete:
			bp.Delete(n)
		}
		s1.consume(n)
		s2.consume(n)
	}
	return ap, bp, nil
}

// Transform returns the version of a that applies after b has already
// been applied. aSenior picks the winner of the only ambiguous case,
// two inserts at the same position; every other component pairing has
// a single correct outcome regardless of the flag.
func Transform(a, b *Operation, aSenior bool) (*Operation, error) {
	if aSenior {
		ap, _, err := TransformPair(a, b)
		return ap, err
	}
	_, ap, err := TransformPair(b, a)
	return ap, err
}
