package ot

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// The wire form of an operation is a JSON array mixing integers and
// strings: a positive integer retains, a string inserts, a negative
// integer deletes. retain(6) insert("ab") delete(2) -> [6,"ab",-2].

func (op *Operation) MarshalJSON() ([]byte, error) {
	raw := make([]interface{}, len(op.Comps))
	for i, c := range op.Comps {
		switch c.Kind {
		case KindRetain:
			raw[i] = c.N
		case KindInsert:
			raw[i] = c.S
		case KindDelete:
			raw[i] = -c.N
		}
	}
	return json.Marshal(raw)
}

func (op *Operation) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []interface{}
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	*op = Operation{}
	for _, v := range raw {
		switch t := v.(type) {
		case string:
			if t == "" {
				return fmt.Errorf("%w: empty insert", ErrInvalid)
			}
			op.Insert(t)
		case json.Number:
			n, err := t.Int64()
			if err != nil {
				return fmt.Errorf("%w: non-integer component %q", ErrInvalid, t)
			}
			switch {
			case n > 0:
				op.Retain(int(n))
			case n < 0:
				op.Delete(int(-n))
			default:
				return fmt.Errorf("%w: zero-length component", ErrInvalid)
			}
		default:
			return fmt.Errorf("%w: component %T", ErrInvalid, v)
		}
	}
	return nil
}
