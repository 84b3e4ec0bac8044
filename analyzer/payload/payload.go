// Package payload decodes the JSON arguments of block items.
//
// Arguments arrive either as an object keyed by field name or, for items
// from older runtime versions, as a positional array. A single-field item
// may also carry its argument bare.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field binds an argument name to its destination.
type Field struct {
	Name     string
	Dst      interface{}
	Optional bool
}

// Arg is a required field.
func Arg(name string, dst interface{}) Field {
	return Field{Name: name, Dst: dst}
}

// OptArg is a field that may be absent or null.
func OptArg(name string, dst interface{}) Field {
	return Field{Name: name, Dst: dst, Optional: true}
}

// Decode unmarshals raw into the given fields.
func Decode(raw json.RawMessage, fields ...Field) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decodeMissing(fields, 0)
	}
	switch raw[0] {
	case '{':
		var named map[string]json.RawMessage
		if err := json.Unmarshal(raw, &named); err != nil {
			return err
		}
		for _, f := range fields {
			v, ok := named[f.Name]
			if !ok {
				if f.Optional {
					continue
				}
				return fmt.Errorf("missing field %q", f.Name)
			}
			if err := unmarshalField(f, v); err != nil {
				return err
			}
		}
		return nil
	case '[':
		var positional []json.RawMessage
		if err := json.Unmarshal(raw, &positional); err != nil {
			return err
		}
		for i, f := range fields {
			if i >= len(positional) {
				return decodeMissing(fields, i)
			}
			if err := unmarshalField(f, positional[i]); err != nil {
				return err
			}
		}
		return nil
	default:
		if len(fields) != 1 {
			return fmt.Errorf("scalar payload for %d fields", len(fields))
		}
		return unmarshalField(fields[0], raw)
	}
}

func decodeMissing(fields []Field, from int) error {
	for _, f := range fields[from:] {
		if !f.Optional {
			return fmt.Errorf("missing field %q", f.Name)
		}
	}
	return nil
}

func unmarshalField(f Field, raw json.RawMessage) error {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if f.Optional {
			return nil
		}
		return fmt.Errorf("field %q is null", f.Name)
	}
	if err := json.Unmarshal(raw, f.Dst); err != nil {
		return fmt.Errorf("field %q: %w", f.Name, err)
	}
	return nil
}
