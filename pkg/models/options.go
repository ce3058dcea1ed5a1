package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Option is a single request option. Value holds the raw JSON encoding.
type Option struct {
	Key   string
	Value json.RawMessage
}

// Options is an ordered option list. It decodes from and encodes to a JSON
// object while keeping the caller's key order, which the cache fingerprint
// depends on.
type Options []Option

// NewOption encodes value as JSON. Values that cannot be encoded are stored as null.
func NewOption(key string, value any) Option {
	raw, err := json.Marshal(value)
	if err != nil {
		raw = []byte("null")
	}
	return Option{Key: key, Value: raw}
}

// Get returns the raw value of the last option named key.
func (o Options) Get(key string) (json.RawMessage, bool) {
	for i := len(o) - 1; i >= 0; i-- {
		if o[i].Key == key {
			return o[i].Value, true
		}
	}
	return nil, false
}

// MarshalJSON implements json.Marshaler.
func (o Options) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, opt := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(opt.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(opt.Value) == 0 {
			buf.WriteString("null")
			continue
		}
		if err := json.Compact(&buf, opt.Value); err != nil {
			return nil, fmt.Errorf("option %q: %w", opt.Key, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler. Only JSON objects (or null) are accepted.
func (o *Options) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*o = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("options must be a JSON object")
	}

	out := Options{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected option key %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("option %q: %w", key, err)
		}
		out = append(out, Option{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*o = out
	return nil
}
