package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Payload is the raw text of a message's payload object. Values are located
// and decoded per key on each access; nothing is materialized up front.
type Payload []byte

func (p Payload) lookup(key string) ([]byte, bool) {
	var out []byte
	found := false
	_ = eachField(p, func(k string, v []byte) bool {
		if k == key {
			out, found = v, true
			return false
		}
		return true
	})
	return out, found
}

// Has reports whether key is present (even as null).
func (p Payload) Has(key string) bool {
	_, ok := p.lookup(key)
	return ok
}

// String returns the string value at key. Non-string and null values report false.
func (p Payload) String(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok || len(v) == 0 || v[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// Int returns the numeric value at key truncated to int, or 0.
func (p Payload) Int(key string) int {
	v, ok := p.lookup(key)
	if !ok {
		return 0
	}
	return scalarInt(v)
}

// Bool returns true only for a literal true at key.
func (p Payload) Bool(key string) bool {
	v, ok := p.lookup(key)
	return ok && bytes.Equal(v, []byte("true"))
}

func scalarInt(v []byte) int {
	if n, err := strconv.Atoi(string(v)); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(string(v), 64); err == nil {
		return int(f)
	}
	return 0
}
