// Package protocol implements the newline-delimited JSON envelope spoken
// between clients and the game server.
//
// Inbound lines are {"type","seq","token","payload"}. The payload is kept as
// raw text and read key-by-key on demand. Outbound lines are either
// responses ({"type":"response"|"error","seq","success","message","payload"})
// or events ({"type":"<event>","payload"}).
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrParse is returned when a line is not an envelope with a type and an object payload.
var ErrParse = errors.New("PARSE_ERROR")

// Error codes carried in error payloads.
const (
	CodeParseError  = "PARSE_ERROR"
	CodeRateLimited = "RATE_LIMITED"
)

// M is a convenience alias for ad-hoc payload objects.
type M = map[string]any

// Message is one decoded inbound envelope.
type Message struct {
	Type    string
	Seq     int
	Token   string
	Payload Payload
}

// Decode parses a single line (without the terminator).
func Decode(line []byte) (*Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, ErrParse
	}
	msg := &Message{}
	var hasType, hasPayload bool
	err := eachField(line, func(key string, val []byte) bool {
		switch key {
		case "type":
			var s string
			if json.Unmarshal(val, &s) == nil && s != "" {
				msg.Type, hasType = s, true
			}
		case "seq":
			msg.Seq = scalarInt(val)
		case "token":
			var s string
			if json.Unmarshal(val, &s) == nil {
				msg.Token = s
			}
		case "payload":
			if len(val) > 0 && val[0] == '{' {
				msg.Payload = Payload(append([]byte(nil), val...))
				hasPayload = true
			}
		}
		return true
	})
	if err != nil || !hasType || !hasPayload {
		return nil, ErrParse
	}
	return msg, nil
}

type response struct {
	Type    string `json:"type"`
	Seq     int    `json:"seq"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Payload any    `json:"payload,omitempty"`
}

type event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// EncodeResponse renders a reply to a request. A nil payload is omitted.
func EncodeResponse(seq int, success bool, message string, payload any) []byte {
	typ := "response"
	if !success {
		typ = "error"
	}
	return encodeLine(response{Type: typ, Seq: seq, Success: success, Message: message, Payload: payload})
}

// EncodeEvent renders an unsolicited server event.
func EncodeEvent(typ string, payload any) []byte {
	if payload == nil {
		payload = M{}
	}
	return encodeLine(event{Type: typ, Payload: payload})
}

// EncodeError renders a coded, non-fatal error reply.
func EncodeError(seq int, code, message string) []byte {
	return EncodeResponse(seq, false, message, M{"error_code": code, "fatal": false})
}

// EncodeParseError is the reply to a line that could not be decoded.
func EncodeParseError() []byte {
	return EncodeError(0, CodeParseError, "Invalid JSON")
}

func encodeLine(v any) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// payloads are built from plain values; fall back to a bare error line
		return []byte(`{"type":"error","seq":0,"success":false,"message":"` + strconv.Quote(err.Error())[1:] + "}\n")
	}
	return buf.Bytes()
}
