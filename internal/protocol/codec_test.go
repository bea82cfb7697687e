package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	line := []byte(`{"type":"move","seq":7,"token":"abc","payload":{"match_id":"m1","from_row":3,"from_col":4,"note":"a } brace","nested":{"x":{"y":1}},"accept":true}}`)
	msg, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != "move" || msg.Seq != 7 || msg.Token != "abc" {
		t.Fatalf("unexpected envelope: %+v", msg)
	}
	if id, ok := msg.Payload.String("match_id"); !ok || id != "m1" {
		t.Fatalf("match_id: %q %v", id, ok)
	}
	if msg.Payload.Int("from_row") != 3 || msg.Payload.Int("from_col") != 4 {
		t.Fatalf("int accessors broken")
	}
	if note, _ := msg.Payload.String("note"); note != "a } brace" {
		t.Fatalf("brace inside string must not end payload: %q", note)
	}
	if !msg.Payload.Bool("accept") {
		t.Fatalf("accept should be true")
	}
	// nested keys are not visible at the top level
	if msg.Payload.Has("y") {
		t.Fatalf("nested key leaked to top level")
	}
}

func TestDecodeMissingFields(t *testing.T) {
	cases := []string{
		``,
		`not json`,
		`{"seq":1,"payload":{}}`,
		`{"type":"ping","seq":1}`,
		`{"type":"ping","payload":"nope"}`,
		`{"type":"ping","payload":{"a":1}`,
	}
	for _, c := range cases {
		if _, err := Decode([]byte(c)); !errors.Is(err, ErrParse) {
			t.Fatalf("expected ErrParse for %q, got %v", c, err)
		}
	}
}

func TestDecodeOptionalTokenAndSeq(t *testing.T) {
	msg, err := Decode([]byte(`  {"type":"ping","token":null,"payload":{}}  `))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Seq != 0 || msg.Token != "" {
		t.Fatalf("expected zero seq/token, got %+v", msg)
	}
}

func TestPayloadAccessorDefaults(t *testing.T) {
	p := Payload(`{"s":5,"n":"x","b":"true","f":2.9}`)
	if _, ok := p.String("s"); ok {
		t.Fatalf("number must not read as string")
	}
	if p.Int("n") != 0 || p.Int("missing") != 0 {
		t.Fatalf("non-number ints must be 0")
	}
	if p.Bool("b") {
		t.Fatalf("string \"true\" is not a bool")
	}
	if p.Int("f") != 2 {
		t.Fatalf("float should truncate, got %d", p.Int("f"))
	}
}

func TestEncodeResponseEscaping(t *testing.T) {
	line := EncodeResponse(3, true, "say \"hi\"\\\n\r\t<b>", M{"k": "v"})
	if !strings.HasSuffix(string(line), "\n") || strings.Count(string(line), "\n") != 1 {
		t.Fatalf("response must be exactly one line: %q", line)
	}
	var out struct {
		Type    string         `json:"type"`
		Seq     int            `json:"seq"`
		Success bool           `json:"success"`
		Message string         `json:"message"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(line, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != "response" || out.Seq != 3 || !out.Success || out.Message != "say \"hi\"\\\n\r\t<b>" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if !strings.Contains(string(line), "<b>") {
		t.Fatalf("html should not be escaped: %s", line)
	}
}

func TestEncodeErrorOmitsNilPayload(t *testing.T) {
	line := string(EncodeResponse(9, false, "Not your turn", nil))
	if !strings.HasPrefix(line, `{"type":"error","seq":9,"success":false,"message":"Not your turn"}`) {
		t.Fatalf("unexpected error line: %s", line)
	}
}

func TestEncodeParseError(t *testing.T) {
	var out map[string]any
	if err := json.Unmarshal(EncodeParseError(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p := out["payload"].(map[string]any)
	if out["type"] != "error" || out["message"] != "Invalid JSON" || p["error_code"] != CodeParseError {
		t.Fatalf("unexpected parse error: %v", out)
	}
}

func TestEncodeEvent(t *testing.T) {
	line := string(EncodeEvent("draw_offer", M{"match_id": "m1"}))
	if line != "{\"type\":\"draw_offer\",\"payload\":{\"match_id\":\"m1\"}}\n" {
		t.Fatalf("unexpected event: %q", line)
	}
	if got := string(EncodeEvent("x", nil)); got != "{\"type\":\"x\",\"payload\":{}}\n" {
		t.Fatalf("nil payload should encode as {}: %q", got)
	}
}
