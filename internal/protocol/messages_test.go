package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseInbound(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("ParseInbound() error: %v", err)
	}
	if msg.Text != "hello" {
		t.Errorf("expected text %q, got %q", "hello", msg.Text)
	}
}

func TestParseInboundIgnoresExtraFields(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"text":"hi","room":"general","x":1}`))
	if err != nil {
		t.Fatalf("ParseInbound() error: %v", err)
	}
	if msg.Text != "hi" {
		t.Errorf("expected text %q, got %q", "hi", msg.Text)
	}
}

func TestParseInboundRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed json", `{"text":`},
		{"not an object", `"just a string"`},
		{"missing text", `{"type":"message"}`},
		{"empty text", `{"text":""}`},
		{"non-string text", `{"text":42}`},
		{"oversize frame", `{"text":"` + strings.Repeat("a", MaxMessageBytes) + `"}`},
		{"too many chars", `{"text":"` + strings.Repeat("é", MaxTextChars+1) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseInbound([]byte(tt.data)); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestNewChatMessage(t *testing.T) {
	data, err := NewChatMessage("alice", "hi there", 1712345678901)
	if err != nil {
		t.Fatalf("NewChatMessage() error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["user"] != "alice" {
		t.Errorf("expected user=alice, got %v", m["user"])
	}
	if m["text"] != "hi there" {
		t.Errorf("expected text=%q, got %v", "hi there", m["text"])
	}
	if int64(m["ts"].(float64)) != 1712345678901 {
		t.Errorf("expected ts=1712345678901, got %v", m["ts"])
	}
}

func TestNewRateLimited(t *testing.T) {
	var m map[string]string
	if err := json.Unmarshal(NewRateLimited(), &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypeRateLimited {
		t.Errorf("expected type=%q, got %q", TypeRateLimited, m["type"])
	}
}

func TestNewOnlineUsersEmpty(t *testing.T) {
	data, err := NewOnlineUsers(nil)
	if err != nil {
		t.Fatalf("NewOnlineUsers() error: %v", err)
	}
	if !strings.Contains(string(data), `"users":[]`) {
		t.Errorf("nil user list should encode as empty array, got %s", data)
	}
}

func TestNewOnlineUsers(t *testing.T) {
	data, err := NewOnlineUsers([]string{"alice", "bob"})
	if err != nil {
		t.Fatalf("NewOnlineUsers() error: %v", err)
	}

	var m OnlineUsersMsg
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m.Type != TypeOnlineUsers {
		t.Errorf("expected type=%q, got %q", TypeOnlineUsers, m.Type)
	}
	if len(m.Users) != 2 || m.Users[0] != "alice" || m.Users[1] != "bob" {
		t.Errorf("unexpected users: %v", m.Users)
	}
}
