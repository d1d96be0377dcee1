// Package protocol defines the wire messages exchanged between chat clients
// and the gateway, and the validation rules for inbound text. All messages
// are serialized as JSON.
package protocol

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Server -> Client message types.
const (
	TypeRateLimited = "rate_limited"
	TypeOnlineUsers = "online_users"
)

// Inbound size limits. Frames violating either are dropped, same as
// malformed JSON.
const (
	MaxMessageBytes = 4096 // max payload size
	MaxTextChars    = 2000 // max character count
)

// InboundMsg is the only client -> server message: a text payload addressed
// to the sender's current room.
type InboundMsg struct {
	Text string `json:"text"`
}

// ChatMsg is the broadcast payload delivered to every member of a room.
type ChatMsg struct {
	User string `json:"user"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"` // epoch millis
}

// RateLimitedMsg is sent only to a sender whose message was rejected by the
// rate limiter.
type RateLimitedMsg struct {
	Type string `json:"type"`
}

// OnlineUsersMsg is the presence snapshot pushed to every member of a room
// after any join or leave.
type OnlineUsersMsg struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// ParseInbound decodes a client frame into an InboundMsg and validates the
// text field. Any error means the frame must be silently dropped; the
// connection stays open.
func ParseInbound(data []byte) (InboundMsg, error) {
	if len(data) > MaxMessageBytes {
		return InboundMsg{}, fmt.Errorf("protocol: frame exceeds %d byte limit", MaxMessageBytes)
	}

	var msg InboundMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return InboundMsg{}, fmt.Errorf("protocol: failed to unmarshal inbound frame: %w", err)
	}
	if err := validateText(msg.Text); err != nil {
		return InboundMsg{}, err
	}
	return msg, nil
}

// validateText checks that inbound text is usable: non-empty, within the
// character cap, and valid UTF-8.
func validateText(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("protocol: message text is empty")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("protocol: message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("protocol: message contains invalid UTF-8")
	}
	return nil
}

// NewChatMessage builds the broadcast payload for a relayed message.
func NewChatMessage(user, text string, ts int64) ([]byte, error) {
	out, err := json.Marshal(ChatMsg{User: user, Text: text, Ts: ts})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal chat message: %w", err)
	}
	return out, nil
}

// NewRateLimited builds the rejection notice sent to an over-limit sender.
func NewRateLimited() []byte {
	out, _ := json.Marshal(RateLimitedMsg{Type: TypeRateLimited})
	return out
}

// NewOnlineUsers builds a presence snapshot. A nil user list is encoded as
// an empty array so clients never see null.
func NewOnlineUsers(users []string) ([]byte, error) {
	if users == nil {
		users = []string{}
	}
	out, err := json.Marshal(OnlineUsersMsg{Type: TypeOnlineUsers, Users: users})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal presence snapshot: %w", err)
	}
	return out, nil
}
