package models

import (
	"strings"
	"time"
)

// Role identifies who authored a turn in a conversation.

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Attachment is an inline image payload carried by a user turn.
// Data holds raw base64 bytes with the data-URI descriptor already stripped.
type Attachment struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// DataURI reassembles the self-describing textual form of the payload.
func (a *Attachment) DataURI() string {
	return "data:" + a.MediaType + ";base64," + a.Data
}

// Turn is one message in a conversation. Turns are append-only: once created
// they are never mutated or deleted for the lifetime of the session.
type Turn struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Valid reports whether the turn carries something worth sending: non-empty
// trimmed content or an attachment.
func (t *Turn) Valid() bool {
	return strings.TrimSpace(t.Content) != "" || t.Attachment != nil
}
