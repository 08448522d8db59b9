package chatsync

import (
	"encoding/json"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error returned by the backend.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic response envelope of the chat backend.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Chat Data Model
// ============================================================================

// Participant is a user reference carried on a conversation.
type Participant struct {
	UserID      string `json:"userId"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Conversation is a direct (two-party) or group chat thread.
//
// A conversation created locally carries a "local-" placeholder ID until the
// server confirms it; its identity before confirmation is defined by its
// participant set (see KeyOf).
type Conversation struct {
	ID           string        `json:"id"`
	IsGroup      bool          `json:"isGroup"`
	Title        string        `json:"title,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	UnreadCount  int           `json:"unreadCount,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt,omitempty"`
}

// DisplayName returns the title for groups and the other participant's name
// for direct conversations, falling back to their user ID.
func (c *Conversation) DisplayName(selfID string) string {
	if c.IsGroup || c.Title != "" {
		return c.Title
	}
	for _, p := range c.Participants {
		if p.UserID == selfID {
			continue
		}
		if p.DisplayName != "" {
			return p.DisplayName
		}
		if p.Username != "" {
			return p.Username
		}
		return p.UserID
	}
	return c.ID
}

// Message is a single chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	ParentID       *string   `json:"parentId,omitempty"`
	Edited         bool      `json:"edited,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// localIDPrefix marks identifiers assigned optimistically before server
// confirmation.
const localIDPrefix = "local-"

// IsLocalID reports whether id is an optimistic placeholder identifier.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// Local reports whether the message has not been confirmed by the server yet.
func (m *Message) Local() bool {
	return IsLocalID(m.ID)
}

// ============================================================================
// Presence
// ============================================================================

// PresenceStatus is a user's live availability status.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceRecord tracks the availability of a single user. Records are
// created on first observation and never deleted; a disconnecting user goes
// to offline with a fresh last-seen instead of being removed.
type PresenceRecord struct {
	UserID       string         `json:"userId"`
	Status       PresenceStatus `json:"status"`
	CustomStatus string         `json:"customStatus,omitempty"`
	LastSeen     time.Time      `json:"lastSeen,omitempty"`
}

// ============================================================================
// Requests
// ============================================================================

// CreateConversationSpec describes a conversation to create.
type CreateConversationSpec struct {
	Participants []string `json:"participants"`
	IsGroup      bool     `json:"isGroup,omitempty"`
	Title        string   `json:"title,omitempty"`
}

// SendOptions carries the optional fields of a message send.
type SendOptions struct {
	ParentID string `json:"parentId,omitempty"`
}
