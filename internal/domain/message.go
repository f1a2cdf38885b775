package domain

import (
	"fmt"
	"time"
)

// MaxMessageLength is the hard ceiling on message content length.
const MaxMessageLength = 1000

// MessageType enumerates the kinds of messages a conversation carries.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageVoice  MessageType = "voice"
	MessageEmoji  MessageType = "emoji"
	MessageSystem MessageType = "system"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVoice, MessageEmoji, MessageSystem:
		return true
	}
	return false
}

// Message is a single chat message. While a send is in flight the record
// carries a temporary client-assigned ID and IsOptimistic=true; server
// confirmation swaps in the authoritative ID and timestamps in place.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	ReceiverID     string      `json:"receiver_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	MediaURL       string      `json:"media_url,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	DeliveredAt    *time.Time  `json:"delivered_at,omitempty"`
	ReadAt         *time.Time  `json:"read_at,omitempty"`
	IsOptimistic   bool        `json:"is_optimistic"`
	SendError      string      `json:"send_error,omitempty"`
}

// TempID builds a client-assigned temporary message ID.
func TempID(ts time.Time) string {
	return fmt.Sprintf("temp-%d", ts.UnixNano())
}

// Draft is the raw, not-yet-validated input to the send path.
type Draft struct {
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	ReceiverID     string      `json:"receiver_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	MediaURL       string      `json:"media_url,omitempty"`
}

// Conversation is a two-party conversation. LastMessage and UnreadCount
// are derived from the message store, never set directly.
type Conversation struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	UnreadCount  int       `json:"unread_count"`
	CreatedAt    time.Time `json:"created_at"`
}
