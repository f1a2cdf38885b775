package pubsub

import "fmt"

// Channel naming conventions for the messaging system.
const (
	// Per-conversation event stream (messages, read receipts, typing).
	ChannelConversationEvents = "chat:conv:%s:events"

	// Per-user presence stream.
	ChannelUserPresence = "chat:presence:%s"
)

// Event types carried on conversation channels.
const (
	EventMessageCreated = "message_created"
	EventMessageRead    = "message_read"
	EventTyping         = "typing"
)

// Event types carried on presence channels.
const (
	EventPresenceChanged = "presence_changed"
)

// ConversationChannel returns the channel name for a conversation's events.
func ConversationChannel(conversationID string) string {
	return fmt.Sprintf(ChannelConversationEvents, conversationID)
}

// PresenceChannel returns the channel name for a user's presence events.
func PresenceChannel(userID string) string {
	return fmt.Sprintf(ChannelUserPresence, userID)
}

// MessageCreatedPayload is published when a message has been accepted server-side.
type MessageCreatedPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	ReceiverID     string `json:"receiver_id"`
	Content        string `json:"content"`
	MessageType    string `json:"message_type"`
	CreatedAt      int64  `json:"created_at"` // unix millis
}

// MessageReadPayload is published when a participant marks messages read.
type MessageReadPayload struct {
	ConversationID string   `json:"conversation_id"`
	ReaderID       string   `json:"reader_id"`
	MessageIDs     []string `json:"message_ids"`
	ReadAt         int64    `json:"read_at"` // unix millis
}

// TypingPayload is published while a participant is typing. Ephemeral,
// never persisted.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// PresencePayload is published when a user's online status changes.
type PresencePayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}
