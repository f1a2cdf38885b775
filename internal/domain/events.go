package domain

// WebSocket message types from client.
const (
	WSTypeJoinConversation  = "join_conversation"
	WSTypeLeaveConversation = "leave_conversation"
	WSTypeSendMessage       = "send_message"
	WSTypeTyping            = "typing"
	WSTypeMarkRead          = "mark_read"
	WSTypePing              = "ping"
)

// WebSocket message types to client.
const (
	WSTypeMessageAck = "message_ack"
	WSTypeError      = "error"
	WSTypePong       = "pong"
)

// Error codes
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeValidation    = "VALIDATION_FAILED"
	ErrCodeBlocked       = "MESSAGE_BLOCKED"
	ErrCodeSendFailed    = "SEND_FAILED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// BaseWSMessage is the envelope every client frame carries.
type BaseWSMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type JoinConversationWS struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

type LeaveConversationWS struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

type SendMessageWS struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	ReceiverID     string `json:"receiver_id"`
	Content        string `json:"content"`
	MessageType    string `json:"message_type,omitempty"`
	MediaURL       string `json:"media_url,omitempty"`
}

type TypingWS struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type MarkReadWS struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// Server -> Client messages

type MessageAckWS struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

type ErrorWS struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorWS builds an error frame.
func NewErrorWS(code, message string) *ErrorWS {
	return &ErrorWS{Type: WSTypeError, Code: code, Message: message}
}
