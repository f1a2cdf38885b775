package log

const (
	// Messaging
	FieldConversationID = "conversation_id"
	FieldMessageID      = "message_id"
	FieldTempID         = "temp_id"
	FieldChannel        = "channel"

	// Actor
	FieldUserID   = "user_id"
	FieldIdentity = "identity"

	// Service
	FieldService = "service"

	// Moderation
	FieldAction   = "action"
	FieldSeverity = "severity"
	FieldScore    = "score"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
