package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sparkmeet/messaging/internal/domain"
)

// ErrSessionTerminated indicates the auth session is gone and no sends
// are possible.
var ErrSessionTerminated = errors.New("session terminated")

// ErrSendFailed wraps a transient network failure on the send path. The
// optimistic record stays in the store with its SendError set; retry is
// a fresh user-initiated send.
var ErrSendFailed = errors.New("message send failed")

// ModerationBlockedError is returned when content or sender rate
// violates policy. Non-retryable.
type ModerationBlockedError struct {
	Verdict *domain.ModerationVerdict
}

func (e *ModerationBlockedError) Error() string {
	reason := e.Verdict.Reason
	if reason == "" {
		reason = "message violates content policy"
	}
	return fmt.Sprintf("message blocked: %s", reason)
}

// MessagingService is the send/receive orchestration of the core.
type MessagingService interface {
	// SendMessage runs the full send path: sanitize, moderate,
	// optimistic insert, persist, publish, confirm. Returns the stored
	// message in its final state.
	SendMessage(ctx context.Context, draft domain.Draft) (*domain.Message, error)

	// OpenConversation subscribes the conversation's realtime channel
	// and starts reconciling inbound events into the store.
	OpenConversation(ctx context.Context, conversationID string) error

	// CloseConversation drops the conversation's subscription.
	CloseConversation(conversationID string) error

	// Messages returns the conversation's messages in display order.
	Messages(conversationID string) []domain.Message

	// LoadOlder pages older history into the store.
	LoadOlder(ctx context.Context, conversationID string, limit int) (int, error)

	// MarkConversationRead marks inbound messages read locally and
	// persists and broadcasts the receipts best-effort.
	MarkConversationRead(ctx context.Context, conversationID string) error

	// Typing broadcasts an ephemeral typing indicator.
	Typing(ctx context.Context, conversationID string, isTyping bool) error

	// Close tears down all subscriptions.
	Close() error
}
