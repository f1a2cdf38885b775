package store

import (
	"context"
	"errors"
	"time"

	"github.com/sparkmeet/messaging/internal/domain"
)

// ErrNotFound indicates no message exists under the given ID.
var ErrNotFound = errors.New("message not found")

// MessageRepository is the persistence backend for confirmed messages.
// It is assumed to enforce referential integrity on sender/receiver IDs.
type MessageRepository interface {
	// Insert persists a confirmed message.
	Insert(ctx context.Context, msg *domain.Message) error

	// ListBefore returns up to limit messages of a conversation created
	// strictly before the given time, newest first.
	ListBefore(ctx context.Context, conversationID string, before time.Time, limit int) ([]domain.Message, error)

	// MarkRead sets read_at on the given messages.
	MarkRead(ctx context.Context, messageIDs []string, readAt time.Time) error

	// MarkDelivered sets delivered_at on the given message.
	MarkDelivered(ctx context.Context, messageID string, deliveredAt time.Time) error
}
