package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/sparkmeet/messaging/internal/domain"
	"github.com/sparkmeet/messaging/pkg/log"
)

// MessageModel is the GORM persistence shape of a confirmed message.
type MessageModel struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"index:idx_conv_created,priority:1"`
	SenderID       string `gorm:"index"`
	ReceiverID     string `gorm:"index"`
	Content        string
	Type           string
	MediaURL       string
	CreatedAt      time.Time `gorm:"index:idx_conv_created,priority:2"`
	DeliveredAt    *time.Time
	ReadAt         *time.Time
}

// TableName sets the table name for GORM.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts the persistence model to the domain message.
func (m *MessageModel) ToDomain() *domain.Message {
	return &domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Type:           domain.MessageType(m.Type),
		MediaURL:       m.MediaURL,
		CreatedAt:      m.CreatedAt,
		DeliveredAt:    m.DeliveredAt,
		ReadAt:         m.ReadAt,
	}
}

func toModel(msg *domain.Message) *MessageModel {
	return &MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		Type:           string(msg.Type),
		MediaURL:       msg.MediaURL,
		CreatedAt:      msg.CreatedAt,
		DeliveredAt:    msg.DeliveredAt,
		ReadAt:         msg.ReadAt,
	}
}

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// AutoMigrate creates or updates the messages table.
func (r *GormMessageRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&MessageModel{})
}

// Insert persists a confirmed message.
func (r *GormMessageRepository) Insert(ctx context.Context, msg *domain.Message) error {
	l := log.Ctx(ctx)

	result := r.db.WithContext(ctx).Create(toModel(msg))
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldMessageID, msg.ID).Msg("failed to insert message")
		return result.Error
	}

	l.Debug().Str(log.FieldMessageID, msg.ID).Str(log.FieldConversationID, msg.ConversationID).Msg("message persisted")
	return nil
}

// ListBefore returns up to limit messages created strictly before the
// given time, newest first.
func (r *GormMessageRepository) ListBefore(ctx context.Context, conversationID string, before time.Time, limit int) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	if limit < 1 {
		limit = 50
	}

	var models []MessageModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND created_at < ?", conversationID, before).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		l.Error().Err(err).Str(log.FieldConversationID, conversationID).Msg("failed to list messages")
		return nil, err
	}

	messages := make([]domain.Message, len(models))
	for i := range models {
		messages[i] = *models[i].ToDomain()
	}
	return messages, nil
}

// MarkRead sets read_at on the given messages.
func (r *GormMessageRepository) MarkRead(ctx context.Context, messageIDs []string, readAt time.Time) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("id IN ? AND read_at IS NULL", messageIDs).
		Update("read_at", readAt).Error
}

// MarkDelivered sets delivered_at on the given message.
func (r *GormMessageRepository) MarkDelivered(ctx context.Context, messageID string, deliveredAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("id = ? AND delivered_at IS NULL", messageID).
		Update("delivered_at", deliveredAt).Error
}

var _ MessageRepository = (*GormMessageRepository)(nil)
