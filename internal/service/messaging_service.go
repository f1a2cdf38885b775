package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sparkmeet/messaging/internal/channel"
	"github.com/sparkmeet/messaging/internal/domain"
	"github.com/sparkmeet/messaging/internal/moderation"
	"github.com/sparkmeet/messaging/internal/sanitize"
	"github.com/sparkmeet/messaging/internal/store"
	"github.com/sparkmeet/messaging/pkg/log"
	"github.com/sparkmeet/messaging/pkg/pubsub"
)

// SessionInfo is the slice of the session manager the service needs.
type SessionInfo interface {
	Valid() bool
	UserID() string
}

// Broadcaster pushes events to locally connected clients. Optional.
type Broadcaster interface {
	BroadcastToConversation(conversationID string, payload interface{}, excludeUserID string) error
}

type messagingService struct {
	sanitizer *sanitize.Sanitizer
	moderator *moderation.Moderator
	store     *store.Store
	repo      store.MessageRepository
	channels  *channel.Manager
	publisher pubsub.Publisher
	session   SessionInfo
	local     Broadcaster

	mu   sync.Mutex
	subs map[string]*channel.Subscription
}

// NewMessagingService wires the send/receive pipeline. local may be nil.
func NewMessagingService(
	sanitizer *sanitize.Sanitizer,
	moderator *moderation.Moderator,
	st *store.Store,
	repo store.MessageRepository,
	channels *channel.Manager,
	publisher pubsub.Publisher,
	session SessionInfo,
	local Broadcaster,
) MessagingService {
	return &messagingService{
		sanitizer: sanitizer,
		moderator: moderator,
		store:     st,
		repo:      repo,
		channels:  channels,
		publisher: publisher,
		session:   session,
		local:     local,
		subs:      make(map[string]*channel.Subscription),
	}
}

func (s *messagingService) SendMessage(ctx context.Context, draft domain.Draft) (*domain.Message, error) {
	if !s.session.Valid() {
		return nil, ErrSessionTerminated
	}
	senderID := s.session.UserID()

	msg, verrs := s.sanitizer.ValidateAndSanitize(draft, senderID)
	if len(verrs) > 0 {
		return nil, verrs
	}

	firstMessage := len(s.store.Messages(draft.ConversationID)) == 0
	verdict := s.moderator.Evaluate(ctx, msg.Content, senderID, firstMessage)
	if verdict.Action == domain.ActionBlock {
		log.Ctx(ctx).Info().
			Str(log.FieldUserID, senderID).
			Str(log.FieldConversationID, draft.ConversationID).
			Str(log.FieldAction, string(verdict.Action)).
			Msg("message blocked by moderation")
		return nil, &ModerationBlockedError{Verdict: verdict}
	}

	// Optimistic insert happens before any network round-trip.
	optimistic := s.store.InsertOptimistic(msg)
	tempID := optimistic.ID

	confirmed := optimistic
	confirmed.ID = uuid.New().String()
	confirmed.CreatedAt = time.Now().UTC()
	confirmed.IsOptimistic = false

	if err := s.repo.Insert(ctx, &confirmed); err != nil {
		if mfErr := s.store.MarkFailed(tempID, err.Error()); mfErr != nil {
			log.Ctx(ctx).Warn().Err(mfErr).Str(log.FieldTempID, tempID).Msg("mark failed lookup miss")
		}
		failed, _ := s.store.Get(tempID)
		return &failed, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	if err := s.store.Confirm(tempID, &confirmed); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldTempID, tempID).Msg("confirm lookup miss")
	}

	s.publishMessage(ctx, &confirmed)

	final, _ := s.store.Get(confirmed.ID)
	return &final, nil
}

// publishMessage notifies the peer through the realtime transport.
// Publish failure does not fail the send; the message is already
// persisted and will surface on the peer's next history fetch.
func (s *messagingService) publishMessage(ctx context.Context, msg *domain.Message) {
	event, err := pubsub.NewEvent(pubsub.EventMessageCreated, msg.ConversationID, pubsub.MessageCreatedPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		MessageType:    string(msg.Type),
		CreatedAt:      msg.CreatedAt.UnixMilli(),
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to build message event")
		return
	}
	if err := s.publisher.Publish(ctx, pubsub.ConversationChannel(msg.ConversationID), event); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldMessageID, msg.ID).Msg("realtime publish failed")
	}
}

func (s *messagingService) OpenConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	existing := s.subs[conversationID]
	if existing != nil && existing.State() != channel.StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	// A disconnected entry is stale; replace it with a fresh subscription.
	delete(s.subs, conversationID)
	s.mu.Unlock()

	handlers := channel.Handlers{
		OnMessage: func(msg *domain.Message) {
			s.store.ReceiveRemote(msg)
			s.fanOut(msg.ConversationID, msg, msg.SenderID)
		},
		OnRead: func(p pubsub.MessageReadPayload) {
			s.store.ApplyRead(p.MessageIDs, time.UnixMilli(p.ReadAt))
			s.fanOut(p.ConversationID, p, p.ReaderID)
		},
		OnTyping: func(p pubsub.TypingPayload) {
			// Ephemeral: relayed to connected clients, never stored.
			s.fanOut(p.ConversationID, p, p.UserID)
		},
		OnDisconnect: func(err error) {
			log.L().Warn().Err(err).Str(log.FieldConversationID, conversationID).Msg("conversation channel disconnected")

			// Drop the dead subscription so a later open resubscribes
			// instead of hitting the already-open guard. The state check
			// keeps a freshly reopened subscription intact.
			s.mu.Lock()
			if cur := s.subs[conversationID]; cur != nil && cur.State() == channel.StateDisconnected {
				delete(s.subs, conversationID)
			}
			s.mu.Unlock()
		},
	}

	sub, err := s.channels.Subscribe(ctx, pubsub.ConversationChannel(conversationID), handlers)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.subs[conversationID] = sub
	s.mu.Unlock()
	return nil
}

func (s *messagingService) fanOut(conversationID string, payload interface{}, excludeUserID string) {
	if s.local == nil {
		return
	}
	if err := s.local.BroadcastToConversation(conversationID, payload, excludeUserID); err != nil {
		log.L().Warn().Err(err).Str(log.FieldConversationID, conversationID).Msg("local fanout failed")
	}
}

func (s *messagingService) CloseConversation(conversationID string) error {
	s.mu.Lock()
	sub, ok := s.subs[conversationID]
	delete(s.subs, conversationID)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return s.channels.Unsubscribe(sub)
}

func (s *messagingService) Messages(conversationID string) []domain.Message {
	return s.store.Messages(conversationID)
}

func (s *messagingService) LoadOlder(ctx context.Context, conversationID string, limit int) (int, error) {
	return s.store.LoadOlder(ctx, conversationID, limit)
}

func (s *messagingService) MarkConversationRead(ctx context.Context, conversationID string) error {
	ids := s.store.MarkRead(ctx, conversationID)
	if len(ids) == 0 {
		return nil
	}

	event, err := pubsub.NewEvent(pubsub.EventMessageRead, conversationID, pubsub.MessageReadPayload{
		ConversationID: conversationID,
		ReaderID:       s.session.UserID(),
		MessageIDs:     ids,
		ReadAt:         time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	// Receipts are advisory; a publish failure does not undo local state.
	if err := s.publisher.Publish(ctx, pubsub.ConversationChannel(conversationID), event); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str(log.FieldConversationID, conversationID).Msg("read receipt publish failed")
	}
	return nil
}

func (s *messagingService) Typing(ctx context.Context, conversationID string, isTyping bool) error {
	event, err := pubsub.NewEvent(pubsub.EventTyping, conversationID, pubsub.TypingPayload{
		ConversationID: conversationID,
		UserID:         s.session.UserID(),
		IsTyping:       isTyping,
	})
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, pubsub.ConversationChannel(conversationID), event)
}

func (s *messagingService) Close() error {
	s.mu.Lock()
	subs := make([]*channel.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[string]*channel.Subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		if err := s.channels.Unsubscribe(sub); err != nil {
			log.L().Warn().Err(err).Msg("unsubscribe on close failed")
		}
	}
	return nil
}
