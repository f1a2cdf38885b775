package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sparkmeet/messaging/internal/domain"
	"github.com/sparkmeet/messaging/pkg/log"
	"github.com/sparkmeet/messaging/pkg/pubsub"
)

// State is the subscription lifecycle state.
type State int

const (
	// StateDisconnected means no live subscription exists.
	StateDisconnected State = iota
	// StateConnecting means the initial subscribe is in progress.
	StateConnecting
	// StateSubscribed means inbound events are being delivered.
	StateSubscribed
	// StateReconnecting means the transport dropped and retries are
	// running with backoff.
	StateReconnecting
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// ErrSessionInvalid indicates the auth session backing the subscription
// is gone.
var ErrSessionInvalid = errors.New("session not valid for subscription")

// ErrRetriesExhausted indicates reconnection gave up.
var ErrRetriesExhausted = errors.New("reconnect retries exhausted")

// SessionValidator reports whether the auth session can authorize a
// subscription right now.
type SessionValidator interface {
	Valid() bool
}

// Handlers is the typed event union dispatched by a subscription.
// Handlers are invoked synchronously in transport arrival order; any
// reordering is the message store's concern, not this component's.
// Nil handlers are skipped.
type Handlers struct {
	OnMessage    func(msg *domain.Message)
	OnRead       func(p pubsub.MessageReadPayload)
	OnTyping     func(p pubsub.TypingPayload)
	OnPresence   func(p pubsub.PresencePayload)
	OnDisconnect func(err error)
}

const (
	defaultMaxRetries     = 5
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// Manager subscribes conversation topics on the realtime transport and
// dispatches inbound events. It owns reconnection; a transport drop moves
// the subscription through {reconnecting} and back to {subscribed}, or to
// {disconnected} with the error surfaced through OnDisconnect.
type Manager struct {
	transport pubsub.Subscriber
	session   SessionValidator

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewManager creates a Manager. session may be nil, in which case no
// session gating is applied.
func NewManager(transport pubsub.Subscriber, session SessionValidator) *Manager {
	return &Manager{
		transport:      transport,
		session:        session,
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		subs:           make(map[string]*Subscription),
	}
}

// SetRetryPolicy overrides the reconnect budget and backoff bounds.
// Call before the first Subscribe; it is not safe to change while
// subscriptions are live.
func (m *Manager) SetRetryPolicy(maxRetries int, initialBackoff, maxBackoff time.Duration) {
	m.maxRetries = maxRetries
	m.initialBackoff = initialBackoff
	m.maxBackoff = maxBackoff
}

// Subscription is one live topic subscription.
type Subscription struct {
	topic    string
	manager  *Manager
	handlers Handlers

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	closed bool
}

// State returns the subscription's current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscription) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Subscribe opens a subscription on the given topic and starts
// dispatching its events to the handlers.
func (m *Manager) Subscribe(ctx context.Context, topic string, handlers Handlers) (*Subscription, error) {
	if m.session != nil && !m.session.Valid() {
		return nil, ErrSessionInvalid
	}

	sub := &Subscription{
		topic:    topic,
		manager:  m,
		handlers: handlers,
		state:    StateConnecting,
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub.cancel = cancel

	events, err := m.transport.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		sub.setState(StateDisconnected)
		return nil, err
	}
	sub.setState(StateSubscribed)

	m.mu.Lock()
	m.subs[topic] = sub
	m.mu.Unlock()

	go sub.run(subCtx, events)

	log.L().Info().Str(log.FieldChannel, topic).Msg("subscribed")
	return sub, nil
}

// Unsubscribe tears down the subscription. Idempotent; all transport
// resources are released.
func (m *Manager) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}

	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return nil
	}
	sub.closed = true
	sub.state = StateDisconnected
	cancel := sub.cancel
	sub.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	m.mu.Lock()
	delete(m.subs, sub.topic)
	m.mu.Unlock()

	err := m.transport.Unsubscribe(context.Background(), sub.topic)
	log.L().Info().Str(log.FieldChannel, sub.topic).Msg("unsubscribed")
	return err
}

// forget retires a dead subscription's bookkeeping without touching the
// transport. No-op if a newer subscription has taken over the topic.
func (m *Manager) forget(sub *Subscription) {
	m.mu.Lock()
	if m.subs[sub.topic] == sub {
		delete(m.subs, sub.topic)
	}
	m.mu.Unlock()
}

// run pumps events until the transport drops, then attempts reconnection.
func (s *Subscription) run(ctx context.Context, events <-chan *pubsub.Event) {
	for {
		ok := s.pump(ctx, events)
		if !ok {
			// Deliberate teardown.
			return
		}

		// Transport dropped while we still want the subscription.
		next, err := s.reconnect(ctx)
		if err != nil {
			s.mu.Lock()
			s.state = StateDisconnected
			s.closed = true
			s.mu.Unlock()
			// The transport side is already gone; only the bookkeeping
			// needs retiring. A transport unsubscribe here could tear
			// down a newer subscription on the same topic.
			s.manager.forget(s)
			if s.handlers.OnDisconnect != nil {
				s.handlers.OnDisconnect(err)
			}
			return
		}
		events = next
	}
}

// pump dispatches events in arrival order. Returns true if the event
// stream closed unexpectedly and reconnection should run.
func (s *Subscription) pump(ctx context.Context, events <-chan *pubsub.Event) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return !s.isClosed()
			}
			s.dispatch(ev)
		}
	}
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// reconnect retries the transport subscribe with capped exponential
// backoff until it succeeds or the retry budget is spent.
func (s *Subscription) reconnect(ctx context.Context) (<-chan *pubsub.Event, error) {
	s.setState(StateReconnecting)
	log.L().Warn().Str(log.FieldChannel, s.topic).Msg("transport dropped, reconnecting")

	backoff := s.manager.initialBackoff
	for attempt := 1; attempt <= s.manager.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		if s.manager.session != nil && !s.manager.session.Valid() {
			log.L().Warn().Str(log.FieldChannel, s.topic).Msg("session invalid during reconnect")
			return nil, ErrSessionInvalid
		}

		events, err := s.manager.transport.Subscribe(ctx, s.topic)
		if err == nil {
			s.setState(StateSubscribed)
			log.L().Info().Str(log.FieldChannel, s.topic).Int("attempt", attempt).Msg("resubscribed")
			return events, nil
		}

		log.L().Warn().Err(err).Str(log.FieldChannel, s.topic).Int("attempt", attempt).Msg("resubscribe failed")
		backoff *= 2
		if backoff > s.manager.maxBackoff {
			backoff = s.manager.maxBackoff
		}
	}

	return nil, ErrRetriesExhausted
}

// dispatch decodes and routes one event to its typed handler.
func (s *Subscription) dispatch(ev *pubsub.Event) {
	switch ev.Type {
	case pubsub.EventMessageCreated:
		if s.handlers.OnMessage == nil {
			return
		}
		var p pubsub.MessageCreatedPayload
		if err := ev.UnmarshalPayload(&p); err != nil {
			log.L().Warn().Err(err).Str(log.FieldChannel, s.topic).Msg("bad message payload")
			return
		}
		s.handlers.OnMessage(&domain.Message{
			ID:             p.MessageID,
			ConversationID: p.ConversationID,
			SenderID:       p.SenderID,
			ReceiverID:     p.ReceiverID,
			Content:        p.Content,
			Type:           domain.MessageType(p.MessageType),
			CreatedAt:      time.UnixMilli(p.CreatedAt),
		})

	case pubsub.EventMessageRead:
		if s.handlers.OnRead == nil {
			return
		}
		var p pubsub.MessageReadPayload
		if err := ev.UnmarshalPayload(&p); err != nil {
			log.L().Warn().Err(err).Str(log.FieldChannel, s.topic).Msg("bad read payload")
			return
		}
		s.handlers.OnRead(p)

	case pubsub.EventTyping:
		if s.handlers.OnTyping == nil {
			return
		}
		var p pubsub.TypingPayload
		if err := ev.UnmarshalPayload(&p); err != nil {
			return
		}
		s.handlers.OnTyping(p)

	case pubsub.EventPresenceChanged:
		if s.handlers.OnPresence == nil {
			return
		}
		var p pubsub.PresencePayload
		if err := ev.UnmarshalPayload(&p); err != nil {
			return
		}
		s.handlers.OnPresence(p)

	default:
		log.L().Debug().Str("event_type", ev.Type).Str(log.FieldChannel, s.topic).Msg("ignoring unknown event type")
	}
}
