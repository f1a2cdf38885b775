package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sparkmeet/messaging/internal/domain"
	"github.com/sparkmeet/messaging/pkg/log"
)

// entry wraps a message with its arrival sequence number, used to break
// ordering ties between equal timestamps.
type entry struct {
	msg *domain.Message
	seq uint64
}

// Store holds the client-side view of conversations: an arena of messages
// keyed by ID (temporary or final) with a per-conversation ordered index.
// Confirming an optimistic message is a key remap, never a list splice.
//
// Presentation order is non-decreasing CreatedAt; ties break by arrival
// order.
type Store struct {
	currentUserID string
	repo          MessageRepository

	mu      sync.RWMutex
	arena   map[string]*entry   // message ID -> entry
	index   map[string][]string // conversation ID -> ordered message IDs
	nextSeq uint64

	sf singleflight.Group
}

// NewStore creates a Store for the given local user. repo may be nil for
// a purely in-memory store (history loading and read persistence become
// no-ops).
func NewStore(currentUserID string, repo MessageRepository) *Store {
	return &Store{
		currentUserID: currentUserID,
		repo:          repo,
		arena:         make(map[string]*entry),
		index:         make(map[string][]string),
	}
}

// InsertOptimistic places a not-yet-confirmed message into the store and
// returns a copy of the stored record. The message must carry a temporary
// ID and IsOptimistic=true (the sanitizer produces this shape). Returns
// immediately; nothing here blocks on the network.
func (s *Store) InsertOptimistic(msg *domain.Message) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = domain.TempID(time.Now())
	}
	msg.IsOptimistic = true

	stored := *msg
	s.insertLocked(&stored)
	return stored
}

// Confirm replaces the optimistic record under tempID with the
// server-authoritative message. The record keeps its logical identity:
// the ID is remapped and IsOptimistic cleared in place. Returns
// ErrNotFound if no record exists under tempID.
func (s *Store) Confirm(tempID string, server *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmLocked(tempID, server)
}

// confirmLocked performs the find-by-temp-ID and key remap as one step.
// Caller must hold the write lock.
func (s *Store) confirmLocked(tempID string, server *domain.Message) error {
	e, ok := s.arena[tempID]
	if !ok {
		return ErrNotFound
	}

	convID := e.msg.ConversationID

	e.msg.ID = server.ID
	e.msg.CreatedAt = server.CreatedAt
	e.msg.DeliveredAt = server.DeliveredAt
	e.msg.ReadAt = server.ReadAt
	e.msg.IsOptimistic = false
	e.msg.SendError = ""

	delete(s.arena, tempID)
	s.arena[server.ID] = e

	ids := s.index[convID]
	for i, id := range ids {
		if id == tempID {
			ids[i] = server.ID
			break
		}
	}
	s.resortLocked(convID)

	return nil
}

// MarkFailed attaches a send error to the optimistic record under tempID.
// The record stays visible so the user can see and retry the failure.
func (s *Store) MarkFailed(tempID, sendError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.arena[tempID]
	if !ok {
		return ErrNotFound
	}
	e.msg.SendError = sendError
	return nil
}

// ReceiveRemote handles a message delivered by the realtime channel. A
// remote message matching an unconfirmed optimistic record from the same
// sender with identical content is treated as the echo of our own send
// and confirms it instead of appending a duplicate.
func (s *Store) ReceiveRemote(msg *domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.arena[msg.ID]; ok {
		// Already known (confirmed ahead of the echo).
		return
	}

	if msg.SenderID == s.currentUserID {
		for _, id := range s.index[msg.ConversationID] {
			e := s.arena[id]
			if e.msg.IsOptimistic && e.msg.SenderID == msg.SenderID && e.msg.Content == msg.Content {
				if err := s.confirmLocked(e.msg.ID, msg); err != nil {
					log.L().Warn().Err(err).Str(log.FieldTempID, e.msg.ID).Msg("echo confirm failed")
				}
				return
			}
		}
	}

	stored := *msg
	stored.IsOptimistic = false
	s.insertLocked(&stored)
}

// MarkRead sets ReadAt on every unread message addressed to the current
// user in the conversation, then persists the receipts best-effort. A
// failed remote write is logged and never reverts the local state.
func (s *Store) MarkRead(ctx context.Context, conversationID string) []string {
	now := time.Now()

	s.mu.Lock()
	var ids []string
	for _, id := range s.index[conversationID] {
		e := s.arena[id]
		if e.msg.ReceiverID == s.currentUserID && e.msg.ReadAt == nil {
			readAt := now
			e.msg.ReadAt = &readAt
			if !e.msg.IsOptimistic {
				ids = append(ids, id)
			}
		}
	}
	s.mu.Unlock()

	if len(ids) > 0 && s.repo != nil {
		// Read receipts are advisory; local state stands even if this fails.
		if err := s.repo.MarkRead(ctx, ids, now); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str(log.FieldConversationID, conversationID).Msg("read receipt persist failed")
		}
	}

	return ids
}

// ApplyRead records a read receipt delivered by the realtime channel:
// the listed messages get the peer's ReadAt. Unknown IDs are ignored.
func (s *Store) ApplyRead(messageIDs []string, readAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range messageIDs {
		if e, ok := s.arena[id]; ok && e.msg.ReadAt == nil {
			ts := readAt
			e.msg.ReadAt = &ts
		}
	}
}

// Messages returns copies of a conversation's messages in presentation
// order.
func (s *Store) Messages(conversationID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.index[conversationID]
	out := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.arena[id].msg)
	}
	return out
}

// Get returns a copy of the message under id.
func (s *Store) Get(id string) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.arena[id]
	if !ok {
		return domain.Message{}, false
	}
	return *e.msg, true
}

// LastMessage returns the newest message of the conversation, or nil.
func (s *Store) LastMessage(conversationID string) *domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.index[conversationID]
	if len(ids) == 0 {
		return nil
	}
	last := *s.arena[ids[len(ids)-1]].msg
	return &last
}

// UnreadCount counts messages addressed to the current user that have no
// read receipt yet.
func (s *Store) UnreadCount(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, id := range s.index[conversationID] {
		e := s.arena[id]
		if e.msg.ReceiverID == s.currentUserID && e.msg.ReadAt == nil {
			count++
		}
	}
	return count
}

// LoadOlder fetches up to limit messages older than the oldest loaded
// message of the conversation from the repository and merges them in.
// Concurrent loads for the same page collapse into one repository query.
// Returns the number of messages actually added.
func (s *Store) LoadOlder(ctx context.Context, conversationID string, limit int) (int, error) {
	if s.repo == nil {
		return 0, nil
	}

	s.mu.RLock()
	before := time.Now()
	if ids := s.index[conversationID]; len(ids) > 0 {
		before = s.arena[ids[0]].msg.CreatedAt
	}
	s.mu.RUnlock()

	key := conversationID + ":" + before.UTC().Format(time.RFC3339Nano)
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.repo.ListBefore(ctx, conversationID, before, limit)
	})
	if err != nil {
		return 0, err
	}

	page := result.([]domain.Message)

	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for i := range page {
		if _, ok := s.arena[page[i].ID]; ok {
			continue
		}
		stored := page[i]
		s.insertLocked(&stored)
		added++
	}
	return added, nil
}

// insertLocked places a message into the arena and its conversation
// index, keeping the index ordered. Caller must hold the write lock.
func (s *Store) insertLocked(msg *domain.Message) {
	s.nextSeq++
	s.arena[msg.ID] = &entry{msg: msg, seq: s.nextSeq}
	s.index[msg.ConversationID] = append(s.index[msg.ConversationID], msg.ID)
	s.resortLocked(msg.ConversationID)
}

// resortLocked restores presentation order for a conversation index.
// Caller must hold the write lock.
func (s *Store) resortLocked(conversationID string) {
	ids := s.index[conversationID]
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := s.arena[ids[i]], s.arena[ids[j]]
		if a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.seq < b.seq
		}
		return a.msg.CreatedAt.Before(b.msg.CreatedAt)
	})
}
