package hub

import (
	"encoding/json"
	"sync"

	"github.com/sparkmeet/messaging/pkg/log"
)

// Hub tracks connected websocket clients and their conversation
// memberships, and fans events out to them.
type Hub struct {
	clients       map[string]*Client            // clientID -> client
	conversations map[string]map[string]*Client // conversationID -> clientID -> client
	register      chan *Client
	unregister    chan *Client
	broadcast     chan *conversationMessage
	mu            sync.RWMutex
}

type conversationMessage struct {
	ConversationID string
	Message        []byte
	ExcludeUserID  string
}

// NewHub creates a Hub. Call Run in a goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:       make(map[string]*Client),
		conversations: make(map[string]map[string]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan *conversationMessage, 256),
	}
}

// Run processes register/unregister/broadcast events until the process
// exits.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.L().Debug().Str("client_id", client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for convID, members := range h.conversations {
					delete(members, client.ID)
					if len(members) == 0 {
						delete(h.conversations, convID)
					}
				}
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()
			log.L().Debug().Str("client_id", client.ID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			if members, ok := h.conversations[msg.ConversationID]; ok {
				for _, client := range members {
					if msg.ExcludeUserID != "" && client.UserID == msg.ExcludeUserID {
						continue
					}
					select {
					case client.Send <- msg.Message:
					default:
						go h.removeClient(client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// JoinConversation adds the client to a conversation's member set.
func (h *Hub) JoinConversation(client *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conversations[conversationID]; !ok {
		h.conversations[conversationID] = make(map[string]*Client)
	}
	h.conversations[conversationID][client.ID] = client
	log.L().Debug().Str("client_id", client.ID).Str(log.FieldConversationID, conversationID).Msg("client joined conversation")
}

// LeaveConversation removes the client from a conversation's member set.
func (h *Hub) LeaveConversation(client *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.conversations[conversationID]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.conversations, conversationID)
		}
	}
}

// ConversationClientCount returns the number of connected members.
func (h *Hub) ConversationClientCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations[conversationID])
}

// BroadcastToConversation sends a payload to every connected member of a
// conversation, optionally excluding one user.
func (h *Hub) BroadcastToConversation(conversationID string, payload interface{}, excludeUserID string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	h.broadcast <- &conversationMessage{
		ConversationID: conversationID,
		Message:        data,
		ExcludeUserID:  excludeUserID,
	}
	return nil
}

func (h *Hub) removeClient(client *Client) {
	h.unregister <- client
}
