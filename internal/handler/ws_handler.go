package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sparkmeet/messaging/internal/config"
	"github.com/sparkmeet/messaging/internal/domain"
	"github.com/sparkmeet/messaging/internal/hub"
	"github.com/sparkmeet/messaging/internal/sanitize"
	"github.com/sparkmeet/messaging/internal/service"
	"github.com/sparkmeet/messaging/pkg/log"
)

// SessionGate authorizes websocket upgrades.
type SessionGate interface {
	Valid() bool
	UserID() string
}

// WSHandler upgrades websocket connections and routes client frames into
// the messaging service.
type WSHandler struct {
	hub      *hub.Hub
	svc      service.MessagingService
	session  SessionGate
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(h *hub.Hub, svc service.MessagingService, session SessionGate, cfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		svc:     svc,
		session: session,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.handleWS)
}

func (h *WSHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	if !h.session.Valid() {
		http.Error(w, "session not valid", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.L().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.session.UserID(), h.hub, conn, h.cfg)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.handleFrame)
}

// handleFrame routes one inbound frame by its type field.
func (h *WSHandler) handleFrame(c *hub.Client, raw []byte) {
	var base domain.BaseWSMessage
	if err := json.Unmarshal(raw, &base); err != nil {
		h.send(c, domain.NewErrorWS(domain.ErrCodeBadRequest, "malformed frame"))
		return
	}

	ctx := log.WithLogger(context.Background(),
		log.L().With().Str(log.FieldUserID, c.UserID).Logger())

	switch base.Type {
	case domain.WSTypeJoinConversation:
		var m domain.JoinConversationWS
		if err := json.Unmarshal(raw, &m); err != nil || m.ConversationID == "" {
			h.send(c, domain.NewErrorWS(domain.ErrCodeBadRequest, "conversation_id required"))
			return
		}
		if err := h.svc.OpenConversation(ctx, m.ConversationID); err != nil {
			h.send(c, domain.NewErrorWS(domain.ErrCodeInternalError, "failed to open conversation"))
			return
		}
		h.hub.JoinConversation(c, m.ConversationID)

	case domain.WSTypeLeaveConversation:
		var m domain.LeaveConversationWS
		if err := json.Unmarshal(raw, &m); err != nil || m.ConversationID == "" {
			h.send(c, domain.NewErrorWS(domain.ErrCodeBadRequest, "conversation_id required"))
			return
		}
		h.hub.LeaveConversation(c, m.ConversationID)

	case domain.WSTypeSendMessage:
		h.handleSend(ctx, c, raw)

	case domain.WSTypeTyping:
		var m domain.TypingWS
		if err := json.Unmarshal(raw, &m); err != nil || m.ConversationID == "" {
			return
		}
		if err := h.svc.Typing(ctx, m.ConversationID, m.IsTyping); err != nil {
			log.L().Debug().Err(err).Msg("typing publish failed")
		}

	case domain.WSTypeMarkRead:
		var m domain.MarkReadWS
		if err := json.Unmarshal(raw, &m); err != nil || m.ConversationID == "" {
			h.send(c, domain.NewErrorWS(domain.ErrCodeBadRequest, "conversation_id required"))
			return
		}
		if err := h.svc.MarkConversationRead(ctx, m.ConversationID); err != nil {
			log.L().Warn().Err(err).Msg("mark read failed")
		}

	case domain.WSTypePing:
		h.send(c, &domain.BaseWSMessage{Type: domain.WSTypePong})

	default:
		h.send(c, domain.NewErrorWS(domain.ErrCodeBadRequest, "unknown frame type"))
	}
}

// handleSend runs the send pipeline and reports the outcome on the same
// connection. Content errors come back as typed error frames; a
// transient send failure still acks the optimistic record so the client
// can offer a retry.
func (h *WSHandler) handleSend(ctx context.Context, c *hub.Client, raw []byte) {
	var m domain.SendMessageWS
	if err := json.Unmarshal(raw, &m); err != nil {
		h.send(c, domain.NewErrorWS(domain.ErrCodeBadRequest, "malformed send frame"))
		return
	}

	draft := domain.Draft{
		ConversationID: m.ConversationID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Type:           domain.MessageType(m.MessageType),
		MediaURL:       m.MediaURL,
	}

	msg, err := h.svc.SendMessage(ctx, draft)
	if err != nil {
		var verrs sanitize.ValidationErrors
		var blocked *service.ModerationBlockedError
		switch {
		case errors.As(err, &verrs):
			h.send(c, domain.NewErrorWS(domain.ErrCodeValidation, verrs.Error()))
		case errors.As(err, &blocked):
			h.send(c, domain.NewErrorWS(domain.ErrCodeBlocked, blocked.Error()))
		case errors.Is(err, service.ErrSendFailed):
			// The optimistic record is still in the store with SendError set.
			h.send(c, &domain.MessageAckWS{Type: domain.WSTypeMessageAck, Message: msg})
		default:
			h.send(c, domain.NewErrorWS(domain.ErrCodeInternalError, "send failed"))
		}
		return
	}

	h.send(c, &domain.MessageAckWS{Type: domain.WSTypeMessageAck, Message: msg})
}

func (h *WSHandler) send(c *hub.Client, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.L().Error().Err(err).Msg("failed to marshal ws frame")
		return
	}
	select {
	case c.Send <- data:
	default:
		log.L().Warn().Str("client_id", c.ID).Msg("client send buffer full, dropping frame")
	}
}
