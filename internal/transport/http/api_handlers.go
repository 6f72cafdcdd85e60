package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// APIHandlers serves the read-only REST API. Live state is read through the
// hub, stored messages straight from the store.
type APIHandlers struct {
	hub          *core.Hub
	store        store.MessageStore
	historyLimit int
	log          *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub *core.Hub, historyLimit int, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		hub:          hub,
		store:        hub.Store(),
		historyLimit: historyLimit,
		log:          logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// GroupResponse represents a live group in API responses.
type GroupResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Members   []string `json:"members"`
	CreatedAt string   `json:"created_at"`
}

// MessageResponse represents a stored message in API responses.
type MessageResponse struct {
	ID              string   `json:"id"`
	ChatType        string   `json:"chat_type"`
	Sender          string   `json:"sender"`
	Recipient       string   `json:"recipient,omitempty"`
	GroupID         string   `json:"group_id,omitempty"`
	GroupName       string   `json:"group_name,omitempty"`
	TotalRecipients int      `json:"total_recipients,omitempty"`
	Text            string   `json:"text"`
	Status          string   `json:"status"`
	SentAt          string   `json:"sent_at"`
	DeliveredAt     *string  `json:"delivered_at,omitempty"`
	ReadAt          *string  `json:"read_at,omitempty"`
	DeliveredBy     []string `json:"delivered_by"`
	ReadBy          []string `json:"read_by"`
}

// ListUsers returns the online identities.
// GET /api/users
func (h *APIHandlers) ListUsers(c *gin.Context) {
	users, err := h.hub.OnlineUsers(c.Request.Context())
	if err != nil {
		h.hubError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": nonNil(users)})
}

// ListGroups returns the live groups.
// GET /api/groups
func (h *APIHandlers) ListGroups(c *gin.Context) {
	groups, err := h.hub.Groups(c.Request.Context())
	if err != nil {
		h.hubError(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(groups, func(g core.GroupInfo, _ int) GroupResponse {
		return groupResponse(g)
	}))
}

// GetGroup returns one live group.
// GET /api/groups/:name
func (h *APIHandlers) GetGroup(c *gin.Context) {
	info, ok, err := h.hub.Group(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.hubError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "group not found"})
		return
	}
	c.JSON(http.StatusOK, groupResponse(info))
}

// GroupMessages returns the stored messages of a live group.
// GET /api/groups/:name/messages?limit=N
func (h *APIHandlers) GroupMessages(c *gin.Context) {
	limit, ok := h.parseLimit(c)
	if !ok {
		return
	}
	info, found, err := h.hub.Group(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.hubError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "group not found"})
		return
	}

	msgs, err := h.store.ListGroupMessages(c.Request.Context(), info.ID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("group", info.Name).Msg("failed to list group messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, messageResponses(msgs))
}

// GetMessage returns a stored message with its acknowledgment state.
// GET /api/messages/:id
func (h *APIHandlers) GetMessage(c *gin.Context) {
	msg, err := h.store.GetMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "message not found"})
			return
		}
		h.log.Error().Err(err).Str("message_id", c.Param("id")).Msg("failed to load message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, messageResponse(msg))
}

// Conversation returns the private messages between two identities.
// GET /api/conversations?a=alice&b=bob&limit=N
func (h *APIHandlers) Conversation(c *gin.Context) {
	a := strings.TrimSpace(c.Query("a"))
	b := strings.TrimSpace(c.Query("b"))
	if a == "" || b == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "query parameters a and b are required"})
		return
	}
	limit, ok := h.parseLimit(c)
	if !ok {
		return
	}

	msgs, err := h.store.ListConversation(c.Request.Context(), a, b, limit)
	if err != nil {
		h.log.Error().Err(err).Str("a", a).Str("b", b).Msg("failed to list conversation")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, messageResponses(msgs))
}

func (h *APIHandlers) parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return h.historyLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
		return 0, false
	}
	if h.historyLimit > 0 && limit > h.historyLimit {
		limit = h.historyLimit
	}
	return limit, true
}

func (h *APIHandlers) hubError(c *gin.Context, err error) {
	h.log.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("hub unavailable")
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "service unavailable"})
}

func groupResponse(g core.GroupInfo) GroupResponse {
	return GroupResponse{
		ID:        g.ID,
		Name:      g.Name,
		Members:   nonNil(g.Members),
		CreatedAt: g.CreatedAt.Format(time.RFC3339),
	}
}

func messageResponses(msgs []*store.Message) []MessageResponse {
	return lo.Map(msgs, func(m *store.Message, _ int) MessageResponse {
		return messageResponse(m)
	})
}

func messageResponse(m *store.Message) MessageResponse {
	format := func(t *time.Time) *string {
		if t == nil {
			return nil
		}
		return lo.ToPtr(t.Format(time.RFC3339))
	}
	return MessageResponse{
		ID:              m.ID,
		ChatType:        string(m.Kind),
		Sender:          m.Sender,
		Recipient:       m.Recipient,
		GroupID:         m.GroupID,
		GroupName:       m.GroupName,
		TotalRecipients: m.TotalRecipients,
		Text:            m.Body,
		Status:          string(m.Status),
		SentAt:          m.SentAt.Format(time.RFC3339),
		DeliveredAt:     format(m.DeliveredAt),
		ReadAt:          format(m.ReadAt),
		DeliveredBy:     nonNil(m.DeliveredBy),
		ReadBy:          nonNil(m.ReadBy),
	}
}
