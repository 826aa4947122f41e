package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/auth"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/services"
)

// SendMessageRequest is the request body for a direct message.
type SendMessageRequest struct {
	DstUsername string `json:"dstUsername"`
	Subject     string `json:"subject"`
	Content     string `json:"content"`
}

// MessagesHandler handles direct message and notification HTTP requests.
type MessagesHandler struct {
	messagingService services.MessagingService
	logger           *zap.Logger
}

// NewMessagesHandler creates a new messages handler.
func NewMessagesHandler(messagingService services.MessagingService, logger *zap.Logger) *MessagesHandler {
	return &MessagesHandler{
		messagingService: messagingService,
		logger:           logger,
	}
}

// RegisterRoutes registers the messages handler's routes on the given mux.
func (h *MessagesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/messages", authMiddleware.RequireSession(h.Send))
	mux.HandleFunc("GET /api/messages/unread", authMiddleware.RequireSession(h.TakeMessages))
	mux.HandleFunc("GET /api/notifications/unread", authMiddleware.RequireSession(h.TakeNotifications))
}

// Send handles POST /api/messages.
func (h *MessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DstUsername == "" {
		h.badRequest(w, "Destination username is required")
		return
	}

	if err := h.messagingService.SendDirectMessage(r.Context(), claims.UserID, req.DstUsername, req.Subject, req.Content); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TakeMessages handles GET /api/messages/unread. Returned messages are
// marked read; a repeat call yields only what arrived since.
func (h *MessagesHandler) TakeMessages(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}

	msgs, err := h.messagingService.TakeDirectMessages(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.DirectMessage{}
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"messages": msgs}); err != nil {
		h.logger.Error("Failed to encode messages response", zap.Error(err))
	}
}

// TakeNotifications handles GET /api/notifications/unread.
func (h *MessagesHandler) TakeNotifications(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}

	notifs, err := h.messagingService.TakeNotifications(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if notifs == nil {
		notifs = []models.Notification{}
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"notifications": notifs}); err != nil {
		h.logger.Error("Failed to encode notifications response", zap.Error(err))
	}
}

func (h *MessagesHandler) writeError(w http.ResponseWriter, err error) {
	if writeErr := WriteError(w, err); writeErr != nil {
		h.logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}

func (h *MessagesHandler) badRequest(w http.ResponseWriter, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *MessagesHandler) unauthorized(w http.ResponseWriter) {
	if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
