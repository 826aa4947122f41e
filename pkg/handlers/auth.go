package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/auth"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/services"
)

// CredentialsRequest is the request body for register and login.
type CredentialsRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

// SessionResponse carries the issued token and the account it belongs to.
type SessionResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// SetTagRequest is the request body for tagging an account.
type SetTagRequest struct {
	Tag string `json:"tag"`
}

// AuthHandler handles registration, login, and account endpoints.
type AuthHandler struct {
	identityService services.IdentityService
	logger          *zap.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(identityService services.IdentityService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		identityService: identityService,
		logger:          logger,
	}
}

// RegisterRoutes registers the auth handler's routes on the given mux.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/auth/register", h.Register)
	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.HandleFunc("POST /api/auth/logout", authMiddleware.RequireSession(h.Logout))
	mux.HandleFunc("GET /api/users/me", authMiddleware.RequireSession(h.Me))
	mux.HandleFunc("PUT /api/users/me/tag", authMiddleware.RequireSession(h.SetTag))
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "Invalid request body")
		return
	}

	user, token, err := h.identityService.Register(r.Context(), req.Username, req.Password, req.DisplayName)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, SessionResponse{Token: token, User: user}); err != nil {
		h.logger.Error("Failed to encode register response", zap.Error(err))
	}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "Invalid request body")
		return
	}

	user, token, err := h.identityService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		// Login failures are all 401 regardless of cause.
		if writeErr := ErrorResponse(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password"); writeErr != nil {
			h.logger.Error("Failed to write error response", zap.Error(writeErr))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, SessionResponse{Token: token, User: user}); err != nil {
		h.logger.Error("Failed to encode login response", zap.Error(err))
	}
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")

	if err := h.identityService.Logout(r.Context(), token); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/users/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}

	user, err := h.identityService.GetUser(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, user); err != nil {
		h.logger.Error("Failed to encode user response", zap.Error(err))
	}
}

// SetTag handles PUT /api/users/me/tag.
func (h *AuthHandler) SetTag(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}

	var req SetTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "Invalid request body")
		return
	}

	if err := h.identityService.SetTag(r.Context(), claims.UserID, req.Tag); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) writeError(w http.ResponseWriter, err error) {
	if writeErr := WriteError(w, err); writeErr != nil {
		h.logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}

func (h *AuthHandler) badRequest(w http.ResponseWriter, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *AuthHandler) unauthorized(w http.ResponseWriter) {
	if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
