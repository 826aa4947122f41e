package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/auth"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/services"
)

// ResearcherRequest is the request body for granting researcher access.
type ResearcherRequest struct {
	Username string `json:"username"`
}

// HeartbeatRequest is the request body for a device liveness signal. A zero
// timestamp means "now" on the server clock.
type HeartbeatRequest struct {
	Timestamp int64 `json:"timestamp"`
}

// NotifyRequest is the request body for a campaign-wide notification.
type NotifyRequest struct {
	Subject string `json:"subject"`
	Content string `json:"content"`
}

// CampaignsHandler handles campaign lifecycle and binding HTTP requests.
type CampaignsHandler struct {
	registryService  services.RegistryService
	messagingService services.MessagingService
	logger           *zap.Logger
}

// NewCampaignsHandler creates a new campaigns handler.
func NewCampaignsHandler(registryService services.RegistryService, messagingService services.MessagingService, logger *zap.Logger) *CampaignsHandler {
	return &CampaignsHandler{
		registryService:  registryService,
		messagingService: messagingService,
		logger:           logger,
	}
}

// RegisterRoutes registers the campaigns handler's routes on the given mux.
func (h *CampaignsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/campaigns", authMiddleware.RequireSession(h.Upsert))
	mux.HandleFunc("GET /api/campaigns", authMiddleware.RequireSession(h.List))
	mux.HandleFunc("GET /api/campaigns/{cid}", authMiddleware.RequireSession(h.Get))
	mux.HandleFunc("DELETE /api/campaigns/{cid}", authMiddleware.RequireSession(h.Delete))

	mux.HandleFunc("POST /api/campaigns/{cid}/bindings", authMiddleware.RequireSession(h.Bind))
	mux.HandleFunc("DELETE /api/campaigns/{cid}/bindings", authMiddleware.RequireSession(h.Unbind))
	mux.HandleFunc("POST /api/campaigns/{cid}/heartbeat", authMiddleware.RequireSession(h.Heartbeat))

	mux.HandleFunc("GET /api/campaigns/{cid}/participants", authMiddleware.RequireSession(h.ListParticipants))
	mux.HandleFunc("GET /api/campaigns/{cid}/participants/{uid}/stats", authMiddleware.RequireSession(h.ParticipantStats))

	mux.HandleFunc("POST /api/campaigns/{cid}/researchers", authMiddleware.RequireSession(h.GrantResearcher))
	mux.HandleFunc("DELETE /api/campaigns/{cid}/researchers/{username}", authMiddleware.RequireSession(h.RevokeResearcher))

	mux.HandleFunc("POST /api/campaigns/{cid}/notifications", authMiddleware.RequireSession(h.Notify))
}

// Upsert handles POST /api/campaigns. A zero or absent id creates; a set id
// rewrites the existing definition.
func (h *CampaignsHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}

	var campaign models.Campaign
	if err := json.NewDecoder(r.Body).Decode(&campaign); err != nil {
		h.badRequest(w, "Invalid request body")
		return
	}

	created := campaign.ID == 0
	result, err := h.registryService.RegisterOrUpdateCampaign(r.Context(), claims.UserID, &campaign)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	if err := WriteJSON(w, status, result); err != nil {
		h.logger.Error("Failed to encode campaign response", zap.Error(err))
	}
}

// List handles GET /api/campaigns. ?active=true filters out ended campaigns.
func (h *CampaignsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	campaigns, err := h.registryService.ListCampaigns(r.Context(), claims.UserID, activeOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns}); err != nil {
		h.logger.Error("Failed to encode campaigns response", zap.Error(err))
	}
}

// Get handles GET /api/campaigns/{cid}.
func (h *CampaignsHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}
	campaignID, err := pathInt64(r, "cid")
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	campaign, err := h.registryService.GetCampaign(r.Context(), claims.UserID, campaignID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, campaign); err != nil {
		h.logger.Error("Failed to encode campaign response", zap.Error(err))
	}
}

// Delete handles DELETE /api/campaigns/{cid}.
func (h *CampaignsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}
	campaignID, err := pathInt64(r, "cid")
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	if err := h.registryService.DeleteCampaign(r.Context(), claims.UserID, campaignID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Bind handles POST /api/campaigns/{cid}/bindings. The caller binds itself.
func (h *CampaignsHandler) Bind(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}
	campaignID, err := pathInt64(r, "cid")
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	result, err := h.registryService.Bind(r.Context(), campaignID, claims.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.IsNewBinding {
		status = http.StatusCreated
	}
	if err := WriteJSON(w, status, result); err != nil {
		h.logger.Error("Failed to encode bind response", zap.Error(err))
	}
}

// Unbind handles DELETE /api/campaigns/{cid}/bindings.
func (h *CampaignsHandler) Unbind(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}
	campaignID, err := pathInt64(r, "cid")
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	if err := h.registryService.Unbind(r.Context(), campaignID, claims.UserID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Heartbeat handles POST /api/campaigns/{cid}/heartbeat.
func (h *CampaignsHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}
	campaignID, err := pathInt64(r, "cid")
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "Invalid request body")
		return
	}
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().UnixMilli()
	}

	if err := h.registryService.SubmitHeartbeat(r.Context(), campaignID, claims.UserID, req.Timestamp); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListParticipants handles GET /api/campaigns/{cid}/participants.
func (h *CampaignsHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}
	campaignID, err := pathInt64(r, "cid")
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	ids, err := h.registryService.ListParticipants(r.Context(), claims.UserID, campaignID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"participantIds": ids}); err != nil {
		h.logger.Error("Failed to encode participants response", zap.Error(err))
	}
}

// ParticipantStats handles GET /api/campaigns/{cid}/participants/{uid}/stats.
func (h *CampaignsHandler) ParticipantStats(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}
	campaignID, err := pathInt64(r, "cid")
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}
	userID, err := pathInt64(r, "uid")
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	stats, err := h.registryService.GetParticipantStats(r.Context(), claims.UserID, campaignID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, stats); err != nil {
		h.logger.Error("Failed to encode stats response", zap.Error(err))
	}
}

// GrantResearcher handles POST /api/campaigns/{cid}/researchers.
func (h *CampaignsHandler) GrantResearcher(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}
	campaignID, err := pathInt64(r, "cid")
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	var req ResearcherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		h.badRequest(w, "Username is required")
		return
	}

	if err := h.registryService.GrantResearcher(r.Context(), claims.UserID, campaignID, req.Username); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeResearcher handles DELETE /api/campaigns/{cid}/researchers/{username}.
func (h *CampaignsHandler) RevokeResearcher(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}
	campaignID, err := pathInt64(r, "cid")
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}
	username := r.PathValue("username")
	if username == "" {
		h.badRequest(w, "Username is required")
		return
	}

	if err := h.registryService.RevokeResearcher(r.Context(), claims.UserID, campaignID, username); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Notify handles POST /api/campaigns/{cid}/notifications.
func (h *CampaignsHandler) Notify(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}
	campaignID, err := pathInt64(r, "cid")
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "Invalid request body")
		return
	}

	recipients, err := h.messagingService.NotifyCampaign(r.Context(), claims.UserID, campaignID, req.Subject, req.Content)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]int{"recipients": recipients}); err != nil {
		h.logger.Error("Failed to encode notify response", zap.Error(err))
	}
}

func (h *CampaignsHandler) writeError(w http.ResponseWriter, err error) {
	if writeErr := WriteError(w, err); writeErr != nil {
		h.logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}

func (h *CampaignsHandler) badRequest(w http.ResponseWriter, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *CampaignsHandler) unauthorized(w http.ResponseWriter) {
	if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
