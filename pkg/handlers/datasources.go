package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/auth"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/services"
)

// DataSourceRequest is the request body for resolving a data source by name.
type DataSourceRequest struct {
	Name     string `json:"name"`
	IconName string `json:"iconName,omitempty"`
}

// DataSourcesHandler handles data source catalog HTTP requests.
type DataSourcesHandler struct {
	registryService services.RegistryService
	logger          *zap.Logger
}

// NewDataSourcesHandler creates a new data sources handler.
func NewDataSourcesHandler(registryService services.RegistryService, logger *zap.Logger) *DataSourcesHandler {
	return &DataSourcesHandler{
		registryService: registryService,
		logger:          logger,
	}
}

// RegisterRoutes registers the data sources handler's routes on the given mux.
func (h *DataSourcesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/datasources", authMiddleware.RequireSession(h.GetOrCreate))
	mux.HandleFunc("GET /api/datasources", authMiddleware.RequireSession(h.List))
}

// GetOrCreate handles POST /api/datasources. Resolving an existing name
// returns the existing entry; only an unseen name creates one.
func (h *DataSourcesHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}

	var req DataSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "Invalid request body")
		return
	}

	ds, err := h.registryService.GetOrCreateDataSource(r.Context(), claims.UserID, req.Name, req.IconName)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ds); err != nil {
		h.logger.Error("Failed to encode data source response", zap.Error(err))
	}
}

// List handles GET /api/datasources.
func (h *DataSourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	sources, err := h.registryService.ListDataSources(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"dataSources": sources}); err != nil {
		h.logger.Error("Failed to encode data sources response", zap.Error(err))
	}
}

func (h *DataSourcesHandler) writeError(w http.ResponseWriter, err error) {
	if writeErr := WriteError(w, err); writeErr != nil {
		h.logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}

func (h *DataSourcesHandler) badRequest(w http.ResponseWriter, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *DataSourcesHandler) unauthorized(w http.ResponseWriter) {
	if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
