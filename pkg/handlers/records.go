package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/auth"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/services"
)

// BatchRequest is the request body for a batch record submission.
type BatchRequest struct {
	Records []models.Record `json:"records"`
}

// BatchResponse reports how many records of the batch are durable. Short
// counts happen when a sub-batch fails partway; the device resubmits from
// Written onward.
type BatchResponse struct {
	Written  int  `json:"written"`
	Complete bool `json:"complete"`
}

// RecordsHandler handles the record submission and retrieval endpoints.
type RecordsHandler struct {
	ingestionService services.IngestionService
	queryService     services.QueryService
	logger           *zap.Logger
}

// NewRecordsHandler creates a new records handler.
func NewRecordsHandler(ingestionService services.IngestionService, queryService services.QueryService, logger *zap.Logger) *RecordsHandler {
	return &RecordsHandler{
		ingestionService: ingestionService,
		queryService:     queryService,
		logger:           logger,
	}
}

// RegisterRoutes registers the records handler's routes on the given mux.
func (h *RecordsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/campaigns/{cid}/records", authMiddleware.RequireSession(h.Submit))
	mux.HandleFunc("POST /api/campaigns/{cid}/records/batch", authMiddleware.RequireSession(h.SubmitBatch))

	mux.HandleFunc("GET /api/campaigns/{cid}/participants/{uid}/records/next", authMiddleware.RequireSession(h.FetchNext))
	mux.HandleFunc("GET /api/campaigns/{cid}/participants/{uid}/records", authMiddleware.RequireSession(h.FetchRange))
	mux.HandleFunc("GET /api/campaigns/{cid}/participants/{uid}/records/dump", authMiddleware.RequireSession(h.Dump))
}

// Submit handles POST /api/campaigns/{cid}/records. The caller writes into
// its own shard.
func (h *RecordsHandler) Submit(w http.ResponseWriter, r *http.Request) {
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

	var rec models.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		h.badRequest(w, "Invalid request body")
		return
	}

	if err := h.ingestionService.SubmitRecord(r.Context(), campaignID, claims.UserID, rec); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitBatch handles POST /api/campaigns/{cid}/records/batch.
func (h *RecordsHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
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

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "Invalid request body")
		return
	}

	written, err := h.ingestionService.SubmitRecords(r.Context(), campaignID, claims.UserID, req.Records)
	if err != nil {
		// A short count with an error is still useful to the device: report
		// both instead of discarding the progress.
		if written > 0 {
			if encErr := WriteJSON(w, http.StatusAccepted, BatchResponse{Written: written, Complete: false}); encErr != nil {
				h.logger.Error("Failed to encode batch response", zap.Error(encErr))
			}
			return
		}
		h.writeError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, BatchResponse{Written: written, Complete: true}); err != nil {
		h.logger.Error("Failed to encode batch response", zap.Error(err))
	}
}

// FetchNext handles GET /api/campaigns/{cid}/participants/{uid}/records/next.
// Query parameters: dataSourceId, fromTimestamp, k.
func (h *RecordsHandler) FetchNext(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}
	campaignID, userID, err := h.pathPair(r)
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	dataSourceID, err := queryInt64(r, "dataSourceId", 0)
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}
	fromTS, err := queryInt64(r, "fromTimestamp", 0)
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}
	k, err := queryInt64(r, "k", 100)
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	recs, err := h.queryService.FetchNextK(r.Context(), claims.UserID, campaignID, userID, dataSourceID, fromTS, int(k))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeRecords(w, recs)
}

// FetchRange handles GET /api/campaigns/{cid}/participants/{uid}/records.
// Query parameters: dataSourceId, from, till (half-open), truncate.
func (h *RecordsHandler) FetchRange(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}
	campaignID, userID, err := h.pathPair(r)
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	dataSourceID, err := queryInt64(r, "dataSourceId", 0)
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}
	from, err := queryOptInt64(r, "from")
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}
	till, err := queryOptInt64(r, "till")
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}
	truncate := r.URL.Query().Get("truncate") == "true"

	recs, err := h.queryService.FetchRange(r.Context(), claims.UserID, campaignID, userID, dataSourceID, from, till, truncate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeRecords(w, recs)
}

// Dump handles GET /api/campaigns/{cid}/participants/{uid}/records/dump.
// The shard streams out as CSV; rows written before a mid-stream failure
// have already left the building, so errors there only get logged.
func (h *RecordsHandler) Dump(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		h.unauthorized(w)
		return
	}
	campaignID, userID, err := h.pathPair(r)
	if err != nil {
		h.badRequest(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="campaign_%d_participant_%d.csv"`, campaignID, userID))

	n, err := h.queryService.DumpShard(r.Context(), claims.UserID, campaignID, userID, w)
	if err != nil {
		if n == 0 {
			// Nothing sent yet; the status line is still ours to set.
			w.Header().Del("Content-Disposition")
			h.writeError(w, err)
			return
		}
		h.logger.Error("Shard dump aborted mid-stream",
			zap.Int64("campaign_id", campaignID),
			zap.Int64("user_id", userID),
			zap.Int64("rows_sent", n),
			zap.Error(err))
	}
}

func (h *RecordsHandler) pathPair(r *http.Request) (int64, int64, error) {
	campaignID, err := pathInt64(r, "cid")
	if err != nil {
		return 0, 0, err
	}
	userID, err := pathInt64(r, "uid")
	if err != nil {
		return 0, 0, err
	}
	return campaignID, userID, nil
}

func (h *RecordsHandler) writeRecords(w http.ResponseWriter, recs []models.Record) {
	if recs == nil {
		recs = []models.Record{}
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"records": recs}); err != nil {
		h.logger.Error("Failed to encode records response", zap.Error(err))
	}
}

func (h *RecordsHandler) writeError(w http.ResponseWriter, err error) {
	if writeErr := WriteError(w, err); writeErr != nil {
		h.logger.Error("Failed to write error response", zap.Error(writeErr))
	}
}

func (h *RecordsHandler) badRequest(w http.ResponseWriter, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *RecordsHandler) unauthorized(w http.ResponseWriter) {
	if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
