package http

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

func (h *Handlers) registerAudit(mux *http.ServeMux) {
	mux.HandleFunc("GET /audit/predictions", h.handleAuditPredictions)
	mux.HandleFunc("GET /audit/loads", h.handleAuditLoads)
}

func (h *Handlers) handleAuditPredictions(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	limit := defaultAuditLimit
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	records, err := h.audit.RecentPredictions(r.Context(), limit)
	if err != nil {
		h.logger.Error("read audit predictions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Detail: "audit log unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": records,
		"count":       len(records),
		"limit":       limit,
	})
}

func (h *Handlers) handleAuditLoads(w http.ResponseWriter, r *http.Request) {
	records, err := h.audit.ModelLoads(r.Context())
	if err != nil {
		h.logger.Error("read audit model loads", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Detail: "audit log unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loads": records,
		"count": len(records),
	})
}
