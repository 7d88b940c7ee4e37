package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"irisserve/db"
	"irisserve/monitoring"
	"irisserve/pipeline"
	"irisserve/serving"
)

// Handlers serves the prediction API over one loader. All hosts share it, so
// eager and lazy instances answer identically.
type Handlers struct {
	loader    *serving.Loader
	engine    *serving.Engine
	validator *pipeline.Validator
	metrics   *monitoring.MetricsCollector
	events    *monitoring.EventHub
	alerts    *monitoring.AlertSystem
	audit     *db.AuditLog
	logger    *zap.Logger
}

// HandlerDeps lists what the handlers need. Everything after Validator is
// optional.
type HandlerDeps struct {
	Loader    *serving.Loader
	Engine    *serving.Engine
	Validator *pipeline.Validator
	Metrics   *monitoring.MetricsCollector
	Events    *monitoring.EventHub
	Alerts    *monitoring.AlertSystem
	Audit     *db.AuditLog
	Logger    *zap.Logger
}

func NewHandlers(deps HandlerDeps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validator := deps.Validator
	if validator == nil {
		validator = pipeline.NewValidator()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetricsCollector()
	}
	return &Handlers{
		loader:    deps.Loader,
		engine:    deps.Engine,
		validator: validator,
		metrics:   metrics,
		events:    deps.Events,
		alerts:    deps.Alerts,
		audit:     deps.Audit,
		logger:    logger.Named("http"),
	}
}

func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("GET /metrics", h.handleMetrics)
	if h.events != nil {
		mux.HandleFunc("GET /ws/events", h.events.HandleWebSocket)
	}
	if h.alerts != nil {
		mux.HandleFunc("GET /alerts", h.handleAlerts)
	}
	if h.audit != nil {
		h.registerAudit(mux)
	}
}

func (h *Handlers) handleRoot(w http.ResponseWriter, r *http.Request) {
	loaded := h.loader.IsLoaded()
	writeJSON(w, http.StatusOK, RootResponse{
		Status:      healthStatus(loaded),
		Service:     serviceName,
		Version:     serviceVersion,
		ModelLoaded: loaded,
	})
}

// handleHealth never triggers a load.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.loader.Describe()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      healthStatus(status.Loaded),
		ModelLoaded: status.Loaded,
		ModelPath:   status.Path,
	})
}

func healthStatus(loaded bool) string {
	if loaded {
		return "healthy"
	}
	return "unhealthy"
}

func (h *Handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := GetRequestID(r.Context())

	shape := r.URL.Query().Get("shape")
	switch shape {
	case "", shapeCanonical, shapeLegacy:
	default:
		h.metrics.RecordPredictionError("bad_request")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Detail: "unknown response shape: " + shape})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.metrics.RecordPredictionError("bad_request")
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Detail: "Request body too large"})
			return
		}
		h.metrics.RecordPredictionError("bad_request")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Detail: "Could not read request body"})
		return
	}

	measurements, verr := h.validator.Validate(body)
	if verr != nil {
		h.metrics.RecordPredictionError("validation")
		h.logger.Debug("request rejected",
			zap.String("request_id", requestID),
			zap.Int("errors", len(verr.Errors)))
		writeJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{Detail: verr.Errors})
		return
	}

	model, err := h.loader.EnsureLoaded(r.Context())
	if err != nil {
		h.writePredictError(w, requestID, err)
		return
	}

	prediction, err := h.engine.Predict(model, measurements)
	if err != nil {
		h.writePredictError(w, requestID, err)
		return
	}

	latency := time.Since(start)
	h.metrics.RecordPrediction(prediction.Species.String(), latency)
	if h.events != nil {
		h.events.Publish(monitoring.PredictionEvent, monitoring.PredictionMessage{
			RequestID:  requestID,
			Species:    prediction.Species.String(),
			Confidence: prediction.Confidence,
			LatencyMs:  float64(latency.Microseconds()) / 1000,
		})
	}
	if h.audit != nil {
		rec := db.PredictionRecord{
			RequestID:     requestID,
			Features:      [4]float64(measurements.Vector()),
			Species:       prediction.Species.String(),
			Confidence:    prediction.Confidence,
			Probabilities: prediction.Probabilities,
		}
		if err := h.audit.RecordPrediction(r.Context(), rec); err != nil {
			h.logger.Warn("audit write failed", zap.String("request_id", requestID), zap.Error(err))
		}
	}

	if shape == shapeLegacy {
		writeJSON(w, http.StatusOK, newLegacyResponse(prediction))
		return
	}
	writeJSON(w, http.StatusOK, newPredictionResponse(prediction))
}

func (h *Handlers) writePredictError(w http.ResponseWriter, requestID string, err error) {
	status := predictErrorStatusCode(err)
	detail := "Prediction failed"
	kind := "inference"
	if status == http.StatusServiceUnavailable {
		detail = "Model not loaded: " + err.Error()
		kind = "model_unavailable"
	}
	h.metrics.RecordPredictionError(kind)
	h.logger.Error("predict failed",
		zap.String("request_id", requestID),
		zap.Int("status", status),
		zap.Error(err))
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

func predictErrorStatusCode(err error) int {
	if serving.IsLoadError(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "prometheus" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = io.WriteString(w, h.metrics.ExportPrometheus())
		return
	}
	snapshot := h.metrics.Snapshot()
	snapshot.Validator = h.validator.GetStats()
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handlers) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":  h.alerts.GetActiveAlerts(),
		"history": h.alerts.GetAlertHistory(50),
		"stats":   h.alerts.GetStats(),
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
