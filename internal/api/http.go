package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"Go2NetQoS/internal/query"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// APIHandler holds the dependencies for the HTTP handlers.
type APIHandler struct {
	service *Service
	logger  *zap.Logger
}

// NewRouter builds the HTTP API. gatherer serves /metrics and may be nil.
func NewRouter(service *Service, gatherer prometheus.Gatherer, logger *zap.Logger) *mux.Router {
	h := &APIHandler{service: service, logger: logger}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", h.healthHandler).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.statsHandler).Methods(http.MethodGet)
	api.HandleFunc("/flows", h.flowsHandler).Methods(http.MethodGet)
	api.HandleFunc("/flows/lookup", h.flowHandler).Methods(http.MethodGet)
	api.HandleFunc("/classify", h.classifyHandler).Methods(http.MethodPost)
	api.HandleFunc("/decisions/summary", h.summaryHandler).Methods(http.MethodGet)
	api.HandleFunc("/decisions/trace", h.traceHandler).Methods(http.MethodGet)

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *APIHandler) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Stats())
}

// flowsHandler lists tracked flows, honouring an optional ?limit=.
func (h *APIHandler) flowsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid limit: %v", err), http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.service.Flows(limit))
}

// flowHandler looks up one flow by the ?key= it is rendered as in listings.
func (h *APIHandler) flowHandler(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	snap, ok, err := h.service.Flow(key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ok {
		http.Error(w, fmt.Sprintf("flow %s is not tracked", key), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *APIHandler) classifyHandler(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}

	resp, err := h.service.Classify(req)
	if err != nil {
		status := http.StatusInternalServerError
		if isBadRequest(err) {
			status = http.StatusBadRequest
		}
		http.Error(w, fmt.Sprintf("failed to classify frame: %v", err), status)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// summaryHandler accepts optional RFC 3339 ?since= and ?until= bounds and a
// ?mode= filter.
func (h *APIHandler) summaryHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := query.SummaryRequest{Mode: q.Get("mode")}
	for name, dst := range map[string]*time.Time{"since": &req.Since, "until": &req.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid %s: %v", name, err), http.StatusBadRequest)
			return
		}
		*dst = ts
	}

	summaries, err := h.service.SummarizeDecisions(r.Context(), req)
	if err != nil {
		h.queryError(w, "failed to summarize decisions", err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *APIHandler) traceHandler(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}
	trace, err := h.service.TraceFlow(r.Context(), key)
	if err != nil {
		h.queryError(w, "failed to trace flow", err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func (h *APIHandler) queryError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, ErrNoQuerier) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.logger.Warn(msg, zap.Error(err))
	http.Error(w, fmt.Sprintf("%s: %v", msg, err), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
