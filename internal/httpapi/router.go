// Package httpapi serves the upload, webhook and result endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/labelcache/internal/coordinator"
	"github.com/roach88/labelcache/internal/event"
	"github.com/roach88/labelcache/internal/model"
	"github.com/roach88/labelcache/internal/presign"
)

const (
	maxUploadBody       = 4 << 10
	maxNotificationBody = 1 << 20
)

// Processor runs a batch of upload events. *coordinator.Coordinator implements it.
type Processor interface {
	ProcessBatch(ctx context.Context, events []model.UploadEvent) []coordinator.Report
}

// ResultReader reads stored records. Every store.Store implements it.
type ResultReader interface {
	Lookup(ctx context.Context, fp model.Fingerprint) (model.ClassificationRecord, bool, error)
}

// Uploader issues upload URLs. *presign.Gateway implements it.
type Uploader interface {
	Issue(ctx context.Context, req presign.Request) (presign.Response, error)
}

// Deps are the collaborators behind the router. Uploader may be nil, in
// which case POST /upload answers 501.
type Deps struct {
	Processor Processor
	Results   ResultReader
	Uploader  Uploader
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

type handler struct {
	deps   Deps
	logger *slog.Logger
}

// NewRouter creates the HTTP handler with all endpoints.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	h := &handler{deps: deps, logger: deps.Logger.With("component", "httpapi")}

	r := mux.NewRouter()
	r.HandleFunc("/upload", h.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/events", h.handleEvents).Methods(http.MethodPost)
	r.HandleFunc("/results/{fingerprint}", h.handleResult).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Use(loggingMiddleware(h.logger))
	return r
}

func (h *handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.deps.Uploader == nil {
		writeError(w, http.StatusNotImplemented, "uploads require s3 storage")
		return
	}

	var req presign.Request
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	resp, err := h.deps.Uploader.Issue(r.Context(), req)
	switch {
	case errors.Is(err, presign.ErrInvalidFilename):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Error("presign failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create upload URL")
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

// EventsResponse is the body of POST /events.
type EventsResponse struct {
	Action  string                `json:"action"`
	Records []coordinator.Summary `json:"records"`
	Skipped []string              `json:"skipped,omitempty"`
}

func (h *handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	batch, err := event.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	batch.LogSkipped(h.logger)

	reports := h.deps.Processor.ProcessBatch(r.Context(), batch.Events)
	resp := EventsResponse{Records: make([]coordinator.Summary, 0, len(reports))}
	for _, rep := range reports {
		resp.Records = append(resp.Records, rep.Summarize())
	}
	for _, s := range batch.Skipped {
		resp.Skipped = append(resp.Skipped, s.Error())
	}
	action := coordinator.Overall(reports)
	resp.Action = action.String()

	status := http.StatusOK
	if action >= coordinator.Retry {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *handler) handleResult(w http.ResponseWriter, r *http.Request) {
	fp := model.Fingerprint(mux.Vars(r)["fingerprint"])
	rec, found, err := h.deps.Results.Lookup(r.Context(), fp)
	switch {
	case err != nil:
		h.logger.Warn("lookup failed", "fingerprint", fp.String(), "error", err)
		writeError(w, http.StatusServiceUnavailable, "result store unavailable")
	case !found:
		writeError(w, http.StatusNotFound, "no record for fingerprint")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON serialises payload as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware tags each request with an ID and logs its status.
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-Id")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", reqID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			started := time.Now()
			next.ServeHTTP(rec, r)
			logger.Debug("request",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(started))
		})
	}
}
