// Package httpapi exposes investigations and the scoring pipeline over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/config"
	"github.com/olorin-labs/olorin-risk/internal/facts"
	"github.com/olorin-labs/olorin-risk/internal/investigation"
	"github.com/olorin-labs/olorin-risk/internal/results"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request headers understood by the API.
const (
	HeaderUserID  = "X-User-ID"
	HeaderIfMatch = "If-Match"
	HeaderETag    = "ETag"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// InvestigationService is the subset of investigation.Service the handlers use.
type InvestigationService interface {
	Create(ctx context.Context, req investigation.CreateRequest) (*schemas.InvestigationState, error)
	Get(ctx context.Context, investigationID, userID string) (*schemas.InvestigationState, error)
	Update(ctx context.Context, investigationID, userID string, payload schemas.UpdatePayload, expectedVersion *int64) (*schemas.InvestigationState, error)
	History(ctx context.Context, investigationID, userID string, limit int) ([]schemas.VersionTransition, error)
	PublishResults(ctx context.Context, investigationID string, results *schemas.InvestigationResults) (*schemas.InvestigationState, error)
}

// Scorer runs the scoring pipeline on one fact bundle.
type Scorer interface {
	Run(ctx context.Context, bundle schemas.FactBundle) (*results.Report, error)
}

// Response is the envelope of every JSON response.
type Response struct {
	Status          string `json:"status"`
	Data            any    `json:"data,omitempty"`
	Error           string `json:"error,omitempty"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
	CurrentVersion  *int64 `json:"current_version,omitempty"`
}

// patchRequest is an update payload with an optional version token for
// clients that cannot set If-Match.
type patchRequest struct {
	schemas.UpdatePayload
	ExpectedVersion any `json:"expected_version,omitempty"`
}

// Handlers manages HTTP request handling for investigations and scoring.
type Handlers struct {
	log      *zap.Logger
	svc      InvestigationService
	scorer   Scorer
	limiter  *rate.Limiter
	gatherer prometheus.Gatherer
}

// NewHandlers creates a new Handlers instance. A zero mutation rate disables
// rate limiting. gatherer may be nil, in which case /metrics is not served.
func NewHandlers(logger *zap.Logger, svc InvestigationService, scorer Scorer, cfg config.ServerConfig, gatherer prometheus.Gatherer) *Handlers {
	limit := rate.Limit(cfg.MutationRateLimit)
	if cfg.MutationRateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.MutationBurst
	if burst <= 0 {
		burst = 1
	}
	return &Handlers{
		log:      logger.Named("http_handlers"),
		svc:      svc,
		scorer:   scorer,
		limiter:  rate.NewLimiter(limit, burst),
		gatherer: gatherer,
	}
}

// Router builds the chi router with the standard middleware stack.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes sets up the routing for the API.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(h.rateLimit).Post("/score", h.HandleScore)
		r.Route("/investigations", func(r chi.Router) {
			r.With(h.rateLimit).Post("/", h.HandleCreate)
			r.Get("/{id}", h.HandleGet)
			r.With(h.rateLimit).Patch("/{id}", h.HandleUpdate)
			r.Get("/{id}/history", h.HandleHistory)
		})
	})
}

// HandleHealthCheck confirms the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req investigation.CreateRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if caller := r.Header.Get(HeaderUserID); caller != "" {
		if req.UserID != "" && req.UserID != caller {
			h.respondWithError(w, http.StatusForbidden, "user_id does not match the calling user")
			return
		}
		req.UserID = caller
	}

	state, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/investigations/"+state.InvestigationID)
	h.respondWithState(w, http.StatusCreated, state)
}

func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"), r.Header.Get(HeaderUserID))
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithState(w, http.StatusOK, state)
}

// HandleUpdate applies a partial update. The expected version comes from
// If-Match, falling back to expected_version in the body.
func (h *Handlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	var token any = req.ExpectedVersion
	if header := r.Header.Get(HeaderIfMatch); header != "" {
		token = header
	}
	expected, err := investigation.ParseExpectedVersion(token)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	state, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), r.Header.Get(HeaderUserID), req.UpdatePayload, expected)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithState(w, http.StatusOK, state)
}

func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid limit: %q", raw))
			return
		}
		limit = n
	}

	entries, err := h.svc.History(r.Context(), chi.URLParam(r, "id"), r.Header.Get(HeaderUserID), limit)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]any{
		"count":       len(entries),
		"transitions": entries,
	})
}

// HandleScore runs the pipeline on a JSON or YAML fact bundle. With
// ?publish=true the report is stored on the bundle's investigation.
func (h *Handlers) HandleScore(w http.ResponseWriter, r *http.Request) {
	format := facts.FormatJSON
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		format = facts.FormatYAML
	}
	bundle, err := facts.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), format)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.scorer.Run(r.Context(), *bundle)
	if err != nil {
		h.log.Error("Scoring pipeline failed", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Scoring pipeline failed.")
		return
	}

	if publish, _ := strconv.ParseBool(r.URL.Query().Get("publish")); publish {
		if bundle.InvestigationID == "" {
			h.respondWithError(w, http.StatusBadRequest, "investigation_id is required to publish results.")
			return
		}
		state, err := h.svc.PublishResults(r.Context(), bundle.InvestigationID, report.Results())
		if err != nil {
			h.respondWithServiceError(w, err)
			return
		}
		w.Header().Set(HeaderETag, investigation.FormatETag(state.Version))
	}
	h.respondWithSuccess(w, http.StatusOK, report)
}

func (h *Handlers) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			h.respondWithError(w, http.StatusTooManyRequests, "Rate limit exceeded.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, investigation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, investigation.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, investigation.ErrVersionConflict), errors.Is(err, investigation.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, investigation.ErrInvalidVersionToken), errors.Is(err, investigation.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, investigation.ErrStorageTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) respondWithServiceError(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	resp := Response{Status: "error", Error: err.Error()}

	var conflict *investigation.VersionConflictError
	if errors.As(err, &conflict) {
		resp.ExpectedVersion = &conflict.Expected
		resp.CurrentVersion = &conflict.Current
		w.Header().Set(HeaderETag, investigation.FormatETag(conflict.Current))
	}
	if code == http.StatusInternalServerError {
		h.log.Error("Request failed", zap.Error(err))
		resp.Error = "Internal error."
	}
	h.respond(w, code, resp)
}

func (h *Handlers) respondWithState(w http.ResponseWriter, code int, state *schemas.InvestigationState) {
	w.Header().Set(HeaderETag, investigation.FormatETag(state.Version))
	h.respondWithSuccess(w, code, state)
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respond(w, code, Response{Status: "error", Error: message})
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, code int, data any) {
	h.respond(w, code, Response{Status: "success", Data: data})
}

func (h *Handlers) respond(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
