package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"wordfinder/internal/config"
	"wordfinder/internal/model"
	"wordfinder/internal/observability"
	"wordfinder/internal/pipeline"
	"wordfinder/internal/suggest"
	"wordfinder/internal/upstream/openai"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
)

type PipelineService interface {
	Process(ctx context.Context, transcript string) (pipeline.Result, error)
}

type UpstreamChecker interface {
	CheckModels(ctx context.Context) error
}

type MetricsObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
	IncSuggestionOutcome(outcome, trigger string)
}

type Dependencies struct {
	Pipeline       PipelineService
	Upstream       UpstreamChecker
	Metrics        MetricsObserver
	MetricsHandler http.Handler
}

type server struct {
	cfg          config.Config
	logger       *slog.Logger
	pipeline     PipelineService
	upstream     UpstreamChecker
	metrics      MetricsObserver
	metricsRoute http.Handler
}

type ctxKey string

const (
	requestIDHeader  = "X-Request-Id"
	requestIDContext = ctxKey("request_id")
	maxJSONBodyBytes = 1 << 20
	statusCanceled   = 499
)

func NewServer(cfg config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Pipeline == nil || deps.Upstream == nil {
		panic("httpapi: pipeline and upstream dependencies are required")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		pipeline:     deps.Pipeline,
		upstream:     deps.Upstream,
		metrics:      deps.Metrics,
		metricsRoute: deps.MetricsHandler,
	}

	allowedOrigins := cfg.CORSAllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(s.apiKeyMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metricsRoute != nil {
		r.Handle("/metrics", s.metricsRoute)
	}

	r.Post("/suggest", s.handleSuggest)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/suggest", s.handleSuggest)
	})

	return r
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{OK: true})
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.UpstreamAPIKey == "" && openai.RequestAPIKeyFromContext(r.Context()) == "" {
		writeJSON(w, http.StatusOK, model.ReadyResponse{OK: true, ServiceName: "wordfinder"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.upstream.CheckModels(ctx); err != nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "not_ready", "upstream check failed", detailsForError(err))
		return
	}
	writeJSON(w, http.StatusOK, model.ReadyResponse{OK: true, ServiceName: "wordfinder"})
}

func (s *server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	defer func() { _ = r.Body.Close() }()

	var req model.SuggestionRequest
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&req); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return
	}
	if err := ensureBodyFullyConsumed(decoder); err != nil {
		s.handleJSONDecodeError(w, r, err)
		return
	}
	if req.Transcript == nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", "transcript is required", nil)
		return
	}

	result, err := s.pipeline.Process(r.Context(), *req.Transcript)
	if err != nil {
		s.writeSuggestionError(w, r, result, err)
		return
	}

	outcome := observability.OutcomeNotDetected
	if result.ContextDetected {
		outcome = observability.OutcomeSuggested
		s.logger.Debug("suggestions_fetched",
			"request_id", requestIDFromContext(r.Context()),
			"trigger", result.MatchedTrigger,
			"count", len(result.Suggestions),
			"duration_ms", result.Duration.Milliseconds(),
		)
	}
	s.incOutcome(outcome, result.MatchedTrigger)

	suggestions := result.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	writeJSON(w, http.StatusOK, model.SuggestionResponse{
		Suggestions:     suggestions,
		ContextDetected: result.ContextDetected,
		MatchedTrigger:  result.MatchedTrigger,
		RawText:         result.RawText,
		Usage:           toModelTokenUsage(result.Usage),
	})
}

func (s *server) handleJSONDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", "JSON body too large", nil)
		return
	}
	s.writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body", nil)
}

type errorMapping struct {
	status  int
	code    string
	message string
	outcome string
}

func mapError(err error) errorMapping {
	var (
		providerErr *openai.ProviderError
		requestErr  *openai.RequestError
	)
	switch {
	case errors.Is(err, openai.ErrMissingCredential):
		return errorMapping{http.StatusServiceUnavailable, "missing_credentials", "upstream API key is not configured", observability.OutcomeMissingCredential}
	case errors.As(err, &providerErr):
		return errorMapping{http.StatusBadGateway, "provider_error", providerErr.Message, observability.OutcomeProviderError}
	case errors.Is(err, context.Canceled):
		return errorMapping{statusCanceled, "canceled", "request canceled", observability.OutcomeRequestError}
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &requestErr) && requestErr.Timeout():
		return errorMapping{http.StatusGatewayTimeout, "timeout", "upstream request timed out", observability.OutcomeRequestError}
	case errors.As(err, &requestErr):
		return errorMapping{http.StatusBadGateway, "upstream_request_failed", "upstream request failed", observability.OutcomeRequestError}
	default:
		return errorMapping{http.StatusInternalServerError, "internal_error", "request failed", observability.OutcomeRequestError}
	}
}

// writeSuggestionError reports a failed fetch with a non-2xx status and an
// empty suggestion list, never as a plain "not detected" result.
func (s *server) writeSuggestionError(w http.ResponseWriter, r *http.Request, result pipeline.Result, err error) {
	mapped := mapError(err)
	s.incOutcome(mapped.outcome, result.MatchedTrigger)

	rid := requestIDFromContext(r.Context())
	s.logger.Warn("suggestion_failed",
		"request_id", rid,
		"code", mapped.code,
		"trigger", result.MatchedTrigger,
		"error", err,
	)

	if rid != "" {
		w.Header().Set(requestIDHeader, rid)
	}
	writeJSON(w, mapped.status, model.SuggestionErrorResponse{
		Error:           model.APIError{Code: mapped.code, Message: mapped.message, Details: detailsForError(err)},
		RequestID:       rid,
		Suggestions:     []string{},
		ContextDetected: result.ContextDetected,
	})
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	if rid := requestIDFromContext(r.Context()); rid != "" {
		w.Header().Set(requestIDHeader, rid)
	}
	writeJSON(w, status, model.ErrorResponse{
		Error:     model.APIError{Code: code, Message: message, Details: details},
		RequestID: requestIDFromContext(r.Context()),
	})
}

func (s *server) incOutcome(outcome, trigger string) {
	if s.metrics != nil {
		s.metrics.IncSuggestionOutcome(outcome, trigger)
	}
}

func (s *server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDContext, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		duration := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, status, duration)
		}

		s.logger.Info("http_request",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", duration.Milliseconds(),
		)
	})
}

func (s *server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "request_id", requestIDFromContext(r.Context()), "panic", rec)
				s.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// apiKeyMiddleware forwards a caller-supplied bearer token as the upstream
// key for this request. Callers are not authenticated.
func (s *server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, hasHeader, ok := extractBearerToken(r.Header.Get("Authorization"))
		if hasHeader && !ok {
			s.writeError(w, r, http.StatusBadRequest, "invalid_request", "Authorization must be Bearer <provider_api_key>", nil)
			return
		}
		if token != "" {
			r = r.WithContext(openai.WithRequestAPIKey(r.Context(), token))
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func ensureBodyFullyConsumed(decoder *json.Decoder) error {
	var extra any
	if err := decoder.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple JSON values")
		}
		return err
	}
	return nil
}

func requestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDContext).(string)
	return value
}

func extractBearerToken(header string) (token string, hasHeader bool, ok bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false, true
	}
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", true, false
	}
	token = strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", true, false
	}
	return token, true, true
}

func toModelTokenUsage(u *suggest.TokenUsage) *model.TokenUsage {
	if u == nil {
		return nil
	}
	return &model.TokenUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.TotalTokens,
	}
}

func detailsForError(err error) map[string]any {
	if err == nil {
		return nil
	}
	details := map[string]any{"error": err.Error()}
	var upstreamErr *openai.RequestError
	if errors.As(err, &upstreamErr) && upstreamErr.StatusCode != 0 {
		details["upstream_status"] = upstreamErr.StatusCode
		if upstreamErr.Body != "" {
			details["upstream_body"] = upstreamErr.Body
		}
	}
	var providerErr *openai.ProviderError
	if errors.As(err, &providerErr) && providerErr.Code != "" {
		details["provider_code"] = providerErr.Code
	}
	return details
}
