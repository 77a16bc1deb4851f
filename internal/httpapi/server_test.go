package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"wordfinder/internal/config"
	"wordfinder/internal/model"
	"wordfinder/internal/pipeline"
	"wordfinder/internal/suggest"
	"wordfinder/internal/trigger"
	"wordfinder/internal/upstream/openai"
)

type stubPipeline struct {
	result     pipeline.Result
	err        error
	calls      int
	transcript string
	requestKey string
}

func (s *stubPipeline) Process(ctx context.Context, transcript string) (pipeline.Result, error) {
	s.calls++
	s.transcript = transcript
	s.requestKey = openai.RequestAPIKeyFromContext(ctx)
	return s.result, s.err
}

type stubUpstream struct {
	err   error
	calls int
}

func (s *stubUpstream) CheckModels(context.Context) error {
	s.calls++
	return s.err
}

type stubMetrics struct {
	outcomes []string
	triggers []string
	routes   []string
}

func (m *stubMetrics) ObserveHTTP(route, _ string, _ int, _ time.Duration) {
	m.routes = append(m.routes, route)
}

func (m *stubMetrics) IncSuggestionOutcome(outcome, trigger string) {
	m.outcomes = append(m.outcomes, outcome)
	m.triggers = append(m.triggers, trigger)
}

type stubSuggester struct {
	result suggest.Result
	err    error
	calls  int
}

func (s *stubSuggester) Suggest(context.Context, string) (suggest.Result, error) {
	s.calls++
	return s.result, s.err
}

func testConfig() config.Config {
	return config.Config{
		UpstreamAPIKey:     "x",
		UpstreamBaseURL:    "http://example.com",
		CORSAllowedOrigins: []string{"*"},
	}
}

func newTestHandler(t *testing.T, cfg config.Config, deps Dependencies) http.Handler {
	t.Helper()
	if deps.Upstream == nil {
		deps.Upstream = &stubUpstream{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(cfg, logger, deps)
}

func postSuggest(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/suggest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, testConfig(), Dependencies{Pipeline: &stubPipeline{}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestSuggestTriggeredReturnsSuggestions(t *testing.T) {
	sg := &stubSuggester{result: suggest.Result{
		Suggestions: []string{"Hammer", "Mallet", "Gavel"},
		RawText:     "Hammer Mallet Gavel",
	}}
	metrics := &stubMetrics{}
	h := newTestHandler(t, testConfig(), Dependencies{
		Pipeline: pipeline.New(trigger.New(trigger.DefaultPhrases), sg),
		Metrics:  metrics,
	})

	w := postSuggest(t, h, `{"transcript":"what is it called, that thing you use to hammer nails"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	resp := decodeBody[model.SuggestionResponse](t, w)
	if !resp.ContextDetected {
		t.Fatal("expected context_detected")
	}
	if diff := cmp.Diff([]string{"Hammer", "Mallet", "Gavel"}, resp.Suggestions); diff != "" {
		t.Fatalf("unexpected suggestions (-want +got):\n%s", diff)
	}
	if sg.calls != 1 {
		t.Fatalf("expected one suggester call, got %d", sg.calls)
	}
	if diff := cmp.Diff([]string{"suggested"}, metrics.outcomes); diff != "" {
		t.Fatalf("unexpected outcomes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"what is it called"}, metrics.triggers); diff != "" {
		t.Fatalf("unexpected triggers (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/suggest"}, metrics.routes); diff != "" {
		t.Fatalf("unexpected routes (-want +got):\n%s", diff)
	}
}

func TestSuggestNotTriggeredReturnsEmptyList(t *testing.T) {
	sg := &stubSuggester{}
	h := newTestHandler(t, testConfig(), Dependencies{
		Pipeline: pipeline.New(trigger.New(trigger.DefaultPhrases), sg),
	})

	w := postSuggest(t, h, `{"transcript":"the weather is nice today"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"suggestions":[]`) || !strings.Contains(w.Body.String(), `"context_detected":false`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if sg.calls != 0 {
		t.Fatalf("expected suggester not to be called, got %d", sg.calls)
	}
}

func TestSuggestVersionedRoute(t *testing.T) {
	p := &stubPipeline{result: pipeline.Result{Suggestions: []string{}}}
	h := newTestHandler(t, testConfig(), Dependencies{Pipeline: p})

	req := httptest.NewRequest(http.MethodPost, "/v1/suggest", strings.NewReader(`{"transcript":""}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if p.calls != 1 || p.transcript != "" {
		t.Fatalf("unexpected pipeline call: calls=%d transcript=%q", p.calls, p.transcript)
	}
}

func TestSuggestErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
		wantOut    string
	}{
		{
			name:       "provider error",
			err:        &openai.ProviderError{Message: "rate limited"},
			wantStatus: http.StatusBadGateway,
			wantCode:   "provider_error",
			wantMsg:    "rate limited",
			wantOut:    "provider_error",
		},
		{
			name:       "no output text",
			err:        &openai.ProviderError{Message: "no output text found"},
			wantStatus: http.StatusBadGateway,
			wantCode:   "provider_error",
			wantMsg:    "no output text found",
			wantOut:    "provider_error",
		},
		{
			name:       "missing credential",
			err:        openai.ErrMissingCredential,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "missing_credentials",
			wantMsg:    "upstream API key is not configured",
			wantOut:    "missing_credential",
		},
		{
			name:       "upstream status",
			err:        &openai.RequestError{Endpoint: "responses", StatusCode: 500, Body: "boom"},
			wantStatus: http.StatusBadGateway,
			wantCode:   "upstream_request_failed",
			wantMsg:    "upstream request failed",
			wantOut:    "request_error",
		},
		{
			name:       "timeout",
			err:        &openai.RequestError{Endpoint: "responses", Err: context.DeadlineExceeded},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "timeout",
			wantMsg:    "upstream request timed out",
			wantOut:    "request_error",
		},
		{
			name:       "canceled",
			err:        &openai.RequestError{Endpoint: "responses", Err: context.Canceled},
			wantStatus: statusCanceled,
			wantCode:   "canceled",
			wantMsg:    "request canceled",
			wantOut:    "request_error",
		},
		{
			name:       "unknown",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
			wantMsg:    "request failed",
			wantOut:    "request_error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := &stubMetrics{}
			h := newTestHandler(t, testConfig(), Dependencies{
				Pipeline: pipeline.New(trigger.New(trigger.DefaultPhrases), &stubSuggester{err: tc.err}),
				Metrics:  metrics,
			})

			w := postSuggest(t, h, `{"transcript":"um, the thing"}`)
			if w.Code != tc.wantStatus {
				t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
			}
			resp := decodeBody[model.SuggestionErrorResponse](t, w)
			if resp.Error.Code != tc.wantCode || resp.Error.Message != tc.wantMsg {
				t.Fatalf("unexpected error: %+v", resp.Error)
			}
			if !resp.ContextDetected {
				t.Fatal("expected context_detected on failed fetch")
			}
			if resp.Suggestions == nil || len(resp.Suggestions) != 0 {
				t.Fatalf("expected empty suggestions, got %#v", resp.Suggestions)
			}
			if resp.RequestID == "" {
				t.Fatal("expected request id in error body")
			}
			if diff := cmp.Diff([]string{tc.wantOut}, metrics.outcomes); diff != "" {
				t.Fatalf("unexpected outcomes (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSuggestUpstreamErrorDetails(t *testing.T) {
	h := newTestHandler(t, testConfig(), Dependencies{
		Pipeline: &stubPipeline{
			result: pipeline.Result{ContextDetected: true},
			err:    &openai.RequestError{Endpoint: "responses", StatusCode: 503, Body: "overloaded"},
		},
	})

	w := postSuggest(t, h, `{"transcript":"um"}`)
	resp := decodeBody[model.SuggestionErrorResponse](t, w)
	if resp.Error.Details["upstream_status"] != float64(503) || resp.Error.Details["upstream_body"] != "overloaded" {
		t.Fatalf("unexpected details: %+v", resp.Error.Details)
	}
}

func TestSuggestRejectsInvalidBodies(t *testing.T) {
	cases := map[string]string{
		"malformed":     `{"transcript":`,
		"missing field": `{}`,
		"null":          `{"transcript":null}`,
		"two values":    `{"transcript":"um"}{"transcript":"uh"}`,
		"wrong type":    `{"transcript":42}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := &stubPipeline{}
			h := newTestHandler(t, testConfig(), Dependencies{Pipeline: p})

			w := postSuggest(t, h, body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
			}
			if p.calls != 0 {
				t.Fatal("pipeline should not be called for invalid input")
			}
		})
	}
}

func TestSuggestIgnoresExtraFields(t *testing.T) {
	sg := &stubSuggester{}
	h := newTestHandler(t, testConfig(), Dependencies{
		Pipeline: pipeline.New(trigger.New(trigger.DefaultPhrases), sg),
	})

	w := postSuggest(t, h, `{"transcript":"the weather is nice today","client":"web"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"suggestions":[]`) || !strings.Contains(w.Body.String(), `"context_detected":false`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestSuggestRejectsOversizedBody(t *testing.T) {
	h := newTestHandler(t, testConfig(), Dependencies{Pipeline: &stubPipeline{}})

	body := `{"transcript":"` + strings.Repeat("a", maxJSONBodyBytes) + `"}`
	w := postSuggest(t, h, body)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

func TestBearerTokenForwardedAsRequestAPIKey(t *testing.T) {
	p := &stubPipeline{}
	h := newTestHandler(t, config.Config{CORSAllowedOrigins: []string{"*"}}, Dependencies{Pipeline: p})

	req := httptest.NewRequest(http.MethodPost, "/suggest", strings.NewReader(`{"transcript":"um"}`))
	req.Header.Set("Authorization", "Bearer sk-caller")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if p.requestKey != "sk-caller" {
		t.Fatalf("unexpected forwarded key: %q", p.requestKey)
	}
}

func TestBearerSchemeIsCaseInsensitive(t *testing.T) {
	for _, header := range []string{"bearer sk-caller", "BEARER sk-caller"} {
		t.Run(header, func(t *testing.T) {
			p := &stubPipeline{}
			h := newTestHandler(t, testConfig(), Dependencies{Pipeline: p})

			req := httptest.NewRequest(http.MethodPost, "/suggest", strings.NewReader(`{"transcript":"um"}`))
			req.Header.Set("Authorization", header)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
			}
			if p.requestKey != "sk-caller" {
				t.Fatalf("unexpected forwarded key: %q", p.requestKey)
			}
		})
	}
}

func TestMalformedAuthorizationHeaderRejected(t *testing.T) {
	p := &stubPipeline{}
	h := newTestHandler(t, testConfig(), Dependencies{Pipeline: p})

	req := httptest.NewRequest(http.MethodPost, "/suggest", strings.NewReader(`{"transcript":"um"}`))
	req.Header.Set("Authorization", "Basic abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if p.calls != 0 {
		t.Fatal("pipeline should not be called")
	}
}

func TestCORSPreflightIsPermissive(t *testing.T) {
	h := newTestHandler(t, testConfig(), Dependencies{Pipeline: &stubPipeline{}})

	req := httptest.NewRequest(http.MethodOptions, "/suggest", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-Custom")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code >= 300 {
		t.Fatalf("unexpected preflight status: %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected Access-Control-Allow-Origin, got headers %v", w.Header())
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost) {
		t.Fatalf("expected POST to be allowed, got %q", w.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestCORSHeadersOnActualRequest(t *testing.T) {
	h := newTestHandler(t, testConfig(), Dependencies{Pipeline: &stubPipeline{}})

	req := httptest.NewRequest(http.MethodPost, "/suggest", strings.NewReader(`{"transcript":"hi"}`))
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected Access-Control-Allow-Origin, got headers %v", w.Header())
	}
}

func TestReadyzSkipsUpstreamCheckWithoutAnyKey(t *testing.T) {
	up := &stubUpstream{err: io.EOF}
	h := newTestHandler(t, config.Config{}, Dependencies{Pipeline: &stubPipeline{}, Upstream: up})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if up.calls != 0 {
		t.Fatalf("expected no upstream check, got %d", up.calls)
	}
}

func TestReadyzReportsUpstreamFailure(t *testing.T) {
	up := &stubUpstream{err: &openai.RequestError{Endpoint: "models", StatusCode: 401}}
	h := newTestHandler(t, testConfig(), Dependencies{Pipeline: &stubPipeline{}, Upstream: up})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"upstream_status":401`) {
		t.Fatalf("expected upstream status in body: %s", w.Body.String())
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := newTestHandler(t, testConfig(), Dependencies{Pipeline: &stubPipeline{}})

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if w.Header().Get(requestIDHeader) != "abc-123" {
		t.Fatalf("unexpected request id header: %q", w.Header().Get(requestIDHeader))
	}
	if !strings.Contains(w.Body.String(), `"request_id":"abc-123"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestPanicIsRecovered(t *testing.T) {
	h := newTestHandler(t, testConfig(), Dependencies{Pipeline: panicPipeline{}})

	w := postSuggest(t, h, `{"transcript":"um"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

type panicPipeline struct{}

func (panicPipeline) Process(context.Context, string) (pipeline.Result, error) {
	panic("boom")
}
