package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsHandlerExposesRecordedSeries(t *testing.T) {
	m := NewMetrics()
	m.ObserveHTTP("/suggest", http.MethodPost, http.StatusOK, 10*time.Millisecond)
	m.ObserveUpstream("responses", http.StatusOK, 200*time.Millisecond)
	m.IncSuggestionOutcome(OutcomeSuggested, "what is it called")
	m.IncSuggestionOutcome(OutcomeSuggested, "what is it called")
	m.IncSuggestionOutcome(OutcomeProviderError, "um")
	m.IncSuggestionOutcome(OutcomeNotDetected, "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	body, _ := io.ReadAll(w.Body)
	for _, want := range []string{
		`wordfinder_http_requests_total{method="POST",route="/suggest",status="200"} 1`,
		`wordfinder_upstream_requests_total{endpoint="responses",status="200"} 1`,
		`wordfinder_suggestions_total{outcome="suggested",trigger="what is it called"} 2`,
		`wordfinder_suggestions_total{outcome="provider_error",trigger="um"} 1`,
		`wordfinder_suggestions_total{outcome="not_detected",trigger="none"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, body)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveHTTP("", "", 200, time.Second)
	m.ObserveUpstream("", 0, time.Second)
	m.IncSuggestionOutcome(OutcomeSuggested, "um")
}
