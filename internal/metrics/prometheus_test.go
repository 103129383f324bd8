package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/thenexusengine/tne_adbridge/internal/sdk"
	"github.com/thenexusengine/tne_adbridge/pkg/breaker"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func assertContains(t *testing.T, body string, lines ...string) {
	t.Helper()
	for _, line := range lines {
		if !strings.Contains(body, line) {
			t.Errorf("expected metrics output to contain %q", line)
		}
	}
}

func TestControllerObserver(t *testing.T) {
	m := NewRegistryMetrics("test")

	m.ControllerCreated(sdk.FormatNative)
	m.ControllerCreated(sdk.FormatNative)
	m.ControllerDisposed(sdk.FormatNative)
	m.LoadStarted(sdk.FormatNative)
	m.LoadCompleted(sdk.FormatNative, "loaded", 120*time.Millisecond)

	assertContains(t, scrape(t, m),
		`test_controllers_created_total{format="native"} 2`,
		`test_controllers_live{format="native"} 1`,
		`test_ad_loads_total{format="native",outcome="loaded"} 1`,
		`test_ad_loads_in_flight{format="native"} 0`,
		`test_ad_load_duration_seconds_count{format="native"} 1`,
	)
}

func TestChannelAndEventMetrics(t *testing.T) {
	m := NewRegistryMetrics("test")

	m.RecordChannelCall("load", "success", 10*time.Millisecond)
	m.IncEventsEmitted("onAdChanged")
	m.IncEventsDropped("sse")
	m.IncAuthFailures()
	m.IncRateLimitRejected()
	m.SetExchangeCircuitState(breaker.StateOpen)

	assertContains(t, scrape(t, m),
		`test_channel_calls_total{code="success",method="load"} 1`,
		`test_events_emitted_total{method="onAdChanged"} 1`,
		`test_events_dropped_total{sink="sse"} 1`,
		`test_auth_failures_total 1`,
		`test_rate_limit_rejected_total 1`,
		`test_exchange_circuit_state 1`,
	)
}

func TestMiddleware(t *testing.T) {
	m := NewRegistryMetrics("test")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := m.Middleware(func(*http.Request) string { return "/channels/:channel/:method" })(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/channels/native-1/load", nil))

	assertContains(t, scrape(t, m),
		`test_http_requests_total{method="POST",path="/channels/:channel/:method",status="418"} 1`,
		`test_http_requests_in_flight 0`,
	)
}

func TestDefaultNamespace(t *testing.T) {
	m := NewRegistryMetrics("")
	m.IncAuthFailures()
	assertContains(t, scrape(t, m), "adbridge_auth_failures_total 1")
}
