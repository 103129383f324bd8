package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thenexusengine/tne_adbridge/internal/looper"
	"github.com/thenexusengine/tne_adbridge/internal/metrics"
	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

func init() {
	// Initialize logger for tests
	logger.Init(logger.Config{
		Level:      "error", // Only show errors in tests
		Format:     "json",
		TimeFormat: time.RFC3339,
	})
}

func testConfig() *ServerConfig {
	return &ServerConfig{
		Port:            "0",
		CallTimeout:     5 * time.Second,
		ExchangeTimeout: time.Second,
		DemoAds:         true,
		AppBundle:       "com.example.test",
		DeviceID:        "device-1",
		PlatformVersion: 34,
		OS:              "android",
		OSVersion:       "14",
	}
}

// newTestServer builds a server on a private metrics registry
func newTestServer(t *testing.T, cfg *ServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	s, err := newServer(cfg, metrics.NewRegistryMetrics("test"))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s, ts
}

func call(t *testing.T, ts *httptest.Server, path string, args map[string]interface{}) (int, map[string]interface{}) {
	t.Helper()
	var body bytes.Buffer
	if args != nil {
		if err := json.NewEncoder(&body).Encode(args); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	resp, err := http.Post(ts.URL+path, "application/json", &body)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp.StatusCode, out
}

func getJSON(t *testing.T, ts *httptest.Server, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp.StatusCode, out
}

func TestNewServer_MinimalConfig(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	if s.httpServer == nil {
		t.Error("Expected HTTP server to be initialized")
	}
	if s.plugin == nil || s.loader == nil {
		t.Error("Expected plugin and loader to be initialized")
	}
	if s.redisClient != nil || s.publisher != nil {
		t.Error("Expected Redis features to be disabled without REDIS_URL")
	}
	if s.adUnits != nil {
		t.Error("Expected no ad unit store without DB_HOST")
	}
}

func TestServer_ChannelRoundTrip(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	status, resp := call(t, ts, "/channels/admob/initialize", nil)
	if status != http.StatusOK || resp["result"] != float64(34) {
		t.Fatalf("initialize: %d %+v", status, resp)
	}

	status, _ = call(t, ts, "/channels/admob/initNativeAdController", map[string]interface{}{"id": "feed"})
	if status != http.StatusOK {
		t.Fatalf("initNativeAdController: %d", status)
	}

	// a load resolves with success whether or not the demo exchange fills
	status, resp = call(t, ts, "/channels/feed/load", map[string]interface{}{"unitId": "unit-1"})
	if status != http.StatusOK {
		t.Fatalf("load: %d %+v", status, resp)
	}

	status, resp = getJSON(t, ts, "/admin/controllers")
	if status != http.StatusOK || resp["count"] != float64(1) {
		t.Errorf("controllers: %d %+v", status, resp)
	}

	status, _ = call(t, ts, "/channels/admob/disposeNativeAdController", map[string]interface{}{"id": "feed"})
	if status != http.StatusOK {
		t.Errorf("dispose: %d", status)
	}
	status, resp = call(t, ts, "/channels/feed/load", nil)
	if status != http.StatusNotFound {
		t.Errorf("expected not_found after dispose, got %d %+v", status, resp)
	}
}

func TestServer_UnknownMethod(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	status, resp := call(t, ts, "/channels/admob/openAdInspector", nil)
	if status != http.StatusNotImplemented || resp["status"] != "not_implemented" {
		t.Errorf("expected not_implemented, got %d %+v", status, resp)
	}
}

func TestServer_ExchangeHandler(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	status, resp := getJSON(t, ts, "/admin/exchange")
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if resp["demo"] != true {
		t.Errorf("Expected demo=true, got %v", resp["demo"])
	}
	b, ok := resp["breaker"].(map[string]interface{})
	if !ok || b["state"] != "closed" {
		t.Errorf("Expected closed breaker, got %v", resp["breaker"])
	}
	if _, ok := resp["tracker"]; !ok {
		t.Error("Expected 'tracker' field in response")
	}
}

func TestServer_AdUnitsWithoutDatabase(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/admin/adunits")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

func TestServer_HealthHandler(t *testing.T) {
	handler := healthHandler()

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%v'", response["status"])
	}

	if _, ok := response["timestamp"]; !ok {
		t.Error("Expected 'timestamp' field in response")
	}
	if response["channel"] != "admob" {
		t.Errorf("Expected channel 'admob', got %v", response["channel"])
	}
}

func TestLevelFor(t *testing.T) {
	tests := map[int]zerolog.Level{
		http.StatusOK:                  zerolog.InfoLevel,
		http.StatusNotFound:            zerolog.WarnLevel,
		http.StatusGatewayTimeout:      zerolog.ErrorLevel,
		http.StatusInternalServerError: zerolog.ErrorLevel,
	}
	for status, want := range tests {
		if got := levelFor(status); got != want {
			t.Errorf("levelFor(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestServer_ReadyHandler_NoRedis(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	status, response := getJSON(t, ts, "/health/ready")

	// Redis and the database are optional
	if status != http.StatusOK {
		t.Errorf("Expected status 200, got %d", status)
	}
	if response["ready"] != true {
		t.Errorf("Expected ready=true, got %v", response["ready"])
	}

	checks, ok := response["checks"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected 'checks' field to be a map")
	}
	for name, want := range map[string]string{"redis": "disabled", "database": "disabled", "loop": "healthy"} {
		c, _ := checks[name].(map[string]interface{})
		if c["status"] != want {
			t.Errorf("Expected %s status %q, got %v", name, want, c["status"])
		}
	}
}

func TestServer_WithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	s, ts := newTestServer(t, cfg)

	if s.redisClient == nil || s.publisher == nil {
		t.Fatal("Expected Redis client and event publisher")
	}

	status, _ := call(t, ts, "/channels/admob/setMaxAdContentRating", map[string]interface{}{"maxRating": 2})
	if status != http.StatusOK {
		t.Fatalf("setMaxAdContentRating: %d", status)
	}

	// persistence runs in the background
	deadline := time.Now().Add(2 * time.Second)
	for mr.HGet("adbridge:request_config", "max_ad_content_rating") == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := mr.HGet("adbridge:request_config", "max_ad_content_rating"); got != "T" {
		t.Errorf("Expected persisted rating T, got %q", got)
	}

	status, response := getJSON(t, ts, "/health/ready")
	if status != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %+v", status, response)
	}

	mr.Close()
	status, response = getJSON(t, ts, "/health/ready")
	if status != http.StatusServiceUnavailable || response["ready"] != false {
		t.Errorf("Expected unhealthy Redis to fail readiness, got %d %+v", status, response)
	}
}

func TestServer_Shutdown(t *testing.T) {
	s, err := newServer(testConfig(), metrics.NewRegistryMetrics("test"))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if err := s.loop.Sync(func() {}); err != looper.ErrStopped {
		t.Errorf("Expected stopped loop, got %v", err)
	}
	if s.hub.Subscribers() != 0 {
		t.Error("Expected no event subscribers after shutdown")
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/channels/admob/initialize", "/channels/:channel/:method"},
		{"/channels/feed-1/events", "/channels/:channel/events"},
		{"/events", "/events"},
		{"/admin/adunits", "/admin/adunits"},
		{"/admin/adunits/unit-1", "/admin/adunits/:unitId"},
		{"/health/ready", "/health/ready"},
		{"/wp-login.php", "other"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := routeLabel(httptest.NewRequest("GET", tt.path, nil)); got != tt.want {
				t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var seen string
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(logger.RequestIDKey).(string)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	requestID := rr.Header().Get("X-Request-ID")
	if _, err := uuid.Parse(requestID); err != nil {
		t.Errorf("Expected a UUID request ID, got %q", requestID)
	}
	if seen != requestID {
		t.Errorf("Expected request ID %q in context, got %q", requestID, seen)
	}
}

func TestLoggingMiddleware_WithExistingRequestID(t *testing.T) {
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "custom-request-id")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if requestID := rr.Header().Get("X-Request-ID"); requestID != "custom-request-id" {
		t.Errorf("Expected request ID 'custom-request-id', got '%s'", requestID)
	}
}

func TestGenerateRequestID(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateRequestID()
		if len(id) != 36 {
			t.Errorf("Expected ID length 36, got %d", len(id))
		}
		if ids[id] {
			t.Errorf("Duplicate ID generated: %s", id)
		}
		ids[id] = true
	}
}

func TestStatusWriter_Flush(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rr, status: http.StatusOK}

	sw.WriteHeader(http.StatusAccepted)
	sw.Flush()

	if sw.status != http.StatusAccepted {
		t.Errorf("Expected captured status 202, got %d", sw.status)
	}
	if !rr.Flushed {
		t.Error("Expected the underlying writer to be flushed")
	}
}
