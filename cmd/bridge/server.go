package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"github.com/thenexusengine/tne_adbridge/internal/channel"
	"github.com/thenexusengine/tne_adbridge/internal/config"
	"github.com/thenexusengine/tne_adbridge/internal/controller"
	"github.com/thenexusengine/tne_adbridge/internal/endpoints"
	"github.com/thenexusengine/tne_adbridge/internal/events"
	"github.com/thenexusengine/tne_adbridge/internal/looper"
	"github.com/thenexusengine/tne_adbridge/internal/metrics"
	"github.com/thenexusengine/tne_adbridge/internal/middleware"
	"github.com/thenexusengine/tne_adbridge/internal/plugin"
	"github.com/thenexusengine/tne_adbridge/internal/sdk"
	"github.com/thenexusengine/tne_adbridge/internal/sdk/demo"
	"github.com/thenexusengine/tne_adbridge/internal/sdk/ortb"
	"github.com/thenexusengine/tne_adbridge/internal/storage"
	"github.com/thenexusengine/tne_adbridge/internal/views"
	"github.com/thenexusengine/tne_adbridge/pkg/breaker"
	"github.com/thenexusengine/tne_adbridge/pkg/logger"
	"github.com/thenexusengine/tne_adbridge/pkg/redis"
)

// Server represents the bridge server
type Server struct {
	config     *ServerConfig
	httpServer *http.Server
	metrics    *metrics.Metrics

	db          *sql.DB
	adUnits     *storage.AdUnitStore
	redisClient *redis.Client

	loop      *looper.Looper
	messenger *channel.Messenger
	hub       *events.Hub
	publisher *events.RedisPublisher
	mobileAds *sdk.MobileAds
	tracker   *ortb.Tracker
	loader    *ortb.Loader
	plugin    *plugin.Plugin
	cancel    context.CancelFunc

	rateLimiter *middleware.RateLimiter
}

// NewServer creates a new bridge server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	return newServer(cfg, metrics.NewMetrics("adbridge"))
}

func newServer(cfg *ServerConfig, m *metrics.Metrics) (*Server, error) {
	s := &Server{
		config:  cfg,
		metrics: m,
	}

	if err := s.initialize(); err != nil {
		s.release()
		return nil, err
	}

	return s, nil
}

// initialize sets up all server components
func (s *Server) initialize() error {
	log := logger.Log

	log.Info().
		Str("port", s.config.Port).
		Str("exchange_url", s.config.ExchangeURL).
		Bool("demo_ads", s.config.DemoAds).
		Dur("exchange_timeout", s.config.ExchangeTimeout).
		Msg("Initializing ad bridge")

	// Initialize database if configured
	if err := s.initDatabase(); err != nil {
		// Database failures are non-fatal, log and continue
		log.Warn().Err(err).Msg("Database initialization failed, continuing without the ad unit catalogue")
	}

	// Initialize Redis if configured
	if err := s.initRedis(); err != nil {
		// Redis failures are non-fatal, log and continue
		log.Warn().Err(err).Msg("Redis initialization failed, continuing with reduced functionality")
	}

	if err := s.initBridge(); err != nil {
		return err
	}

	s.rateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimitConfig(), s.metrics)

	s.initHandlers()

	return nil
}

// initDatabase opens the ad unit catalogue
func (s *Server) initDatabase() error {
	log := logger.Log

	if s.config.DatabaseConfig == nil {
		log.Info().Msg("DB_HOST not set, ad unit catalogue disabled")
		return nil
	}

	dbCfg := s.config.DatabaseConfig
	db, err := storage.NewDBConnection(
		dbCfg.Host,
		dbCfg.Port,
		dbCfg.User,
		dbCfg.Password,
		dbCfg.Name,
		dbCfg.SSLMode,
	)
	if err != nil {
		return err
	}
	s.db = db
	s.adUnits = storage.NewAdUnitStore(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	units, err := s.adUnits.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load ad units from database")
	} else {
		log.Info().Int("count", len(units)).Msg("Ad units loaded from PostgreSQL")
	}
	return nil
}

// initRedis initializes Redis client
func (s *Server) initRedis() error {
	log := logger.Log

	if s.config.RedisURL == "" {
		log.Info().Msg("REDIS_URL not set, configuration persistence and event fan-out disabled")
		return nil
	}

	var err error
	s.redisClient, err = redis.New(s.config.RedisURL)
	if err != nil {
		return err
	}

	log.Info().Msg("Redis client initialized")
	return nil
}

// initBridge builds the owner loop, the SDK state, the ad loader and the
// plugin channel
func (s *Server) initBridge() error {
	log := logger.Log

	s.loop = looper.New(config.LooperQueueSize)
	s.hub = events.NewHub(config.EventSubscriberBuffer, s.metrics)

	sinks := channel.MultiSink{s.hub}
	opts := sdk.Options{
		DeviceID:        s.config.DeviceID,
		PlatformVersion: s.config.PlatformVersion,
	}
	if s.redisClient != nil {
		s.publisher = events.NewRedisPublisher(s.redisClient, config.EventChannelPrefix, 0, s.metrics)
		sinks = append(sinks, s.publisher)
		opts.Store = sdk.NewRedisConfigStore(s.redisClient, config.RequestConfigKey)
	}
	s.mobileAds = sdk.NewMobileAds(opts)

	endpoint := s.config.ExchangeURL
	var httpClient *http.Client
	if s.config.DemoAds {
		demoOpts := demo.DefaultOptions()
		demoOpts.Video = s.config.DemoVideo
		endpoint = demo.Endpoint
		httpClient = demo.NewClient(demoOpts)
		log.Warn().Msg("Serving mock ads from the demo exchange")
	}
	s.tracker = ortb.NewTracker(httpClient, config.TrackerBufferSize)

	bcfg := breaker.DefaultConfig()
	bcfg.OnStateChange = func(from, to breaker.State) {
		logger.Exchange().Warn().Str("from", string(from)).Str("to", string(to)).Msg("Exchange circuit breaker state changed")
		s.metrics.SetExchangeCircuitState(to)
	}

	lcfg := ortb.Config{
		Endpoint:    endpoint,
		Timeout:     s.config.ExchangeTimeout,
		AppBundle:   s.config.AppBundle,
		AppName:     s.config.AppName,
		PublisherID: s.config.PublisherID,
		OS:          s.config.OS,
		OSVersion:   s.config.OSVersion,
		DeviceID:    s.config.DeviceID,
		HTTPClient:  httpClient,
		Breaker:     bcfg,
		Tracker:     s.tracker,
	}
	if s.adUnits != nil {
		lcfg.Placements = s.adUnits
	}
	loader, err := ortb.NewLoader(lcfg)
	if err != nil {
		return err
	}
	s.loader = loader

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.messenger = channel.NewMessenger(s.loop, sinks)
	s.plugin = plugin.New(s.loop, controller.Deps{
		Messenger: s.messenger,
		SDK:       s.mobileAds,
		Loader:    s.loader,
		Views:     views.NewHost(0),
		Observer:  s.metrics,
		Context:   ctx,
	})

	log.Info().
		Str("device_id", s.config.DeviceID).
		Int("platform_version", s.config.PlatformVersion).
		Int("methods", len(s.plugin.Methods())).
		Msg("Plugin channel registered")
	return nil
}

// initHandlers initializes HTTP handlers and builds the handler chain
func (s *Server) initHandlers() {
	channels := endpoints.NewChannelHandler(s.messenger, s.hub, s.config.CallTimeout, s.metrics)

	var adUnitStore endpoints.AdUnitStore
	if s.adUnits != nil {
		adUnitStore = s.adUnits
	}
	adUnits := endpoints.NewAdUnitAdminHandler(adUnitStore)

	router := httprouter.New()
	router.POST("/channels/:channel/:method", channels.Call)
	router.GET("/channels/:channel/events", channels.Events)
	router.GET("/events", channels.Events)

	router.Handler(http.MethodGet, "/health", healthHandler())
	router.Handler(http.MethodGet, "/health/ready", s.readyHandler())
	router.Handler(http.MethodGet, "/metrics", s.metrics.Handler())

	// Admin endpoints
	router.GET("/admin/controllers", endpoints.NewControllersEndpoint(s.plugin))
	router.GET("/admin/exchange", s.exchangeHandler)
	router.GET("/admin/adunits", adUnits.List)
	router.POST("/admin/adunits", adUnits.Create)
	router.GET("/admin/adunits/:unitId", adUnits.Get)
	router.DELETE("/admin/adunits/:unitId", adUnits.Delete)

	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.buildHandler(router),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}
}

// buildHandler builds the middleware chain
func (s *Server) buildHandler(router http.Handler) http.Handler {
	log := logger.Log

	var keys middleware.RedisClient
	authConfig := middleware.DefaultAuthConfig()
	if s.redisClient != nil && authConfig.UseRedis {
		keys = s.redisClient
	}
	auth := middleware.NewAuth(authConfig, keys, s.metrics)
	sizeLimiter := middleware.NewSizeLimiter(middleware.DefaultSizeLimitConfig())

	log.Info().
		Bool("auth_enabled", auth.IsEnabled()).
		Bool("auth_redis", keys != nil).
		Msg("Middleware chain built")

	// Build chain: Logging -> Size Limit -> Auth -> Rate Limit -> Metrics -> Router
	handler := router
	handler = s.metrics.Middleware(routeLabel)(handler)
	handler = s.rateLimiter.Middleware(handler)
	handler = auth.Middleware(handler)
	handler = sizeLimiter.Middleware(handler)
	handler = loggingMiddleware(handler)

	return handler
}

// routeLabel maps a request path to its route pattern so channel names and
// unit IDs stay out of metric labels
func routeLabel(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/channels/"):
		if strings.HasSuffix(path, "/events") {
			return "/channels/:channel/events"
		}
		return "/channels/:channel/:method"
	case strings.HasPrefix(path, "/admin/adunits/"):
		return "/admin/adunits/:unitId"
	}
	switch path {
	case "/events", "/health", "/health/ready", "/metrics",
		"/admin/controllers", "/admin/exchange", "/admin/adunits":
		return path
	}
	return "other"
}

// exchangeHandler returns exchange breaker and tracker stats
func (s *Server) exchangeHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"endpoint": s.config.ExchangeURL,
		"demo":     s.config.DemoAds,
		"breaker":  s.loader.BreakerStats(),
		"tracker":  s.loader.TrackerStats(),
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log := logger.Log
	log.Info().Str("addr", s.httpServer.Addr).Msg("Server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown performs graceful shutdown
func (s *Server) Shutdown(ctx context.Context) error {
	log := logger.Log
	log.Info().Msg("Starting graceful shutdown")

	// End event streams first; Shutdown waits for open requests
	s.hub.Close()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	if err := s.plugin.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("Failed to dispose controllers")
	}
	s.release()

	log.Info().Msg("Server stopped gracefully")
	return nil
}

// release stops background work and closes connections. Each step skips
// components that were never created.
func (s *Server) release() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.loop != nil {
		s.loop.Stop()
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.loader != nil {
		s.loader.Close()
	}
	if s.tracker != nil {
		s.tracker.Close()
	}
	if s.mobileAds != nil {
		s.mobileAds.Close()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			logger.Log.Warn().Err(err).Msg("Error closing Redis client")
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			logger.Log.Warn().Err(err).Msg("Error closing database")
		}
	}
}

// statusWriter records the status a handler wrote
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working behind the logger
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// loggingMiddleware tags the request context with an X-Request-ID (reusing
// the caller's) and logs one line per request once the handler returns
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = generateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logger.WithRequestID(r.Context(), id)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r.WithContext(ctx))

		logger.FromContext(ctx).WithLevel(levelFor(sw.status)).
			Str("method", r.Method).
			Str("route", routeLabel(r)).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration_ms", time.Since(start)).
			Str("client_id", r.Header.Get(middleware.ClientIDHeader)).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}

func levelFor(status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	}
	return zerolog.InfoLevel
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to encode response")
	}
}

// healthHandler answers liveness probes without touching the owner loop
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"service":   logger.ServiceName,
			"channel":   config.PluginChannel,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
}

type check func(ctx context.Context) error

func (s *Server) checks() map[string]check {
	checks := map[string]check{
		"loop": s.checkLoop,
	}
	if s.redisClient != nil {
		checks["redis"] = s.redisClient.Ping
	}
	if s.db != nil {
		checks["database"] = s.db.PingContext
	}
	return checks
}

// checkLoop round-trips through the owner loop
func (s *Server) checkLoop(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.plugin.Counts()
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.New("owner loop is not responding")
	}
}

// readyHandler runs every check under one deadline. Redis and the database
// report "disabled" when not configured; any failing check answers 503.
func (s *Server) readyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		results := map[string]map[string]string{
			"redis":    {"status": "disabled"},
			"database": {"status": "disabled"},
		}
		ready := true
		for name, c := range s.checks() {
			if err := c(ctx); err != nil {
				results[name] = map[string]string{"status": "unhealthy", "error": err.Error()}
				ready = false
			} else {
				results[name] = map[string]string{"status": "healthy"}
			}
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{
			"ready":     ready,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    results,
		})
	})
}

// generateRequestID returns a random UUID
func generateRequestID() string {
	return uuid.NewString()
}
