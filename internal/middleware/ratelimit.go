package middleware

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig holds rate limiting configuration. Only requests whose
// method is in Methods are limited; event streams and reads pass through.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond int           // Refill rate per client
	BurstSize         int           // Bucket capacity
	Methods           []string      // Limited HTTP methods
	IdleTTL           time.Duration // Buckets idle this long are forgotten
	TrustedProxies    []*net.IPNet  // X-Forwarded-For is read only from these
}

// DefaultRateLimitConfig reads RATE_LIMIT_* and TRUSTED_PROXIES
func DefaultRateLimitConfig() *RateLimitConfig {
	rps := envInt("RATE_LIMIT_RPS", 200)
	return &RateLimitConfig{
		Enabled:           os.Getenv("RATE_LIMIT_ENABLED") != "false",
		RequestsPerSecond: rps,
		BurstSize:         envInt("RATE_LIMIT_BURST", rps*2),
		Methods:           []string{http.MethodPost, http.MethodDelete},
		IdleTTL:           time.Minute,
		TrustedProxies:    parseTrustedProxies(os.Getenv("TRUSTED_PROXIES")),
	}
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// parseTrustedProxies reads a comma separated list of CIDRs or bare IPs,
// e.g. "10.0.0.0/8,127.0.0.1"
func parseTrustedProxies(list string) []*net.IPNet {
	var out []*net.IPNet
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			if strings.Contains(entry, ":") {
				entry += "/128"
			} else {
				entry += "/32"
			}
		}
		if _, network, err := net.ParseCIDR(entry); err == nil {
			out = append(out, network)
		}
	}
	return out
}

// RateLimitMetrics defines the metrics interface for rate limiter
type RateLimitMetrics interface {
	IncRateLimitRejected()
}

// bucket is one client's token bucket
type bucket struct {
	tokens float64
	seen   time.Time
}

func (b *bucket) take(now time.Time, rate, capacity float64) bool {
	b.tokens += now.Sub(b.seen).Seconds() * rate
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.seen = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimiter limits method calls per client with a token bucket. The
// client is the authenticated client ID when auth ran, else the peer IP.
type RateLimiter struct {
	config  *RateLimitConfig
	metrics RateLimitMetrics
	limited map[string]bool

	mu      sync.Mutex
	buckets map[string]*bucket

	done chan struct{}
	stop sync.Once
}

// NewRateLimiter creates a new rate limiter. metrics may be nil.
func NewRateLimiter(config *RateLimitConfig, metrics RateLimitMetrics) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	methods := config.Methods
	if len(methods) == 0 {
		methods = []string{http.MethodPost}
	}

	rl := &RateLimiter{
		config:  config,
		metrics: metrics,
		limited: make(map[string]bool, len(methods)),
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	for _, m := range methods {
		rl.limited[m] = true
	}
	if config.IdleTTL > 0 {
		go rl.evictIdle()
	}
	return rl
}

func (rl *RateLimiter) evictIdle() {
	ticker := time.NewTicker(rl.config.IdleTTL)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			rl.mu.Lock()
			for key, b := range rl.buckets {
				if now.Sub(b.seen) > rl.config.IdleTTL {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

// Stop ends idle bucket eviction. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stop.Do(func() { close(rl.done) })
}

// Middleware returns the rate limiting middleware handler
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled || !rl.limited[r.Method] {
			next.ServeHTTP(w, r)
			return
		}

		limit := strconv.Itoa(rl.config.RequestsPerSecond)
		w.Header().Set("X-RateLimit-Limit", limit)

		if !rl.allow(rl.clientKey(r), time.Now()) {
			if rl.metrics != nil {
				rl.metrics.IncRateLimitRejected()
			}
			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limited","message":"too many method calls"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(key string, now time.Time) bool {
	capacity := float64(rl.config.BurstSize)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, seen: now}
		rl.buckets[key] = b
	}
	return b.take(now, float64(rl.config.RequestsPerSecond), capacity)
}

func (rl *RateLimiter) clientKey(r *http.Request) string {
	if id := r.Header.Get(ClientIDHeader); id != "" {
		return "client:" + id
	}
	return "ip:" + rl.peerIP(r)
}

// peerIP returns the remote address, or the rightmost untrusted
// X-Forwarded-For hop when the request came through a trusted proxy
func (rl *RateLimiter) peerIP(r *http.Request) string {
	remote := hostOnly(r.RemoteAddr)
	if !rl.trusted(remote) {
		return remote
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !rl.trusted(hop) {
			return hop
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	return remote
}

func (rl *RateLimiter) trusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range rl.config.TrustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// hostOnly strips the port from addr when there is one
func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
