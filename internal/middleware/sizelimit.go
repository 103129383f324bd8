package middleware

import (
	"net/http"

	"github.com/thenexusengine/tne_adbridge/internal/config"
)

// SizeLimitConfig bounds the method call URL and its JSON arguments
type SizeLimitConfig struct {
	Enabled      bool
	MaxBodySize  int64
	MaxURLLength int
}

// DefaultSizeLimitConfig reads MAX_REQUEST_SIZE and MAX_URL_LENGTH
func DefaultSizeLimitConfig() *SizeLimitConfig {
	return &SizeLimitConfig{
		Enabled:      true,
		MaxBodySize:  int64(envInt("MAX_REQUEST_SIZE", config.MaxArgumentsSize)),
		MaxURLLength: envInt("MAX_URL_LENGTH", 2048),
	}
}

// SizeLimiter rejects oversized method calls before they are decoded
type SizeLimiter struct {
	maxBody int64
	maxURL  int
	enabled bool
}

// NewSizeLimiter creates a new size limiter
func NewSizeLimiter(cfg *SizeLimitConfig) *SizeLimiter {
	if cfg == nil {
		cfg = DefaultSizeLimitConfig()
	}
	return &SizeLimiter{maxBody: cfg.MaxBodySize, maxURL: cfg.MaxURLLength, enabled: cfg.Enabled}
}

// Middleware returns the size limiting middleware handler. Bodies without a
// declared length fail while the handler reads them.
func (sl *SizeLimiter) Middleware(next http.Handler) http.Handler {
	if !sl.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case len(r.URL.RequestURI()) > sl.maxURL:
			http.Error(w, `{"error":"URL too long"}`, http.StatusRequestURITooLong)
		case r.ContentLength > sl.maxBody:
			http.Error(w, `{"error":"arguments too large"}`, http.StatusRequestEntityTooLarge)
		default:
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, sl.maxBody)
			}
			next.ServeHTTP(w, r)
		}
	})
}
