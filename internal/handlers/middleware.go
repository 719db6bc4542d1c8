package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/cypherlabs/cipher-score-api/internal/config"
	"github.com/cypherlabs/cipher-score-api/internal/services"
)

// SessionAuthMiddleware validates the X-Session-Token header and sets the
// user in context.
func SessionAuthMiddleware(sessions *services.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessionToken(r)
			user, sessionID, err := sessions.Authenticate(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, services.ErrMissingToken):
					writeError(w, http.StatusUnauthorized, "No token provided")
				case errors.Is(err, services.ErrSessionExpired):
					writeError(w, http.StatusUnauthorized, "Session expired")
				case errors.Is(err, services.ErrInvalidToken):
					writeError(w, http.StatusUnauthorized, "Invalid token")
				default:
					log.Error().Err(err).Msg("Session auth failed")
					writeError(w, http.StatusInternalServerError, "Authentication failed")
				}
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			ctx = context.WithValue(ctx, SessionContextKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIKeyAuthMiddleware validates the caller's API key, enforces the tier
// quota and records the call for accounting. The key arrives either in
// X-API-Key or as an Authorization bearer token. Every authorized call gets a
// usage record whether or not the downstream computation succeeds.
func APIKeyAuthMiddleware(keys *services.ApiKeyService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := keys.Validate(r.Context(), apiKeyFrom(r))
			if err != nil {
				var quota *services.QuotaExceededError
				switch {
				case errors.As(err, &quota):
					writeJSON(w, http.StatusTooManyRequests, map[string]any{
						"error":     quota.Error(),
						"tier":      quota.Tier,
						"usage":     quota.Usage,
						"limit":     quota.Limit,
						"resetDate": quota.ResetDate,
					})
				case errors.Is(err, services.ErrMissingToken):
					writeError(w, http.StatusUnauthorized, "API key required")
				case errors.Is(err, services.ErrInvalidToken):
					writeError(w, http.StatusUnauthorized, "Invalid or inactive API key")
				default:
					log.Error().Err(err).Msg("API key validation failed")
					writeError(w, http.StatusInternalServerError, "Authentication failed")
				}
				return
			}

			keys.RecordUsage(r.Context(), identity.ApiKeyID, r.URL.Path, clientIP(r), r.UserAgent())

			ctx := context.WithValue(r.Context(), UserContextKey, &identity.User)
			ctx = context.WithValue(ctx, APIKeyContextKey, identity.ApiKeyID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuthMiddleware gates operational endpoints behind a static key. With
// no key configured the endpoints are disabled outright.
func AdminAuthMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.AdminAPIKey == "" {
				writeError(w, http.StatusForbidden, "Admin endpoints are disabled")
				return
			}
			provided := r.Header.Get("X-Admin-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.AdminAPIKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "Invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPRateLimiter throttles unauthenticated endpoints per client IP.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func NewIPRateLimiter(perSecond float64, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *IPRateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter(clientIP(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionToken(r *http.Request) string {
	return r.Header.Get("X-Session-Token")
}

// apiKeyFrom prefers the dedicated header and falls back to a bearer token.
func apiKeyFrom(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// clientIP trusts chi's RealIP middleware to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
