package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cypherlabs/cipher-score-api/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		provided   string
		wantStatus int
	}{
		{"Valid", "secret", "secret", http.StatusOK},
		{"Wrong", "secret", "nope", http.StatusUnauthorized},
		{"Missing", "secret", "", http.StatusUnauthorized},
		{"Disabled", "", "anything", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{AdminAPIKey: tt.configured}
			handler := AdminAuthMiddleware(cfg)(okHandler())

			req := httptest.NewRequest("POST", "/admin/init_comp_def", nil)
			if tt.provided != "" {
				req.Header.Set("X-Admin-Key", tt.provided)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestIPRateLimiter(t *testing.T) {
	limiter := NewIPRateLimiter(1, 2)
	handler := limiter.Middleware(okHandler())

	send := func(addr string) int {
		req := httptest.NewRequest("POST", "/wallet-auth/request-nonce", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// Burst of 2 allowed, third rejected.
	if got := send("10.0.0.1:1234"); got != http.StatusOK {
		t.Errorf("first request = %d", got)
	}
	if got := send("10.0.0.1:1234"); got != http.StatusOK {
		t.Errorf("second request = %d", got)
	}
	if got := send("10.0.0.1:1234"); got != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", got)
	}

	// A different IP has its own bucket.
	if got := send("10.0.0.2:1234"); got != http.StatusOK {
		t.Errorf("other IP = %d, want 200", got)
	}
}

func TestSessionTokenHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/wallet-auth/session", nil)
	req.Header.Set("X-Session-Token", "sess_abc")
	if got := sessionToken(req); got != "sess_abc" {
		t.Errorf("sessionToken() = %q, want sess_abc", got)
	}

	// The session header is the only accepted carrier; a bearer token is
	// an API-key credential, not a session.
	req = httptest.NewRequest("GET", "/wallet-auth/session", nil)
	req.Header.Set("Authorization", "Bearer sess_abc")
	if got := sessionToken(req); got != "" {
		t.Errorf("sessionToken() = %q, want empty", got)
	}
}

func TestAPIKeyFrom(t *testing.T) {
	tests := []struct {
		name    string
		xAPIKey string
		auth    string
		want    string
	}{
		{"Header", "cypher_abc", "", "cypher_abc"},
		{"Bearer", "", "Bearer cypher_abc", "cypher_abc"},
		{"HeaderWinsOverBearer", "cypher_abc", "Bearer cypher_other", "cypher_abc"},
		{"Neither", "", "", ""},
		{"WrongScheme", "", "Basic cypher_abc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/calculate_credit_score", nil)
			if tt.xAPIKey != "" {
				req.Header.Set("X-API-Key", tt.xAPIKey)
			}
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			if got := apiKeyFrom(req); got != tt.want {
				t.Errorf("apiKeyFrom() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"Valid", "Bearer sess_abc", "sess_abc"},
		{"Missing", "", ""},
		{"WrongScheme", "Basic abc", ""},
		{"NoToken", "Bearer", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := bearerToken(req); got != tt.want {
				t.Errorf("bearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
