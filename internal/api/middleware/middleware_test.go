package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestIdentity(t *testing.T) {
	req := require.New(t)

	var seen string
	h := Identity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/messages", nil)
	r.Header.Set(UserHeader, "  Alice ")
	h.ServeHTTP(httptest.NewRecorder(), r)
	req.Equal("Alice", seen)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/messages", nil))
	req.Empty(seen)
	req.Empty(GetUserFromContext(context.Background()))
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/messages":                            "/messages",
		"/messages/01ARZ3NDEKTSV4RRFFQ69G5FAV": "/messages/:id",
		"/messages/":                           "other",
		"/participants":                        "/participants",
		"/participants/Alice":                  "/participants/:name",
		"/status":                              "/status",
		"/wp-admin":                            "other",
	}
	for in, want := range tests {
		require.Equal(t, want, normalizePath(in), in)
	}
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(ok)
	tests := []struct {
		name   string
		method string
		target string
		ctype  string
		body   string
		want   int
	}{
		{"json body", http.MethodPost, "/messages", "application/json", `{}`, http.StatusOK},
		{"empty body", http.MethodPost, "/status", "", "", http.StatusOK},
		{"form body", http.MethodPost, "/messages", "text/plain", "hi", http.StatusUnsupportedMediaType},
		{"traversal", http.MethodGet, "/messages/../etc", "", "", http.StatusBadRequest},
		{"script in query", http.MethodGet, "/messages?limit=<script>", "", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/", strings.NewReader(tt.body))
			r.URL.Path, r.URL.RawQuery, _ = strings.Cut(tt.target, "?")
			if tt.ctype != "" {
				r.Header.Set("Content-Type", tt.ctype)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			require.Equal(t, tt.want, w.Code)
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(16)(ok)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/participants", strings.NewReader(`{"name":"a"}`)))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/participants", strings.NewReader(`{"name":"a very long name"}`)))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.JSONEq(t, `{"error":"request body too large"}`, w.Body.String())
}

func newLimiter(t *testing.T, cfg RateLimiterConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rl := NewRateLimiter(client, zerolog.Nop(), cfg)
	fixed := time.Date(2024, 3, 1, 12, 0, 30, 0, time.UTC)
	rl.now = func() time.Time { return fixed }
	return rl, mr
}

func send(h http.Handler, method, path, ip, user string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	r.RemoteAddr = ip + ":40000"
	if user != "" {
		r.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestRateLimiter_PerIP(t *testing.T) {
	req := require.New(t)
	rl, _ := newLimiter(t, RateLimiterConfig{})
	h := Identity(rl.Middleware(ok))

	for i := 0; i < 10; i++ {
		w := send(h, http.MethodPost, "/participants", "192.0.2.1", "")
		req.Equal(http.StatusOK, w.Code, "request %d", i+1)
		req.Equal("10", w.Header().Get("X-RateLimit-Limit"))
	}

	w := send(h, http.MethodPost, "/participants", "192.0.2.1", "")
	req.Equal(http.StatusTooManyRequests, w.Code)
	req.Equal("0", w.Header().Get("X-RateLimit-Remaining"))
	req.NotEmpty(w.Header().Get("Retry-After"))
	req.JSONEq(`{"error":"rate limit exceeded"}`, w.Body.String())

	// Another client is unaffected, and unlimited routes pass through.
	req.Equal(http.StatusOK, send(h, http.MethodPost, "/participants", "192.0.2.2", "").Code)
	req.Equal(http.StatusOK, send(h, http.MethodGet, "/health", "192.0.2.1", "").Code)
}

func TestRateLimiter_PerUser(t *testing.T) {
	req := require.New(t)
	rl, _ := newLimiter(t, RateLimiterConfig{})
	rl.limits["POST /messages"] = RateLimit{2, time.Minute, userKey}
	h := Identity(rl.Middleware(ok))

	req.Equal(http.StatusOK, send(h, http.MethodPost, "/messages", "192.0.2.1", "Alice").Code)
	req.Equal(http.StatusOK, send(h, http.MethodPost, "/messages", "192.0.2.1", "Alice").Code)
	req.Equal(http.StatusTooManyRequests, send(h, http.MethodPost, "/messages", "192.0.2.1", "Alice").Code)

	// Same address, different participant.
	req.Equal(http.StatusOK, send(h, http.MethodPost, "/messages", "192.0.2.1", "Bob").Code)
}

func TestRateLimiter_Whitelist(t *testing.T) {
	rl, _ := newLimiter(t, RateLimiterConfig{Whitelist: []string{"10.1.2.3", "192.0.2.0/24", "not-a-cidr/x"}})
	h := Identity(rl.Middleware(ok))

	for i := 0; i < 15; i++ {
		require.Equal(t, http.StatusOK, send(h, http.MethodPost, "/participants", "192.0.2.77", "").Code)
		require.Equal(t, http.StatusOK, send(h, http.MethodPost, "/participants", "10.1.2.3", "").Code)
	}
	require.True(t, rl.isWhitelisted("192.0.2.1"))
	require.False(t, rl.isWhitelisted("198.51.100.1"))
}

func TestRateLimiter_AutoBlock(t *testing.T) {
	req := require.New(t)
	rl, mr := newLimiter(t, RateLimiterConfig{AutoBlockEnabled: true})
	h := Identity(rl.Middleware(ok))

	for i := 0; i < 10; i++ {
		req.Equal(http.StatusOK, send(h, http.MethodPost, "/participants", "192.0.2.9", "").Code)
	}
	for i := 0; i < 10; i++ {
		req.Equal(http.StatusTooManyRequests, send(h, http.MethodPost, "/participants", "192.0.2.9", "").Code)
	}

	req.True(mr.Exists("blocked:ip:192.0.2.9"))
	w := send(h, http.MethodGet, "/messages", "192.0.2.9", "")
	req.Equal(http.StatusForbidden, w.Code)
	req.JSONEq(`{"error":"temporarily blocked"}`, w.Body.String())

	rl.blocker.Unblock(context.Background(), "192.0.2.9")
	req.Equal(http.StatusOK, send(h, http.MethodGet, "/messages", "192.0.2.9", "").Code)
}

func TestRateLimiter_RedisDownAllows(t *testing.T) {
	rl, mr := newLimiter(t, RateLimiterConfig{AutoBlockEnabled: true})
	h := Identity(rl.Middleware(ok))
	mr.Close()

	for i := 0; i < 12; i++ {
		require.Equal(t, http.StatusOK, send(h, http.MethodPost, "/participants", "192.0.2.1", "").Code)
	}
}

func TestRealIP(t *testing.T) {
	req := require.New(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.5:1234"
	req.Equal("203.0.113.5", RealIP(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	req.Equal("198.51.100.7", RealIP(r))

	r.Header.Set("Fly-Client-IP", "192.0.2.44")
	req.Equal("192.0.2.44", RealIP(r))
}
