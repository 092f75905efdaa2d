package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/batepapo/internal/metrics"
)

const (
	// autoBlockAfter is the number of rejected requests within an hour that gets an IP blocked.
	autoBlockAfter  = 10
	violationWindow = time.Hour
	blockDuration   = 24 * time.Hour
)

// RateLimit caps requests per key within a sliding window.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist        []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool     // Block IPs that keep hitting limits
}

// RateLimiter enforces per-route limits backed by Redis sorted sets.
type RateLimiter struct {
	client    *redis.Client
	blocker   *IPBlocker
	logger    zerolog.Logger
	whitelist []netip.Prefix
	autoBlock bool
	now       func() time.Time

	// limits is keyed by "METHOD normalized-path", e.g. "PUT /messages/:id".
	limits map[string]RateLimit
}

// NewRateLimiter creates a rate limiter with the chat's default route limits.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:    client,
		blocker:   NewIPBlocker(client),
		logger:    logger,
		whitelist: parseWhitelist(cfg.Whitelist, logger),
		autoBlock: cfg.AutoBlockEnabled,
		now:       time.Now,
		limits: map[string]RateLimit{
			"POST /participants":      {10, time.Minute, ipKey},
			"GET /participants":       {120, time.Minute, ipKey},
			"GET /participants/:name": {120, time.Minute, ipKey},
			"POST /status":            {30, time.Minute, userKey},
			"POST /messages":          {60, time.Minute, userKey},
			"GET /messages":           {120, time.Minute, userKey},
			"PUT /messages/:id":       {30, time.Minute, userKey},
			"DELETE /messages/:id":    {30, time.Minute, userKey},
			"GET /stats":              {60, time.Minute, ipKey},
		},
	}
	if len(rl.whitelist) > 0 {
		logger.Info().Int("entries", len(rl.whitelist)).Msg("rate limit whitelist configured")
	}
	return rl
}

func parseWhitelist(entries []string, logger zerolog.Logger) []netip.Prefix {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			addr, err := netip.ParseAddr(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid IP in whitelist")
				continue
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
			continue
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return prefixes
}

func (rl *RateLimiter) isWhitelisted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.whitelist {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func ipKey(r *http.Request) string {
	return "ratelimit:ip:" + RealIP(r)
}

// userKey buckets by display name so participants behind one NAT don't share a
// budget. Anonymous requests fall back to the client IP.
func userKey(r *http.Request) string {
	if user := GetUserFromContext(r.Context()); user != "" {
		return "ratelimit:user:" + user
	}
	return ipKey(r)
}

// RealIP returns the client address, preferring proxy headers over RemoteAddr.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("Fly-Client-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decision is the outcome of one limit check.
type decision struct {
	allowed   bool
	remaining int
	reset     time.Time
}

// take records a request against key and reports whether it fits in the window.
// Rejected requests are recorded too, so a client hammering the endpoint stays
// limited until it backs off. Redis failures let the request through.
func (rl *RateLimiter) take(ctx context.Context, key string, limit RateLimit) decision {
	now := rl.now()
	nowMs := now.UnixMilli()

	var (
		card   *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(nowMs-limit.Window.Milliseconds(), 10))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()})
		card = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeWithScores(ctx, key, 0, 0)
		pipe.PExpire(ctx, key, limit.Window)
		return nil
	})
	if err != nil {
		rl.logger.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing request")
		return decision{allowed: true, remaining: limit.Requests, reset: now.Add(limit.Window)}
	}

	count := int(card.Val())
	reset := now.Add(limit.Window)
	if z := oldest.Val(); len(z) > 0 {
		reset = time.UnixMilli(int64(z[0].Score)).Add(limit.Window)
	}
	return decision{
		allowed:   count <= limit.Requests,
		remaining: max(limit.Requests-count, 0),
		reset:     reset,
	}
}

// Middleware rejects blocked IPs with 403 and over-limit requests with 429.
// It must run after Identity so per-user limits can see the caller.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		log := rl.logger.With().
			Str("type", "security").
			Str("ip", ip).
			Str("endpoint", r.URL.Path).
			Logger()

		if rl.blocker.IsBlocked(r.Context(), ip) {
			metrics.BlockedRequests.WithLabelValues("ip_blocked").Inc()
			log.Warn().Str("event", "blocked_request").Msg("blocked IP attempted request")
			jsonError(w, http.StatusForbidden, "temporarily blocked")
			return
		}

		route := r.Method + " " + normalizePath(r.URL.Path)
		limit, ok := rl.limits[route]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r) + ":" + route
		d := rl.take(r.Context(), key, limit)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.reset.Unix(), 10))

		if d.allowed {
			next.ServeHTTP(w, r)
			return
		}

		retry := max(int(d.reset.Sub(rl.now()).Seconds()), 1)
		h.Set("Retry-After", strconv.Itoa(retry))
		metrics.RateLimitHits.WithLabelValues(normalizePath(r.URL.Path)).Inc()
		log.Warn().
			Str("event", "rate_limit_exceeded").
			Str("user", GetUserFromContext(r.Context())).
			Str("key", key).
			Msg("rate limit exceeded")

		if rl.autoBlock {
			rl.recordViolation(r.Context(), ip, log)
		}
		jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})
}

func (rl *RateLimiter) recordViolation(ctx context.Context, ip string, log zerolog.Logger) {
	key := "violations:ip:" + ip

	var incr *redis.IntCmd
	if _, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, violationWindow)
		return nil
	}); err != nil {
		log.Warn().Err(err).Msg("recording rate limit violation failed")
		return
	}

	if n := incr.Val(); n >= autoBlockAfter {
		if err := rl.blocker.Block(ctx, ip, blockDuration, "repeated rate limit violations"); err != nil {
			log.Warn().Err(err).Msg("auto-block failed")
			return
		}
		log.Warn().
			Str("event", "ip_auto_blocked").
			Int64("violations", n).
			Msg("IP auto-blocked for repeated violations")
	}
}

// IPBlocker manages temporary IP blocks.
type IPBlocker struct {
	client *redis.Client
}

// NewIPBlocker creates an IP blocker.
func NewIPBlocker(client *redis.Client) *IPBlocker {
	return &IPBlocker{client: client}
}

func blockKey(ip string) string { return "blocked:ip:" + ip }

// IsBlocked reports whether ip is currently blocked. Lookup errors count as not blocked.
func (b *IPBlocker) IsBlocked(ctx context.Context, ip string) bool {
	n, err := b.client.Exists(ctx, blockKey(ip)).Result()
	return err == nil && n > 0
}

// Block blocks ip for d, storing reason as the value.
func (b *IPBlocker) Block(ctx context.Context, ip string, d time.Duration, reason string) error {
	return b.client.Set(ctx, blockKey(ip), reason, d).Err()
}

// Unblock lifts a block early.
func (b *IPBlocker) Unblock(ctx context.Context, ip string) error {
	return b.client.Del(ctx, blockKey(ip)).Err()
}
