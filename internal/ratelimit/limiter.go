// Package ratelimit throttles the public credential endpoints per client IP
// with Redis fixed-window counters.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-member/internal/apperr"
)

var ErrRedisUnavailable = errors.New("ratelimit: redis unavailable")

const keyPrefix = "member:ratelimit:"

// Config holds limiter settings.
type Config struct {
	RedisURL string
	Limit    int
	Window   time.Duration
	// TrustedProxies lists the peers whose X-Forwarded-For and X-Real-IP
	// headers are honoured. Empty means the TCP peer is always the client.
	TrustedProxies []netip.Prefix
}

// ConfigFromEnv reads REDIS_URL, RATE_LIMIT_LOGIN, RATE_LIMIT_WINDOW and
// RATE_LIMIT_TRUSTED_PROXIES (comma separated IPs or CIDRs).
func ConfigFromEnv() Config {
	cfg := Config{
		RedisURL: os.Getenv("REDIS_URL"),
		Limit:    10,
		Window:   time.Minute,
	}
	if v := os.Getenv("RATE_LIMIT_LOGIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Limit = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Window = d
		}
	}
	if v := os.Getenv("RATE_LIMIT_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = ParsePrefixes(strings.Split(v, ","))
	}
	return cfg
}

// ParsePrefixes parses CIDRs and bare addresses, skipping invalid entries.
func ParsePrefixes(values []string) []netip.Prefix {
	var out []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if p, err := netip.ParsePrefix(v); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(v); err == nil {
			a = a.Unmap()
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}

// Enabled reports whether a Redis URL was configured.
func (c Config) Enabled() bool { return c.RedisURL != "" }

// NewClient opens a Redis client from cfg.RedisURL and pings it.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return client, nil
}

// Limiter counts hits per key inside a fixed window.
type Limiter struct {
	redis   redis.UniversalClient
	limit   int
	window  time.Duration
	trusted []netip.Prefix
}

func New(client redis.UniversalClient, cfg Config) *Limiter {
	limit := cfg.Limit
	if limit <= 0 {
		limit = 10
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{redis: client, limit: limit, window: window, trusted: cfg.TrustedProxies}
}

// Allow records one hit for key. When the budget is spent it returns false
// and the time left in the current window.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := keyPrefix + key
	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// fixed window: the first hit starts the clock
	if count == 1 {
		if err := l.redis.Expire(ctx, k, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	if count <= int64(l.limit) {
		return true, 0, nil
	}
	ttl, err := l.redis.TTL(ctx, k).Result()
	if err != nil || ttl <= 0 {
		ttl = l.window
	}
	return false, ttl, nil
}

// Middleware rejects requests over budget with 429 and Retry-After. Redis
// failures let the request through.
func (l *Limiter) Middleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := l.ClientIP(r)
			key := r.URL.Path + ":" + ip
			ok, retryAfter, err := l.Allow(r.Context(), key)
			if err != nil {
				logger.Warnw("rate limiter unavailable", "path", r.URL.Path, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				secs := int(math.Ceil(retryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				logger.Infow("rate limited", "path", r.URL.Path, "remote", ip)
				apperr.Write(w, apperr.New(apperr.TooManyRequests, "Too many requests. Please try again later."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the address the budget is charged to. Forwarding headers
// count only when the TCP peer is a trusted proxy; X-Forwarded-For is then
// walked from the right, skipping trusted hops.
func (l *Limiter) ClientIP(r *http.Request) string {
	peer := remoteHost(r)
	if !l.isTrusted(peer) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				break
			}
			if !l.isTrusted(hop) || i == 0 {
				return hop
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		if _, err := netip.ParseAddr(ip); err == nil {
			return ip
		}
	}
	return peer
}

func (l *Limiter) isTrusted(ip string) bool {
	if len(l.trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range l.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
