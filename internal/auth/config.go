package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds token and cookie settings.
type Config struct {
	Secret            string
	GeneratedSecret   bool
	Production        bool
	Issuer            string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	AccessCookiePath  string
	RefreshCookiePath string
	CookieSecure      bool
	CookieSameSite    http.SameSite
	// PublicPaths overrides the default allowlist when non-empty.
	PublicPaths []string
}

// ConfigFromEnv reads JWT_*, COOKIE_* and AUTH_PUBLIC_PATHS. When JWT_SECRET
// is unset a random secret is generated; Validate rejects that in production.
func ConfigFromEnv() Config {
	cfg := Config{
		Secret:            os.Getenv("JWT_SECRET"),
		Production:        strings.EqualFold(os.Getenv("APP_ENV"), "production"),
		Issuer:            os.Getenv("JWT_ISSUER"),
		AccessTTL:         24 * time.Hour,
		RefreshTTL:        7 * 24 * time.Hour,
		AccessCookiePath:  "/",
		RefreshCookiePath: "/",
		CookieSameSite:    http.SameSiteLaxMode,
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "service-member"
	}
	if cfg.Secret == "" {
		cfg.Secret = randomSecret()
		cfg.GeneratedSecret = true
	}
	if d, err := parseDuration(os.Getenv("JWT_ACCESS_EXPIRATION")); err == nil && d > 0 {
		cfg.AccessTTL = d
	}
	if d, err := parseDuration(os.Getenv("JWT_REFRESH_EXPIRATION")); err == nil && d > 0 {
		cfg.RefreshTTL = d
	}
	if v := os.Getenv("JWT_REFRESH_COOKIE_PATH"); v != "" {
		cfg.RefreshCookiePath = v
	}
	// secure cookies by default in production
	cfg.CookieSecure = cfg.Production
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CookieSecure = b
		}
	}
	switch strings.ToLower(os.Getenv("COOKIE_SAMESITE")) {
	case "strict":
		cfg.CookieSameSite = http.SameSiteStrictMode
	case "none":
		cfg.CookieSameSite = http.SameSiteNoneMode
	case "lax":
		cfg.CookieSameSite = http.SameSiteLaxMode
	}
	if v := os.Getenv("AUTH_PUBLIC_PATHS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.PublicPaths = append(cfg.PublicPaths, p)
			}
		}
	}
	return cfg
}

// Validate reports configuration that must stop the process.
func (c Config) Validate() error {
	if c.Production && c.GeneratedSecret {
		return errors.New("JWT_SECRET is required when APP_ENV=production")
	}
	if len(c.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.Secret))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token expirations must be positive")
	}
	return nil
}

// Cookies returns the cookie settings derived from c.
func (c Config) Cookies() CookieConfig {
	return CookieConfig{
		AccessPath:  c.AccessCookiePath,
		RefreshPath: c.RefreshCookiePath,
		Secure:      c.CookieSecure,
		SameSite:    c.CookieSameSite,
	}
}

// DefaultPublicPaths lists the routes reachable without a token.
func DefaultPublicPaths(prefix string) []string {
	prefix = strings.TrimRight(prefix, "/")
	return []string{
		prefix + "/auth/login",
		prefix + "/auth/register",
		prefix + "/auth/logout",
		prefix + "/health",
		prefix + "/version",
		"/metrics",
		"/swagger-ui/**",
		"/v3/api-docs/**",
	}
}

// parseDuration accepts Go durations plus a whole-day "Nd" form.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q: %w", s, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("read random secret: %v", err))
	}
	return hex.EncodeToString(b)
}
