package router

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-member/internal/auth"
	"github.com/ovaphlow/pitchfork/service-member/internal/member"
	"github.com/ovaphlow/pitchfork/service-member/internal/ratelimit"
)

// Config holds HTTP server settings.
type Config struct {
	Addr           string
	Prefix         string
	AllowedOrigins []string
}

// ConfigFromEnv reads HTTP_ADDR, API_PREFIX and CORS_ALLOWED_ORIGINS.
func ConfigFromEnv() Config {
	cfg := Config{
		Addr:           "0.0.0.0:8431",
		Prefix:         "/api",
		AllowedOrigins: []string{"http://localhost:4200"},
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v, ok := os.LookupEnv("API_PREFIX"); ok {
		cfg.Prefix = "/" + strings.Trim(v, "/")
		if cfg.Prefix == "/" {
			cfg.Prefix = ""
		}
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	return cfg
}

// Deps are the wired components mounted by RegisterRoutes.
type Deps struct {
	Logger  *zap.SugaredLogger
	Gate    *auth.Gate
	Auth    *auth.Handler
	Members *member.Handler
	// Limiter is optional; nil disables rate limiting.
	Limiter *ratelimit.Limiter
	// Metrics is optional; nil disables request metrics.
	Metrics  *HTTPMetrics
	Gatherer prometheus.Gatherer
	Version  string
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(cfg Config, d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := cfg.Prefix
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+p+"/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
	})
	version := d.Version
	if version == "" {
		version = "dev"
	}
	mux.HandleFunc("GET "+p+"/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": version})
	})
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// auth routes
	limit := func(h http.HandlerFunc) http.Handler { return h }
	if d.Limiter != nil {
		mw := d.Limiter.Middleware(logger)
		limit = func(h http.HandlerFunc) http.Handler { return mw(h) }
	}
	mux.Handle("POST "+p+"/auth/login", limit(d.Auth.Login))
	mux.Handle("POST "+p+"/auth/register", limit(d.Auth.Register))
	mux.HandleFunc("POST "+p+"/auth/logout", d.Auth.Logout)
	mux.HandleFunc("GET "+p+"/auth/refresh", d.Auth.Refresh)
	mux.HandleFunc("POST "+p+"/auth/refresh", d.Auth.Refresh)

	// member routes
	admin := auth.RequireRole("ADMIN")
	mux.HandleFunc("GET "+p+"/member/current", d.Members.Current)
	mux.Handle("GET "+p+"/members", admin(http.HandlerFunc(d.Members.List)))
	mux.Handle("GET "+p+"/members/search", admin(http.HandlerFunc(d.Members.Search)))
	mux.Handle("PUT "+p+"/members/{id}", admin(http.HandlerFunc(d.Members.Update)))
	mux.Handle("DELETE "+p+"/members/{id}", admin(http.HandlerFunc(d.Members.Delete)))

	var handler http.Handler = dispatch(mux)
	handler = d.Gate.Middleware(handler)
	handler = CORSMiddleware(cfg.AllowedOrigins)(handler)
	handler = SecurityHeadersMiddleware()(handler)
	handler = d.Metrics.Middleware(func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		return pattern
	})(handler)
	handler = RecoverMiddleware(logger)(handler)
	handler = LoggingMiddleware(logger)(handler)
	handler = TraceIDMiddleware()(handler)
	return handler
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
