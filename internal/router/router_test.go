package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-member/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-member/internal/auth"
	"github.com/ovaphlow/pitchfork/service-member/internal/member"
	"github.com/ovaphlow/pitchfork/service-member/internal/member/entity"
	memberrepo "github.com/ovaphlow/pitchfork/service-member/internal/member/repo"
	"github.com/ovaphlow/pitchfork/service-member/internal/phone"
)

// memStore satisfies both auth.CredentialStore and member.Store.
type memStore struct {
	mu      sync.Mutex
	members []*entity.Member
}

func (s *memStore) find(match func(*entity.Member) bool) (*entity.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if match(m) {
			cp := *m
			return &cp, nil
		}
	}
	return nil, memberrepo.ErrNotFound
}

func (s *memStore) FindByEmail(_ context.Context, email string) (*entity.Member, error) {
	return s.find(func(m *entity.Member) bool { return m.Email == email })
}

func (s *memStore) FindByPhone(_ context.Context, phone string) (*entity.Member, error) {
	return s.find(func(m *entity.Member) bool { return m.PhoneNumber == phone })
}

func (s *memStore) FindByID(_ context.Context, id string) (*entity.Member, error) {
	return s.find(func(m *entity.Member) bool { return m.ID == id })
}

func (s *memStore) Insert(_ context.Context, m *entity.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.members = append(s.members, &cp)
	return nil
}

func (s *memStore) RecordFailedLogin(_ context.Context, id string, threshold int, at time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.ID == id {
			m.FailedLoginAttempts++
			if m.FailedLoginAttempts >= threshold && !m.Blocked {
				m.Blocked, m.BlockedAt = true, &at
			}
			return m.FailedLoginAttempts, m.Blocked, nil
		}
	}
	return 0, false, memberrepo.ErrNotFound
}

func (s *memStore) Search(_ context.Context, c entity.Criteria, limit, offset int) ([]*entity.Member, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.Member
	for _, m := range s.members {
		if c.IncludeInactive || m.Active {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (s *memStore) Update(_ context.Context, m *entity.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.members {
		if existing.ID == m.ID {
			cp := *m
			s.members[i] = &cp
			return nil
		}
	}
	return memberrepo.ErrNotFound
}

func (s *memStore) Deactivate(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.ID == id {
			m.Active = false
			return nil
		}
	}
	return memberrepo.ErrNotFound
}

const password = "Secret1!"

type testServer struct {
	handler http.Handler
	metrics *HTTPMetrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	now := time.Now()
	store := &memStore{members: []*entity.Member{
		{ID: "1", Email: "admin@x.com", PasswordHash: string(hash), Name: "Admin", Roles: []string{"ADMIN"}, Active: true, CreatedAt: now},
		{ID: "2", Email: "user@x.com", PasswordHash: string(hash), Name: "User", Roles: []string{"USER"}, Active: true, CreatedAt: now},
	}}

	reg := prometheus.NewRegistry()
	httpMetrics, err := NewHTTPMetrics(HTTPMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("http metrics: %v", err)
	}
	authMetrics, err := auth.NewMetrics(reg)
	if err != nil {
		t.Fatalf("auth metrics: %v", err)
	}

	cfg := Config{Prefix: "/api", AllowedOrigins: []string{"http://localhost:4200"}}
	authCfg := auth.Config{Secret: strings.Repeat("s", 32), AccessTTL: time.Hour, RefreshTTL: 24 * time.Hour}
	authSvc := auth.NewService(store, auth.BcryptHasher{Cost: bcrypt.MinCost}, phone.Noop{}, logger, authMetrics)
	tokens := auth.NewTokenService(authCfg, authSvc)
	gate := auth.NewGate(tokens, authSvc, authCfg.Cookies(), auth.DefaultPublicPaths(cfg.Prefix), logger, authMetrics)

	h := RegisterRoutes(cfg, Deps{
		Logger:   logger,
		Gate:     gate,
		Auth:     auth.NewHandler(authSvc, gate, logger),
		Members:  member.NewHandler(member.NewService(store, phone.Noop{}, logger), logger),
		Metrics:  httpMetrics,
		Gatherer: reg,
		Version:  "1.2.3",
	})
	return &testServer{handler: h, metrics: httpMetrics}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) login(t *testing.T, email string) []*http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"`+email+`","password":"`+password+`"}`))
	rr := s.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, rr.Code, rr.Body.String())
	}
	return rr.Result().Cookies()
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) apperr.Kind {
	t.Helper()
	var body apperr.Body
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rr.Body.String())
	}
	return body.ErrorType
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"UP"`) {
		t.Fatalf("unexpected health response %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get(TraceIDHeader) == "" {
		t.Fatal("expected a generated trace id")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}

	rr = s.do(httptest.NewRequest(http.MethodGet, "/api/version", nil))
	if !strings.Contains(rr.Body.String(), "1.2.3") {
		t.Fatalf("unexpected version body %s", rr.Body.String())
	}
}

func TestTraceIDEchoed(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(TraceIDHeader, "trace-123")
	if got := s.do(req).Header().Get(TraceIDHeader); got != "trace-123" {
		t.Fatalf("expected trace id to be echoed, got %q", got)
	}
}

func TestProtectedRouteWithoutToken(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(httptest.NewRequest(http.MethodGet, "/api/member/current", nil))
	if rr.Code != http.StatusUnauthorized || errorType(t, rr) != apperr.TokenMissing {
		t.Fatalf("expected 401 TokenMissing, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestLoginThenCurrent(t *testing.T) {
	s := newTestServer(t)
	cookies := s.login(t, "user@x.com")

	req := httptest.NewRequest(http.MethodGet, "/api/member/current", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := s.do(req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"user@x.com"`) {
		t.Fatalf("unexpected current response %d %s", rr.Code, rr.Body.String())
	}
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/members", nil)
	for _, c := range s.login(t, "user@x.com") {
		req.AddCookie(c)
	}
	rr := s.do(req)
	if rr.Code != http.StatusForbidden || errorType(t, rr) != apperr.NotAuthorized {
		t.Fatalf("expected 403 for USER, got %d %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/members?showInactive=true", nil)
	for _, c := range s.login(t, "admin@x.com") {
		req.AddCookie(c)
	}
	rr = s.do(req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"totalElements":2`) {
		t.Fatalf("unexpected admin list %d %s", rr.Code, rr.Body.String())
	}
}

func TestUnmatchedRoutesRenderJSON(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(httptest.NewRequest(http.MethodDelete, "/api/health", nil))
	if rr.Code != http.StatusMethodNotAllowed || errorType(t, rr) != apperr.MethodNotAllowed {
		t.Fatalf("expected 405 body, got %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Allow") == "" {
		t.Fatal("expected Allow header")
	}

	rr = s.do(httptest.NewRequest(http.MethodGet, "/swagger-ui/index.html", nil))
	if rr.Code != http.StatusNotFound || errorType(t, rr) != apperr.NotFound {
		t.Fatalf("expected 404 body, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/members", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := s.do(req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:4200" ||
		rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("unexpected cors headers %v", rr.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	if got := s.do(req).Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestMetricsRecorded(t *testing.T) {
	s := newTestServer(t)
	s.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	s.do(httptest.NewRequest(http.MethodGet, "/api/member/current", nil))

	labels := prometheus.Labels{"method": http.MethodGet, "route": "GET /api/health", "status": "200"}
	if got := testutil.ToFloat64(s.metrics.Requests.With(labels)); got != 1 {
		t.Fatalf("expected one health request, got %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.InFlight); got != 0 {
		t.Fatalf("expected in-flight gauge back at 0, got %v", got)
	}

	rr := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	if rr.Code != http.StatusOK || !strings.Contains(body, "member_http_requests_total") ||
		!strings.Contains(body, `member_auth_events_total{event="gate_rejected"} 1`) {
		t.Fatalf("unexpected metrics output %d:\n%s", rr.Code, body)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(zaptest.NewLogger(t).Sugar())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "boom") || !strings.Contains(rr.Body.String(), apperr.GenericMessage) {
		t.Fatalf("panic detail leaked: %s", rr.Body.String())
	}
}

func TestLoggingMiddlewareLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core).Sugar()
	status := http.StatusOK
	h := TraceIDMiddleware()(LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(TraceIDHeader, "trace-ok")
	h.ServeHTTP(httptest.NewRecorder(), req)
	status = http.StatusBadGateway
	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(TraceIDHeader, "trace-fail")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 2 {
		t.Fatalf("expected two access-log lines, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].ContextMap()["trace_id"] != "trace-ok" {
		t.Fatalf("unexpected success entry %+v", entries[0])
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["status"] != int64(http.StatusBadGateway) {
		t.Fatalf("unexpected failure entry %+v", entries[1].ContextMap())
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("API_PREFIX", "v1/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	cfg := ConfigFromEnv()
	if cfg.Addr != ":9000" || cfg.Prefix != "/v1" || len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
