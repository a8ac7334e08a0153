package auth

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-member/internal/apperr"
)

// Gate authenticates every non-public request before it reaches a handler.
type Gate struct {
	tokens  *TokenService
	loader  PrincipalLoader
	cookies CookieConfig
	public  []string
	logger  *zap.SugaredLogger
	metrics *Metrics
}

func NewGate(tokens *TokenService, loader PrincipalLoader, cookies CookieConfig, publicPaths []string, logger *zap.SugaredLogger, metrics *Metrics) *Gate {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Gate{
		tokens:  tokens,
		loader:  loader,
		cookies: cookies,
		public:  publicPaths,
		logger:  logger,
		metrics: metrics,
	}
}

// IsPublic matches path against the allowlist. Entries ending in "/" or
// "/**" match by prefix, others exactly.
func (g *Gate) IsPublic(path string) bool {
	for _, p := range g.public {
		switch {
		case strings.HasSuffix(p, "/**"):
			base := strings.TrimSuffix(p, "**")
			if path == strings.TrimSuffix(base, "/") || strings.HasPrefix(path, base) {
				return true
			}
		case strings.HasSuffix(p, "/"):
			if strings.HasPrefix(path, p) {
				return true
			}
		case path == p:
			return true
		}
	}
	return false
}

// Middleware returns the gate as http middleware. The security context lives
// only for the duration of next.ServeHTTP.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.IsPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		sc := &SecurityContext{}
		defer sc.Clear()

		p, err := g.authenticate(w, r, sc)
		if err != nil {
			g.reject(w, r, err)
			return
		}
		sc.Set(p)
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), sc)))
	})
}

func (g *Gate) authenticate(w http.ResponseWriter, r *http.Request, sc *SecurityContext) (*Principal, error) {
	ctx := r.Context()
	access := bearerToken(r)
	if access == "" {
		access = cookieValue(r, AccessCookie)
	}
	if access == "" {
		refresh := cookieValue(r, RefreshCookie)
		if refresh == "" {
			return nil, apperr.New(apperr.TokenMissing, "Token is missing")
		}
		pair, err := g.Rotate(w, r, refresh, nil)
		if err != nil {
			return nil, err
		}
		sc.setRotated(pair)
		access = pair.Access
	}

	claims, err := g.tokens.Validate(ctx, access, Access, nil)
	if err != nil {
		return nil, err
	}
	p, err := g.loader.LoadPrincipal(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	p.Authenticated = true
	return p, nil
}

// Rotate validates a refresh token, against the current principal when one
// is given, re-resolves its subject from the credential store and writes a
// new access and refresh pair as cookies.
func (g *Gate) Rotate(w http.ResponseWriter, r *http.Request, refresh string, against *Principal) (TokenPair, error) {
	claims, err := g.tokens.Validate(r.Context(), refresh, Refresh, against)
	if err != nil {
		return TokenPair{}, err
	}
	p, err := g.loader.LoadPrincipal(r.Context(), claims.Subject)
	if err != nil {
		return TokenPair{}, err
	}
	p.Authenticated = true
	pair, err := g.IssueCookies(w, *p)
	if err != nil {
		return TokenPair{}, err
	}
	g.metrics.inc(EventRefreshRotated)
	g.logger.Debugw("tokens rotated", "path", r.URL.Path)
	return pair, nil
}

// TokenPair describes a freshly issued access and refresh token. Expiries
// are token lifetimes in milliseconds, not instants.
type TokenPair struct {
	Access        string
	Refresh       string
	AccessExpiry  int64
	RefreshExpiry int64
}

// IssueCookies mints both tokens for p and writes them as cookies.
func (g *Gate) IssueCookies(w http.ResponseWriter, p Principal) (TokenPair, error) {
	access, _, err := g.tokens.Issue(p, Access)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := g.tokens.Issue(p, Refresh)
	if err != nil {
		return TokenPair{}, err
	}
	g.cookies.SetTokens(w, access, g.tokens.AccessTTL(), refresh, g.tokens.RefreshTTL())
	return TokenPair{
		Access:        access,
		Refresh:       refresh,
		AccessExpiry:  g.tokens.AccessTTL().Milliseconds(),
		RefreshExpiry: g.tokens.RefreshTTL().Milliseconds(),
	}, nil
}

// ClearCookies expires both token cookies.
func (g *Gate) ClearCookies(w http.ResponseWriter) {
	g.cookies.Clear(w)
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, err error) {
	g.metrics.inc(EventGateRejected)
	kind := apperr.KindOf(err)
	if kind.IsAuthentication() {
		g.logger.Debugw("request rejected", "path", r.URL.Path, "error_type", kind, "error", err)
		g.cookies.Clear(w)
		apperr.Write(w, err)
		return
	}
	g.logger.Errorw("authentication failed", "path", r.URL.Path, "error", err)
	apperr.Write(w, apperr.Wrap(apperr.Unknown, "authenticate request", err))
}

// RequireRole rejects principals without ROLE_<role> with 403.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				apperr.Write(w, apperr.New(apperr.NotAuthenticated, "Member not authenticated or session expired"))
				return
			}
			if !p.HasRole(role) {
				apperr.Write(w, apperr.New(apperr.NotAuthorized, "Access Denied"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
