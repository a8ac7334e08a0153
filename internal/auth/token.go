package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ovaphlow/pitchfork/service-member/internal/apperr"
)

// TokenType distinguishes access from refresh tokens via the token_type claim.
type TokenType string

const (
	Access  TokenType = "access"
	Refresh TokenType = "refresh"
)

const rolePrefix = "ROLE_"

// Principal is the identity resolved for a request.
type Principal struct {
	Email string
	Roles []string
	// Authenticated is set once credentials or a token have been verified.
	Authenticated bool
}

// Authorities returns the roles prefixed with ROLE_.
func (p Principal) Authorities() []string {
	out := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		if strings.HasPrefix(r, rolePrefix) {
			out = append(out, r)
			continue
		}
		out = append(out, rolePrefix+r)
	}
	return out
}

// HasAuthority reports whether p holds authority (already ROLE_ prefixed).
func (p Principal) HasAuthority(authority string) bool {
	for _, a := range p.Authorities() {
		if a == authority {
			return true
		}
	}
	return false
}

// HasRole reports whether p holds role, with or without the ROLE_ prefix.
func (p Principal) HasRole(role string) bool {
	return p.HasAuthority(rolePrefix + strings.TrimPrefix(role, rolePrefix))
}

// Claims is the signed claim set carried by both token types.
type Claims struct {
	Roles     []string  `json:"roles"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// PrincipalLoader resolves a subject against the credential store.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, email string) (*Principal, error)
}

// TokenService issues and validates HS256 tokens signed with one shared secret.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	loader     PrincipalLoader
	now        func() time.Time
}

func NewTokenService(cfg Config, loader PrincipalLoader) *TokenService {
	return &TokenService{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		loader:     loader,
		now:        time.Now,
	}
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *TokenService) ttl(t TokenType) time.Duration {
	if t == Refresh {
		return s.refreshTTL
	}
	return s.accessTTL
}

// Issue signs a token of type t for p. Every token gets a fresh jti so a
// rotated token never repeats its predecessor.
func (s *TokenService) Issue(p Principal, t TokenType) (string, time.Time, error) {
	if t != Access && t != Refresh {
		return "", time.Time{}, apperr.New(apperr.Unknown, "unsupported token type "+string(t))
	}
	if p.Email == "" || len(p.Roles) == 0 {
		return "", time.Time{}, apperr.New(apperr.NotAuthenticated, "Member has no roles")
	}
	if t == Refresh && !p.Authenticated {
		return "", time.Time{}, apperr.New(apperr.NotAuthenticated, "Member is not authenticated")
	}
	now := s.now()
	exp := now.Add(s.ttl(t))
	claims := Claims{
		Roles:     append([]string(nil), p.Roles...),
		TokenType: t,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Email,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.Unknown, "sign token", err)
	}
	return signed, exp, nil
}

// Validate verifies token as type t. When against is non-nil the subject must
// match it and is re-checked against the credential store, so a refresh
// token stops working once its member is removed or blocked.
func (s *TokenService) Validate(ctx context.Context, token string, t TokenType, against *Principal) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperr.New(apperr.TokenMissing, "Token is missing")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Wrap(apperr.TokenExpired, "Token is expired", err)
		}
		return nil, apperr.Wrap(apperr.TokenInvalid, "Invalid Token", err)
	}
	if claims.TokenType != t {
		return nil, apperr.New(apperr.TokenInvalid, string(t)+" token not found")
	}
	if claims.Subject == "" {
		return nil, apperr.New(apperr.TokenInvalid, "Invalid Token")
	}
	if against != nil {
		if claims.Subject != against.Email {
			return nil, apperr.New(apperr.TokenInvalid, "Invalid user")
		}
		if s.loader != nil {
			if _, err := s.loader.LoadPrincipal(ctx, claims.Subject); err != nil {
				return nil, err
			}
		}
	}
	return claims, nil
}

// Subject extracts sub without verifying the signature.
func (s *TokenService) Subject(token string) (string, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", apperr.Wrap(apperr.TokenInvalid, "Invalid Token", err)
	}
	return claims.Subject, nil
}
