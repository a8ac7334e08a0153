package auth

import (
	"net/http"
	"time"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

// CookieConfig carries the attributes shared by both token cookies.
type CookieConfig struct {
	AccessPath  string
	RefreshPath string
	Secure      bool
	SameSite    http.SameSite
}

func (c CookieConfig) cookie(name, value, path string, maxAge int) *http.Cookie {
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}
}

// SetTokens writes both token cookies with Max-Age equal to their TTL.
func (c CookieConfig) SetTokens(w http.ResponseWriter, access string, accessTTL time.Duration, refresh string, refreshTTL time.Duration) {
	http.SetCookie(w, c.cookie(AccessCookie, access, c.AccessPath, int(accessTTL.Seconds())))
	http.SetCookie(w, c.cookie(RefreshCookie, refresh, c.RefreshPath, int(refreshTTL.Seconds())))
}

// Clear expires both token cookies (Max-Age=0 on the wire).
func (c CookieConfig) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(AccessCookie, "", c.AccessPath, -1))
	http.SetCookie(w, c.cookie(RefreshCookie, "", c.RefreshPath, -1))
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
