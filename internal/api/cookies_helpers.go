package api

import (
	"net/http"
	"strings"
	"time"

	"streamnest/internal/auth"
)

const (
	accessTokenCookie  = "accessToken"
	refreshTokenCookie = "refreshToken"
)

type SessionCookieSecureMode int

const (
	SessionCookieSecureAlways SessionCookieSecureMode = iota
	SessionCookieSecureAuto
)

// SessionCookiePolicy controls the Secure and SameSite attributes on the
// token cookies. SecureAlways marks every cookie Secure and is the default;
// SecureAuto derives Secure from the request, for plain-HTTP development
// setups.
type SessionCookiePolicy struct {
	SameSite   http.SameSite
	SecureMode SessionCookieSecureMode
}

func DefaultSessionCookiePolicy() SessionCookiePolicy {
	return SessionCookiePolicy{
		SameSite:   http.SameSiteStrictMode,
		SecureMode: SessionCookieSecureAlways,
	}
}

func (p SessionCookiePolicy) secure(r *http.Request) bool {
	if p.SecureMode == SessionCookieSecureAuto {
		return isSecureRequest(r)
	}
	return true
}

func (h *Handler) cookiePolicy() SessionCookiePolicy {
	policy := h.CookiePolicy
	if policy.SameSite == 0 {
		policy.SameSite = http.SameSiteStrictMode
	}
	return policy
}

func (h *Handler) setTokenCookies(w http.ResponseWriter, r *http.Request, pair auth.TokenPair) {
	policy := h.cookiePolicy()
	setTokenCookie(w, r, accessTokenCookie, pair.AccessToken, h.Tokens.AccessTTL(), policy)
	setTokenCookie(w, r, refreshTokenCookie, pair.RefreshToken, h.Tokens.RefreshTTL(), policy)
}

func (h *Handler) clearTokenCookies(w http.ResponseWriter, r *http.Request) {
	policy := h.cookiePolicy()
	clearTokenCookie(w, r, accessTokenCookie, policy)
	clearTokenCookie(w, r, refreshTokenCookie, policy)
}

func setTokenCookie(w http.ResponseWriter, r *http.Request, name, token string, ttl time.Duration, policy SessionCookiePolicy) {
	if token == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(ttl).UTC(),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   policy.secure(r),
		SameSite: policy.SameSite,
	})
}

func clearTokenCookie(w http.ResponseWriter, r *http.Request, name string, policy SessionCookiePolicy) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   policy.secure(r),
		SameSite: policy.SameSite,
	})
}

func isSecureRequest(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		for _, p := range strings.Split(proto, ",") {
			if strings.EqualFold(strings.TrimSpace(p), "https") {
				return true
			}
		}
	}
	if r.URL != nil && strings.EqualFold(r.URL.Scheme, "https") {
		return true
	}
	return false
}
