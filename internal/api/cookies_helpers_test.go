package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func loginRecorder(t *testing.T, env *testEnv, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	env.handler.Login(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	return rec
}

func loginBody(t *testing.T) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(loginRequest{Username: "janed", Password: "secret123"})
	if err != nil {
		t.Fatalf("marshal login request: %v", err)
	}
	return bytes.NewReader(body)
}

func tokenCookies(t *testing.T, rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	t.Helper()
	cookies := make(map[string]*http.Cookie)
	for _, cookie := range rec.Result().Cookies() {
		cookies[cookie.Name] = cookie
	}
	for _, name := range []string{accessTokenCookie, refreshTokenCookie} {
		if cookies[name] == nil {
			t.Fatalf("missing %s cookie, got %v", name, rec.Header().Values("Set-Cookie"))
		}
	}
	return cookies
}

func TestLoginCookiesSecureByDefault(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env)

	req := httptest.NewRequest(http.MethodPost, "/users/login", loginBody(t))
	rec := loginRecorder(t, env, req)

	for name, cookie := range tokenCookies(t, rec) {
		if !cookie.Secure {
			t.Fatalf("expected %s cookie to be Secure on a plain request", name)
		}
		if !cookie.HttpOnly {
			t.Fatalf("expected %s cookie to be HttpOnly", name)
		}
	}
}

func TestLoginCookiesSecureAutoDerivesFromRequest(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env)
	env.handler.CookiePolicy = SessionCookiePolicy{
		SameSite:   http.SameSiteStrictMode,
		SecureMode: SessionCookieSecureAuto,
	}

	plain := loginRecorder(t, env, httptest.NewRequest(http.MethodPost, "/users/login", loginBody(t)))
	for name, cookie := range tokenCookies(t, plain) {
		if cookie.Secure {
			t.Fatalf("expected %s cookie without Secure over plain http", name)
		}
	}

	forwarded := httptest.NewRequest(http.MethodPost, "/users/login", loginBody(t))
	forwarded.Header.Set("X-Forwarded-Proto", "https")
	rec := loginRecorder(t, env, forwarded)
	for name, cookie := range tokenCookies(t, rec) {
		if !cookie.Secure {
			t.Fatalf("expected %s cookie to be Secure behind https proxy", name)
		}
	}
}
