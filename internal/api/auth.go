package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"streamnest/internal/auth"
	"streamnest/internal/models"
)

type contextKey string

const userContextKey contextKey = "authenticatedUser"

// ContextWithUser stores the authenticated user in the provided context.
func ContextWithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext retrieves the authenticated user from context if present.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userContextKey).(models.User)
	return user, ok
}

// ExtractAccessToken pulls the access token from the Authorization header or
// the accessToken cookie, header first.
func ExtractAccessToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(accessTokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// AuthenticateRequest validates the access token on the request and loads the
// account it names.
func (h *Handler) AuthenticateRequest(r *http.Request) (models.User, error) {
	token := ExtractAccessToken(r)
	if token == "" {
		return models.User{}, fmt.Errorf("missing access token")
	}
	claims, err := h.Tokens.VerifyAccess(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return models.User{}, fmt.Errorf("access token expired")
		}
		return models.User{}, fmt.Errorf("invalid access token")
	}
	user, exists, err := h.Store.GetUser(r.Context(), claims.Subject)
	if err != nil {
		return models.User{}, fmt.Errorf("load account: %w", err)
	}
	if !exists {
		return models.User{}, fmt.Errorf("account not found")
	}
	return user, nil
}

func (h *Handler) requireAuthenticatedUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
		return models.User{}, false
	}
	return user, true
}
