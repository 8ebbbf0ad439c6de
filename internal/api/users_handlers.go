package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"streamnest/internal/media"
	"streamnest/internal/models"
	"streamnest/internal/observability/metrics"
	"streamnest/internal/storage"
)

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type updateAccountRequest struct {
	FullName *string `json:"fullName"`
	Email    *string `json:"email"`
	Username *string `json:"username"`
}

func blankField(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

type sessionResponse struct {
	User         models.User `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Register creates an account from a multipart form: text fields plus a
// required avatar file and an optional cover image.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}

	form, err := readMultipartForm(r, h.stagingDir())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer form.discard()

	fullName := form.field("fullName")
	email := form.field("email")
	username := form.field("username")
	password := form.field("password")
	for name, value := range map[string]string{
		"fullName": fullName,
		"email":    email,
		"username": username,
		"password": password,
	} {
		if value == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%s is required", name))
			return
		}
	}

	// Early exit; the store's uniqueness constraint is the authoritative guard.
	if _, exists, err := h.Store.FindByIdentity(r.Context(), username, email); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	} else if exists {
		writeError(w, http.StatusBadRequest, storage.ErrDuplicateUser)
		return
	}

	avatarFile := form.file("avatar")
	if avatarFile == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("avatar file is required"))
		return
	}

	avatar := h.uploadStaged(r, form, "avatar")
	if avatar == nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("avatar upload failed"))
		return
	}
	// A failed cover upload downgrades to an empty URL rather than aborting.
	coverURL := ""
	if form.file("coverImage") != nil {
		if cover := h.uploadStaged(r, form, "coverImage"); cover != nil {
			coverURL = cover.URL
		}
	}

	user, err := h.Store.CreateUser(r.Context(), storage.CreateUserParams{
		FullName:      fullName,
		Email:         email,
		Username:      username,
		Password:      password,
		AvatarURL:     avatar.URL,
		CoverImageURL: coverURL,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrDuplicateUser) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}

	metrics.ObserveAuthEvent("register_ok")
	writeData(w, http.StatusCreated, user, "user registered")
}

// uploadStaged hands one staged file to the media gateway, which owns the
// file's removal from that point.
func (h *Handler) uploadStaged(r *http.Request, form *multipartForm, name string) *media.UploadResult {
	staged := form.file(name)
	if staged == nil || h.Media == nil {
		return nil
	}
	delete(form.files, name)
	return h.Media.Upload(r.Context(), staged.path)
}

// Login authenticates by username or email, mints a token pair, persists the
// refresh token, and sets both cookies.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Username) == "" && strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("username or email is required"))
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("password is required"))
		return
	}

	user, exists, err := h.Store.FindByIdentity(r.Context(), req.Username, req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Errorf("user does not exist"))
		return
	}
	if err := storage.CheckPassword(user.PasswordHash, req.Password); err != nil {
		metrics.ObserveAuthEvent("login_failed")
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid credentials"))
		return
	}

	pair, err := h.Tokens.IssuePair(user.ID, user.Username, user.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := h.Store.SetRefreshToken(r.Context(), user.ID, pair.RefreshToken); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	metrics.ObserveAuthEvent("login_ok")
	h.setTokenCookies(w, r, pair)
	writeData(w, http.StatusOK, sessionResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, "login successful")
}

// Logout clears the stored refresh token and both cookies.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	if err := h.Store.SetRefreshToken(r.Context(), user.ID, ""); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.clearTokenCookies(w, r)
	writeData(w, http.StatusOK, nil, "logged out")
}

// RefreshToken rotates the token pair. The presented refresh token must be
// valid and must equal the single stored token for the user; anything else is
// unauthorized, with the underlying reason in the message.
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}

	presented := ""
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil {
		presented = cookie.Value
	}
	if presented == "" && r.Body != nil && r.ContentLength != 0 {
		var req refreshRequest
		if err := decodeJSON(r, &req); err == nil {
			presented = strings.TrimSpace(req.RefreshToken)
		}
	}
	if presented == "" {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("refresh token is required"))
		return
	}

	userID, err := h.Tokens.VerifyRefresh(presented)
	if err != nil {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid refresh token: %v", err))
		return
	}
	user, exists, err := h.Store.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !exists {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid refresh token: unknown user"))
		return
	}
	if user.RefreshToken == "" || user.RefreshToken != presented {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("refresh token is expired or already used"))
		return
	}

	pair, err := h.Tokens.IssuePair(user.ID, user.Username, user.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := h.Store.SetRefreshToken(r.Context(), user.ID, pair.RefreshToken); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	metrics.ObserveAuthEvent("refresh_ok")
	h.setTokenCookies(w, r, pair)
	writeData(w, http.StatusOK, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, "token refreshed")
}

// ChangePassword verifies the old password before storing a new hash.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := storage.CheckPassword(user.PasswordHash, req.OldPassword); err != nil {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid old password"))
		return
	}
	if err := h.Store.SetUserPassword(r.Context(), user.ID, req.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeData(w, http.StatusOK, nil, "password changed")
}

// CurrentUser returns the authenticated account.
func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, user, "current user")
}

// UpdateAccount replaces the mutable profile fields. fullName, email and
// username must all be present; username and email changes are re-checked
// against the uniqueness invariant inside the store.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, "PATCH")
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	var req updateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if blankField(req.FullName) || blankField(req.Email) || blankField(req.Username) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("fullName, email and username are required"))
		return
	}

	updated, err := h.Store.UpdateUser(r.Context(), user.ID, storage.UserUpdate{
		FullName: req.FullName,
		Email:    req.Email,
		Username: req.Username,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUserNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, storage.ErrDuplicateUser):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}
	writeData(w, http.StatusOK, updated, "account updated")
}

// UpdateAvatar replaces the avatar image. The previous asset is removed from
// the media host best effort after the record is updated.
func (h *Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, "avatar", func(url string) storage.UserUpdate {
		return storage.UserUpdate{AvatarURL: &url}
	}, func(user models.User) string { return user.AvatarURL })
}

// UpdateCoverImage replaces the cover image, same flow as UpdateAvatar.
func (h *Handler) UpdateCoverImage(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, "coverImage", func(url string) storage.UserUpdate {
		return storage.UserUpdate{CoverImageURL: &url}
	}, func(user models.User) string { return user.CoverImageURL })
}

func (h *Handler) updateImage(w http.ResponseWriter, r *http.Request, field string, buildUpdate func(string) storage.UserUpdate, currentURL func(models.User) string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, "PATCH")
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	form, err := readMultipartForm(r, h.stagingDir())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer form.discard()

	if form.file(field) == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s file is required", field))
		return
	}
	result := h.uploadStaged(r, form, field)
	if result == nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("%s upload failed", field))
		return
	}

	previous := currentURL(user)
	updated, err := h.Store.UpdateUser(r.Context(), user.ID, buildUpdate(result.URL))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if publicID := publicIDFromURL(previous); publicID != "" && h.Media != nil {
		_ = h.Media.Destroy(r.Context(), publicID)
	}
	writeData(w, http.StatusOK, updated, field+" updated")
}

// publicIDFromURL recovers the object key from a stored asset URL. Keys are
// always <kind>/<file>, the last two path segments.
func publicIDFromURL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) < 2 {
		return ""
	}
	return segments[len(segments)-2] + "/" + segments[len(segments)-1]
}

// WatchHistory returns the authenticated user's watch history references.
func (h *Handler) WatchHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	history := user.WatchHistory
	if history == nil {
		history = []string{}
	}
	writeData(w, http.StatusOK, history, "watch history")
}
