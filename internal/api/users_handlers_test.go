package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"streamnest/internal/auth"
	"streamnest/internal/media"
	"streamnest/internal/models"
	"streamnest/internal/storage"
)

type fakeGateway struct {
	failUploads map[string]bool
	uploads     []string
	destroyed   []string
}

func (g *fakeGateway) Upload(ctx context.Context, localPath string) *media.UploadResult {
	if localPath == "" {
		return nil
	}
	defer os.Remove(localPath)
	name := filepath.Base(localPath)
	g.uploads = append(g.uploads, name)
	for marker := range g.failUploads {
		if strings.Contains(name, marker) {
			return nil
		}
	}
	kind := media.ClassifyPath(localPath)
	key := string(kind) + "/" + name
	return &media.UploadResult{
		URL:      "https://cdn.example.com/" + key,
		PublicID: key,
		Kind:     kind,
	}
}

func (g *fakeGateway) Destroy(ctx context.Context, publicID string) error {
	g.destroyed = append(g.destroyed, publicID)
	return nil
}

type testEnv struct {
	handler *Handler
	store   *storage.JSONStore
	gateway *fakeGateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewJSONStore(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewJSONStore: %v", err)
	}
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "test-access-secret",
		RefreshSecret: "test-refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	gateway := &fakeGateway{failUploads: make(map[string]bool)}
	handler := NewHandler(store, tokens, gateway)
	handler.StagingDir = t.TempDir()
	return &testEnv{handler: handler, store: store, gateway: gateway}
}

// authed replicates the server's auth middleware: validate the request token
// and stash the user on the context before invoking the handler.
func (e *testEnv) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := e.handler.AuthenticateRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next(w, r.WithContext(ContextWithUser(r.Context(), user)))
	}
}

type multipartSpec struct {
	fields map[string]string
	files  map[string]string // field name -> filename
}

func newMultipartRequest(t *testing.T, method, target string, spec multipartSpec) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range spec.fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("write field %s: %v", name, err)
		}
	}
	for name, filename := range spec.files {
		part, err := writer.CreateFormFile(name, filename)
		if err != nil {
			t.Fatalf("create file part %s: %v", name, err)
		}
		if _, err := part.Write([]byte("file-bytes")); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func registerSpec(overrides map[string]string) multipartSpec {
	fields := map[string]string{
		"fullName": "Jane Doe",
		"email":    "jane@example.com",
		"username": "JaneD",
		"password": "secret123",
	}
	for k, v := range overrides {
		fields[k] = v
	}
	return multipartSpec{
		fields: fields,
		files:  map[string]string{"avatar": "avatar.png"},
	}
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rec.Body.String())
	}
	return payload
}

func registerUser(t *testing.T, env *testEnv) models.User {
	t.Helper()
	rec := httptest.NewRecorder()
	env.handler.Register(rec, newMultipartRequest(t, http.MethodPost, "/users/register", registerSpec(nil)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	user, ok, err := env.store.FindByIdentity(context.Background(), "janed", "")
	if err != nil || !ok {
		t.Fatalf("registered user missing: ok=%v err=%v", ok, err)
	}
	return user
}

func loginUser(t *testing.T, env *testEnv) (models.User, tokenPairResponse) {
	t.Helper()
	user := registerUser(t, env)
	rec := httptest.NewRecorder()
	body, _ := json.Marshal(loginRequest{Username: "janed", Password: "secret123"})
	env.handler.Login(rec, httptest.NewRequest(http.MethodPost, "/users/login", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	payload := decodeEnvelope(t, rec)
	data := payload["data"].(map[string]any)
	return user, tokenPairResponse{
		AccessToken:  data["accessToken"].(string),
		RefreshToken: data["refreshToken"].(string),
	}
}

func TestRegisterSuccess(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handler.Register(rec, newMultipartRequest(t, http.MethodPost, "/users/register", registerSpec(nil)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	payload := decodeEnvelope(t, rec)
	if payload["success"] != true {
		t.Fatalf("expected success=true, got %v", payload["success"])
	}
	if payload["statusCode"] != float64(http.StatusCreated) {
		t.Fatalf("expected statusCode 201, got %v", payload["statusCode"])
	}
	data := payload["data"].(map[string]any)
	if data["username"] != "janed" {
		t.Fatalf("expected normalized username janed, got %v", data["username"])
	}
	if _, leaked := data["passwordHash"]; leaked {
		t.Fatal("response must not contain passwordHash")
	}
	if _, leaked := data["refreshToken"]; leaked {
		t.Fatal("response must not contain refreshToken")
	}
	avatarURL, _ := data["avatarUrl"].(string)
	if !strings.HasPrefix(avatarURL, "https://cdn.example.com/image/") {
		t.Fatalf("unexpected avatar url %v", data["avatarUrl"])
	}
}

func TestRegisterValidation(t *testing.T) {
	for _, field := range []string{"fullName", "email", "username", "password"} {
		t.Run("blank "+field, func(t *testing.T) {
			env := newTestEnv(t)
			rec := httptest.NewRecorder()
			spec := registerSpec(map[string]string{field: "   "})
			env.handler.Register(rec, newMultipartRequest(t, http.MethodPost, "/users/register", spec))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if _, ok, _ := env.store.FindByIdentity(context.Background(), "janed", "jane@example.com"); ok {
				t.Fatal("no record may be created on validation failure")
			}
		})
	}
}

func TestRegisterRequiresAvatar(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	spec := registerSpec(nil)
	spec.files = nil
	env.handler.Register(rec, newMultipartRequest(t, http.MethodPost, "/users/register", spec))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRegisterDuplicate(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env)

	rec := httptest.NewRecorder()
	spec := registerSpec(map[string]string{"username": "JANED", "email": "other@example.com"})
	env.handler.Register(rec, newMultipartRequest(t, http.MethodPost, "/users/register", spec))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate username, got %d", rec.Code)
	}
	payload := decodeEnvelope(t, rec)
	if payload["success"] != false {
		t.Fatalf("expected success=false, got %v", payload["success"])
	}
}

func TestRegisterAvatarUploadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.failUploads[".png"] = true
	rec := httptest.NewRecorder()
	env.handler.Register(rec, newMultipartRequest(t, http.MethodPost, "/users/register", registerSpec(nil)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on avatar upload failure, got %d", rec.Code)
	}
	if _, ok, _ := env.store.FindByIdentity(context.Background(), "janed", ""); ok {
		t.Fatal("no record may be created when the avatar upload fails")
	}
}

func TestRegisterCoverImageFailureDowngrades(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.failUploads[".jpg"] = true
	spec := registerSpec(nil)
	spec.files["coverImage"] = "cover.jpg"

	rec := httptest.NewRecorder()
	env.handler.Register(rec, newMultipartRequest(t, http.MethodPost, "/users/register", spec))
	if rec.Code != http.StatusCreated {
		t.Fatalf("cover failure must not abort registration, got %d (%s)", rec.Code, rec.Body.String())
	}
	user, _, _ := env.store.FindByIdentity(context.Background(), "janed", "")
	if user.CoverImageURL != "" {
		t.Fatalf("expected empty cover url, got %q", user.CoverImageURL)
	}
	if user.AvatarURL == "" {
		t.Fatal("avatar url must still be set")
	}
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	user, pair := loginUser(t, env)

	stored, _, _ := env.store.GetUser(context.Background(), user.ID)
	if stored.RefreshToken != pair.RefreshToken {
		t.Fatal("stored refresh token must equal the issued refresh token")
	}
}

func TestLoginSetsCookies(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env)

	rec := httptest.NewRecorder()
	body, _ := json.Marshal(loginRequest{Email: "jane@example.com", Password: "secret123"})
	env.handler.Login(rec, httptest.NewRequest(http.MethodPost, "/users/login", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	names := map[string]bool{}
	for _, cookie := range rec.Result().Cookies() {
		names[cookie.Name] = true
		if !cookie.HttpOnly {
			t.Errorf("cookie %s must be HttpOnly", cookie.Name)
		}
		if cookie.SameSite != http.SameSiteStrictMode {
			t.Errorf("cookie %s must be SameSite=Strict", cookie.Name)
		}
	}
	if !names["accessToken"] || !names["refreshToken"] {
		t.Fatalf("expected both token cookies, got %v", names)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	user, pair := loginUser(t, env)

	rec := httptest.NewRecorder()
	body, _ := json.Marshal(loginRequest{Username: "janed", Password: "wrong-password"})
	env.handler.Login(rec, httptest.NewRequest(http.MethodPost, "/users/login", bytes.NewReader(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	stored, _, _ := env.store.GetUser(context.Background(), user.ID)
	if stored.RefreshToken != pair.RefreshToken {
		t.Fatal("failed login must leave the stored refresh token unchanged")
	}
}

func TestLoginUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	body, _ := json.Marshal(loginRequest{Username: "nobody", Password: "secret123"})
	env.handler.Login(rec, httptest.NewRequest(http.MethodPost, "/users/login", bytes.NewReader(body)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestLogoutClearsRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	user, pair := loginUser(t, env)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/users/logout", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	env.authed(env.handler.Logout)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	stored, _, _ := env.store.GetUser(context.Background(), user.ID)
	if stored.RefreshToken != "" {
		t.Fatal("logout must clear the stored refresh token")
	}
	cleared := 0
	for _, cookie := range rec.Result().Cookies() {
		if cookie.MaxAge < 0 {
			cleared++
		}
	}
	if cleared != 2 {
		t.Fatalf("expected both cookies cleared, got %d", cleared)
	}

	// The rotated-out token no longer refreshes.
	rec = httptest.NewRecorder()
	body, _ := json.Marshal(refreshRequest{RefreshToken: pair.RefreshToken})
	env.handler.RefreshToken(rec, httptest.NewRequest(http.MethodPost, "/users/refresh-token", bytes.NewReader(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for logged-out refresh token, got %d", rec.Code)
	}
}

func TestRefreshTokenRotation(t *testing.T) {
	env := newTestEnv(t)
	_, pair := loginUser(t, env)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/users/refresh-token", nil)
	req.AddCookie(&http.Cookie{Name: refreshTokenCookie, Value: pair.RefreshToken})
	env.handler.RefreshToken(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	payload := decodeEnvelope(t, rec)
	data := payload["data"].(map[string]any)
	rotated, _ := data["refreshToken"].(string)
	if rotated == "" {
		t.Fatal("expected a new refresh token")
	}

	// The superseded token is rejected.
	rec = httptest.NewRecorder()
	body, _ := json.Marshal(refreshRequest{RefreshToken: pair.RefreshToken})
	env.handler.RefreshToken(rec, httptest.NewRequest(http.MethodPost, "/users/refresh-token", bytes.NewReader(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for superseded token, got %d", rec.Code)
	}
}

func TestRefreshTokenGarbage(t *testing.T) {
	env := newTestEnv(t)
	for _, token := range []string{"", "garbage"} {
		rec := httptest.NewRecorder()
		var req *http.Request
		if token == "" {
			req = httptest.NewRequest(http.MethodPost, "/users/refresh-token", nil)
		} else {
			body, _ := json.Marshal(refreshRequest{RefreshToken: token})
			req = httptest.NewRequest(http.MethodPost, "/users/refresh-token", bytes.NewReader(body))
		}
		env.handler.RefreshToken(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %d", token, rec.Code)
		}
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	_, pair := loginUser(t, env)

	// Wrong old password is rejected.
	rec := httptest.NewRecorder()
	body, _ := json.Marshal(changePasswordRequest{OldPassword: "wrong", NewPassword: "newsecret"})
	req := httptest.NewRequest(http.MethodPost, "/users/change-password", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	env.authed(env.handler.ChangePassword)(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong old password, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	body, _ = json.Marshal(changePasswordRequest{OldPassword: "secret123", NewPassword: "newsecret"})
	req = httptest.NewRequest(http.MethodPost, "/users/change-password", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	env.authed(env.handler.ChangePassword)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	// New password logs in, old one does not.
	rec = httptest.NewRecorder()
	body, _ = json.Marshal(loginRequest{Username: "janed", Password: "newsecret"})
	env.handler.Login(rec, httptest.NewRequest(http.MethodPost, "/users/login", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login with new password: expected 200, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	body, _ = json.Marshal(loginRequest{Username: "janed", Password: "secret123"})
	env.handler.Login(rec, httptest.NewRequest(http.MethodPost, "/users/login", bytes.NewReader(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("login with old password: expected 401, got %d", rec.Code)
	}
}

func TestCurrentUser(t *testing.T) {
	env := newTestEnv(t)
	_, pair := loginUser(t, env)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users/current-user", nil)
	req.AddCookie(&http.Cookie{Name: accessTokenCookie, Value: pair.AccessToken})
	env.authed(env.handler.CurrentUser)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	payload := decodeEnvelope(t, rec)
	data := payload["data"].(map[string]any)
	if data["username"] != "janed" {
		t.Fatalf("unexpected user payload %v", data)
	}
}

func TestCurrentUserUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.authed(env.handler.CurrentUser)(rec, httptest.NewRequest(http.MethodGet, "/users/current-user", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}
}

func TestUpdateAccount(t *testing.T) {
	env := newTestEnv(t)
	_, pair := loginUser(t, env)

	rec := httptest.NewRecorder()
	body := []byte(`{"fullName":"Jane Q. Doe","email":"jane@example.com","username":"janed"}`)
	req := httptest.NewRequest(http.MethodPatch, "/users/update-account", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	env.authed(env.handler.UpdateAccount)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	payload := decodeEnvelope(t, rec)
	data := payload["data"].(map[string]any)
	if data["fullName"] != "Jane Q. Doe" {
		t.Fatalf("unexpected full name %v", data["fullName"])
	}
}

func TestUpdateAccountRequiresAllFields(t *testing.T) {
	env := newTestEnv(t)
	_, pair := loginUser(t, env)

	bodies := []string{
		`{}`,
		`{"fullName":"Only Name"}`,
		`{"fullName":"Jane","email":"jane@example.com"}`,
		`{"fullName":"Jane","email":"jane@example.com","username":"  "}`,
	}
	for _, body := range bodies {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/users/update-account", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		env.authed(env.handler.UpdateAccount)(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d (%s)", body, rec.Code, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users/current-user", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	env.authed(env.handler.CurrentUser)(rec, req)
	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	if data["fullName"] != "Jane Doe" {
		t.Fatalf("rejected update must not mutate the record, got %v", data["fullName"])
	}
}

func TestUpdateAccountDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	_, pair := loginUser(t, env)
	if _, err := env.store.CreateUser(context.Background(), storage.CreateUserParams{
		FullName: "Other", Email: "other@example.com",
		Username: "other", Password: "secret123",
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/users/update-account", strings.NewReader(`{"fullName":"Jane Doe","email":"other@example.com","username":"janed"}`))
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	env.authed(env.handler.UpdateAccount)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for colliding email, got %d", rec.Code)
	}
}

func TestUpdateAvatarReplacesAndDestroysOld(t *testing.T) {
	env := newTestEnv(t)
	user, pair := loginUser(t, env)
	oldID := publicIDFromURL(user.AvatarURL)
	if oldID == "" {
		t.Fatalf("cannot derive public id from %q", user.AvatarURL)
	}

	rec := httptest.NewRecorder()
	req := newMultipartRequest(t, http.MethodPatch, "/users/update-avatar", multipartSpec{
		files: map[string]string{"avatar": "newavatar.png"},
	})
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	env.authed(env.handler.UpdateAvatar)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	updated, _, _ := env.store.GetUser(context.Background(), user.ID)
	if updated.AvatarURL == user.AvatarURL {
		t.Fatal("avatar url must change")
	}
	if len(env.gateway.destroyed) != 1 || env.gateway.destroyed[0] != oldID {
		t.Fatalf("expected old asset %q destroyed, got %v", oldID, env.gateway.destroyed)
	}
}

func TestUpdateAvatarMissingFile(t *testing.T) {
	env := newTestEnv(t)
	_, pair := loginUser(t, env)

	rec := httptest.NewRecorder()
	req := newMultipartRequest(t, http.MethodPatch, "/users/update-avatar", multipartSpec{
		fields: map[string]string{"note": "no file"},
	})
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	env.authed(env.handler.UpdateAvatar)(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateCoverImage(t *testing.T) {
	env := newTestEnv(t)
	user, pair := loginUser(t, env)

	rec := httptest.NewRecorder()
	req := newMultipartRequest(t, http.MethodPatch, "/users/update-coverImage", multipartSpec{
		files: map[string]string{"coverImage": "cover.jpg"},
	})
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	env.authed(env.handler.UpdateCoverImage)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	updated, _, _ := env.store.GetUser(context.Background(), user.ID)
	if updated.CoverImageURL == "" {
		t.Fatal("cover image url must be set")
	}
}

func TestWatchHistoryEmpty(t *testing.T) {
	env := newTestEnv(t)
	_, pair := loginUser(t, env)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users/watch-history", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	env.authed(env.handler.WatchHistory)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeEnvelope(t, rec)
	data, ok := payload["data"].([]any)
	if !ok {
		t.Fatalf("expected array data, got %T", payload["data"])
	}
	if len(data) != 0 {
		t.Fatalf("expected empty history, got %v", data)
	}
}

func TestStagingDirEmptyAfterRegister(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env)

	entries, err := os.ReadDir(env.handler.StagingDir)
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		t.Fatalf("staging dir must be empty after upload, found %v", names)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name    string
		handler http.HandlerFunc
		method  string
	}{
		{"register", env.handler.Register, http.MethodGet},
		{"login", env.handler.Login, http.MethodGet},
		{"refresh", env.handler.RefreshToken, http.MethodGet},
		{"update-account", env.handler.UpdateAccount, http.MethodPost},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.handler(rec, httptest.NewRequest(tc.method, "/", nil))
			if rec.Code != http.StatusMethodNotAllowed {
				t.Fatalf("expected 405, got %d", rec.Code)
			}
			if rec.Header().Get("Allow") == "" {
				t.Fatal("expected Allow header")
			}
		})
	}
}

func TestErrorEnvelopeShape(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	body, _ := json.Marshal(loginRequest{Username: "nobody", Password: "secret123"})
	env.handler.Login(rec, httptest.NewRequest(http.MethodPost, "/users/login", bytes.NewReader(body)))

	payload := decodeEnvelope(t, rec)
	if payload["statusCode"] != float64(http.StatusNotFound) {
		t.Fatalf("expected statusCode 404, got %v", payload["statusCode"])
	}
	if payload["success"] != false {
		t.Fatalf("expected success=false, got %v", payload["success"])
	}
	if msg, _ := payload["message"].(string); msg == "" {
		t.Fatal("expected a message")
	}
	if _, ok := payload["errors"].([]any); !ok {
		t.Fatalf("expected errors array, got %T", payload["errors"])
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeEnvelope(t, rec)
	data := payload["data"].(map[string]any)
	if data["status"] != "ok" {
		t.Fatalf("unexpected health payload %v", data)
	}
}
