package api

import (
	"fmt"
	"net/http"
	"os"

	"streamnest/internal/auth"
	"streamnest/internal/media"
	"streamnest/internal/storage"
)

type Handler struct {
	Store        storage.Repository
	Tokens       *auth.TokenService
	Media        media.Gateway
	CookiePolicy SessionCookiePolicy

	// StagingDir receives multipart file parts before they are handed to the
	// media gateway. Defaults to the OS temp dir.
	StagingDir string
}

func NewHandler(store storage.Repository, tokens *auth.TokenService, gateway media.Gateway) *Handler {
	return &Handler{
		Store:        store,
		Tokens:       tokens,
		Media:        gateway,
		CookiePolicy: DefaultSessionCookiePolicy(),
	}
}

func (h *Handler) stagingDir() string {
	if h.StagingDir != "" {
		return h.StagingDir
	}
	return os.TempDir()
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	status := "ok"
	httpStatus := http.StatusOK
	if err := h.Store.Ping(r.Context()); err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	writeData(w, httpStatus, map[string]string{"status": status}, "health check")
}
