package server

import (
	"errors"
	"net/http"

	"streamnest/internal/api"
)

// writeMiddlewareError keeps middleware rejections in the same JSON envelope
// the handlers produce.
func writeMiddlewareError(w http.ResponseWriter, status int, message string) {
	api.WriteError(w, status, errors.New(message))
}
