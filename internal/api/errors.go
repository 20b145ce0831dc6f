package api

import (
	"encoding/json"
	"net/http"

	"github.com/bull/docchat/internal/apperr"
)

// errorBody is the JSON shape every failed request gets back.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	case apperr.KindModel:
		return http.StatusBadGateway
	case apperr.KindConsistency:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path,
			"status", status, "error", err)
	} else {
		s.logger.Info("Request rejected", "method", r.Method, "path", r.URL.Path,
			"status", status, "error", err)
	}
	writeJSON(w, status, errorBody{
		Kind:    apperr.KindOf(err).String(),
		Message: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
