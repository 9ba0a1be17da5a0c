package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/sirupsen/logrus"
)

const (
	codePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	codeRateLimited     = "RATE_LIMITED"
)

type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	Timestamp string `json:"timestamp"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data, Timestamp: now()})
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Error: message, Code: code, Timestamp: now()})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindUnsupported:
		return http.StatusUnsupportedMediaType
	case domain.KindProcessing:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err without leaking internals: server-side kinds get a
// generic message and the detail goes to the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeFailure(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge, "upload exceeds size limit")
		return
	}

	kind := domain.KindOf(err)
	status := statusFor(kind)
	message := err.Error()
	switch kind {
	case domain.KindStorage:
		message = "storage unavailable"
	case domain.KindInternal:
		message = "internal server error"
	case domain.KindUnauthorized:
		if errors.Is(err, domain.ErrInvalidCredentials) {
			message = "invalid credentials"
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"request_id": requestIDFrom(r.Context()),
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
	}
	writeFailure(w, status, string(kind), message)
}
