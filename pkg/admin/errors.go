package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/secgw/messagelog/pkg/archive"
	"github.com/secgw/messagelog/pkg/messagelog"
	"github.com/secgw/messagelog/pkg/taskqueue"
)

// statusFor maps a domain error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, taskqueue.ErrCircuitOpen):
		return http.StatusServiceUnavailable, string(messagelog.CodeTimestampingFailed)
	case errors.Is(err, taskqueue.ErrQueueStopped):
		return http.StatusServiceUnavailable, "queue_stopped"
	case errors.Is(err, archive.ErrNotLeader):
		return http.StatusConflict, "not_leader"
	case errors.Is(err, archive.ErrAlreadyRunning):
		return http.StatusConflict, "already_running"
	}

	switch code := messagelog.CodeOf(err); code {
	case messagelog.CodeValidation:
		return http.StatusBadRequest, string(code)
	case messagelog.CodeRecordNotFound:
		return http.StatusNotFound, string(code)
	case messagelog.CodeTimestampingFailed, messagelog.CodeNoTimestampingProvider:
		return http.StatusServiceUnavailable, string(code)
	case messagelog.CodeTimestampFailed:
		return http.StatusBadGateway, string(code)
	case "":
		return http.StatusInternalServerError, "internal_error"
	default:
		return http.StatusInternalServerError, string(code)
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "code", code, "error", err)
	}
	writeError(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
