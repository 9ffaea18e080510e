package web

// errors.go turns errors into JSON responses.
//
// Every error is mapped through core.MapError. The technical error is
// logged with the request id; the client only sees the mapped message,
// action and code. The HTTP status is derived from the code.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/amrglass/internal/core"
	"github.com/JonMunkholm/amrglass/internal/logging"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errNoQueue     = errors.New("queue unavailable: background jobs are not configured")
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// statusByCode maps user error codes to HTTP statuses. Codes not listed
// fall back on their prefix in statusFor.
var statusByCode = map[string]int{
	"BP002":   http.StatusBadRequest,
	"FILE001": http.StatusRequestEntityTooLarge,
	"JOB001":  http.StatusNotFound,
	"JOB002":  http.StatusServiceUnavailable,
	"JOB003":  http.StatusServiceUnavailable,
	"JOB004":  http.StatusNotFound,
	"REQ001":  http.StatusRequestTimeout,
	"REQ002":  http.StatusGatewayTimeout,
	"RATE001": http.StatusTooManyRequests,
}

func statusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	switch {
	case strings.HasPrefix(code, "VAL"), strings.HasPrefix(code, "FILE"), strings.HasPrefix(code, "VOC"):
		return http.StatusBadRequest
	case strings.HasPrefix(code, "BP"):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError maps err to a user message and writes it as JSON.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := core.MapError(err)
	status := statusFor(msg.Code)
	requestID := chimw.GetReqID(r.Context())

	logger := logging.FromContext(r.Context())
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	if status == http.StatusServiceUnavailable && w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", "30")
	}
	writeJSONStatus(w, status, ErrorResponse{
		Error:     msg.Message,
		Message:   msg.Message,
		Action:    msg.Action,
		Code:      msg.Code,
		RequestID: requestID,
	})
}

// writeJSON encodes v with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v. Encoding errors are only logged since the
// header is already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
