package web

// errors.go turns failures into JSON responses.
//
// Technical errors are logged with the request ID; clients receive the raw
// error alongside the mapped message, action and support code from
// core.MapError.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/chxfer/internal/core"
	"github.com/JonMunkholm/chxfer/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes it as an ErrorResponse. A zero status
// is derived from the error's type.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	msg := core.MapError(err)

	log := logging.With(r.Context(), s.log)
	attrs := []any{"path", r.URL.Path, "status", status, "error", err.Error(), "code", msg.Code}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// respondResult writes a transfer outcome. Failed transfers keep their
// result body but get an error status.
func (s *Server) respondResult(w http.ResponseWriter, r *http.Request, res core.TransferResult) {
	status := http.StatusOK
	if !res.Success {
		status = statusFor(res.Err)
		logging.With(r.Context(), s.log).Warn("transfer failed",
			"path", r.URL.Path,
			"status", status,
			"code", res.Code,
		)
	}
	writeJSON(w, status, res)
}

// statusFor maps the engine's error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		partialErr *core.PartialWriteError
		inputErr   *core.MalformedInputError
		schemaErr  *core.SchemaError
		connErr    *core.ConnectivityError
	)
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.As(err, &partialErr):
		return http.StatusInternalServerError
	case errors.Is(err, core.ErrTooManyTransfers):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &inputErr):
		return http.StatusBadRequest
	case errors.As(err, &schemaErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &connErr), errors.Is(err, core.ErrPoolClosed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v as the response body. Encoding errors are ignored
// since the header is already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
