package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/geethx/workshop/internal/apperr"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Code      apperr.Kind    `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"requestId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// writeError maps err to its status code and error body. Errors without a
// kind are logged and reported as internal errors.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{RequestID: RequestID(r.Context())}

	e, ok := apperr.As(err)
	if !ok {
		slog.ErrorContext(r.Context(), "request failed", "req_id", body.RequestID,
			"method", r.Method, "path", r.URL.Path, "error", err)
		body.Code = apperr.KindInternal
		body.Message = "internal error"
		jsonResponse(w, http.StatusInternalServerError, body)
		return
	}

	body.Code = e.Kind
	body.Message = e.Message
	if len(e.Fields) > 0 {
		body.Details = map[string]any{"fields": e.Fields}
	}
	if e.CurrentStatus != "" {
		body.Details = map[string]any{"currentStatus": e.CurrentStatus}
	}

	status := apperr.HTTPStatus(e.Kind)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		slog.WarnContext(r.Context(), "request failed", "req_id", body.RequestID,
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	jsonResponse(w, status, body)
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("body", "max", "request body too large")
		}
		return apperr.Wrap(apperr.KindValidation, err, "invalid request body")
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("id", "number", "must be a positive integer")
	}
	return id, nil
}

func message(text string) map[string]string {
	return map[string]string{"message": text}
}
