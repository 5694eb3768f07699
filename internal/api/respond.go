package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dunamismax/pixelkit/internal/domain"
)

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	decoder.UseNumber()
	if err := decoder.Decode(into); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.ValidationError("body", "request body is empty")
		}
		return domain.ValidationError("body", fmt.Sprintf("invalid JSON body: %v", err))
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return domain.ValidationError("body", "invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeResult writes the Result envelope with the status its outcome maps to.
// okStatus is used on success.
func writeResult(w http.ResponseWriter, okStatus int, res domain.Result) {
	if res.OK() {
		writeJSON(w, okStatus, res)
		return
	}
	writeJSON(w, statusForKind(res.Failure.Kind), res)
}

func writeFailure(w http.ResponseWriter, err error) {
	writeResult(w, http.StatusOK, domain.FailureFrom(err))
}

// writeFailureStatus writes a failure envelope whose status does not follow
// from its kind, such as a server-side fault or a throttled request.
func writeFailureStatus(w http.ResponseWriter, status int, kind domain.ErrorKind, reason string) {
	writeJSON(w, status, domain.Failed(kind, reason))
}

// statusForKind maps a failure kind to an HTTP status. Cancelled is not an
// error from the caller's point of view.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindCancelled:
		return http.StatusOK
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindPermissionDenied:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindUnsupported:
		return http.StatusUnprocessableEntity
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
