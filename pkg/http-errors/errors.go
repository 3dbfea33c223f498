// Package httpErrors maps domain error codes onto HTTP responses. Handlers
// never pick status codes by hand; the mapping lives in one place.
package httpErrors

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "schoolhub/pkg/domain-errors"
)

// ToHTTPStatus translates a domain code into an HTTP status.
func ToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeAccessDenied:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeTenantUnavailable:
		return http.StatusServiceUnavailable
	default:
		// Integrity mismatches, invariant violations, and anything uncoded
		// are server-side faults.
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the domain code, or internal_error for uncoded failures.
func CodeOf(err error) dErrors.Code {
	var e *dErrors.Error
	if errors.As(err, &e) {
		return e.Code
	}
	return dErrors.CodeInternal
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    dErrors.Code `json:"code"`
	Message string       `json:"message"`
}

// Render writes the error as a JSON body with the mapped status.
func Render(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ToHTTPStatus(code))
	json.NewEncoder(w).Encode(errorBody{ //nolint:errcheck // response is already committed
		Error: errorDetail{Code: code, Message: err.Error()},
	})
}
