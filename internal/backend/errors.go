package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError reports a non-2xx response from the analysis backend whose
// body carried no usable payload.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.Code)
}

// statusCode extracts the HTTP status from err, or 0 for transport errors.
func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsValidation reports an HTTP 422 response (malformed URL, wrong upload
// format and friends).
func IsValidation(err error) bool {
	return statusCode(err) == http.StatusUnprocessableEntity
}

// IsNotFound reports an HTTP 404 response.
func IsNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

// IsServerError reports an HTTP 5xx response.
func IsServerError(err error) bool {
	return statusCode(err) >= 500
}
