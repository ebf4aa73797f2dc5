package llm

import "errors"

// APIError carries the HTTP status of an upstream failure alongside the
// provider's own error. Error() returns the upstream message unchanged.
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.Err == nil {
		return "llm: " + e.Provider + " request failed"
	}
	return e.Err.Error()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// StatusCode returns the upstream HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
