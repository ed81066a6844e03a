package market

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSymbolNotFound indicates that the provider does not list the symbol.
	ErrSymbolNotFound = errors.New("market: symbol not found")
	// ErrUnsupportedAdjust is returned by providers that cannot serve the requested adjustment.
	ErrUnsupportedAdjust = errors.New("market: adjustment not supported")
	// ErrMalformedPayload marks an upstream answer that could not be decoded.
	ErrMalformedPayload = errors.New("market: malformed payload")
)

// APIError is a non-2xx answer from an upstream HTTP API.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: api error status=%d endpoint=%s: %s", e.Provider, e.StatusCode, e.Endpoint, e.Message)
}

// Temporary reports whether retrying the call may succeed (429 and 5xx).
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsPermanent reports whether err can never succeed on retry.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSymbolNotFound) || errors.Is(err, ErrUnsupportedAdjust) || errors.Is(err, ErrMalformedPayload) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Temporary()
	}
	return false
}
