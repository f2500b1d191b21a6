package httpclient

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed fetch
type ErrorKind string

const (
	// KindRateLimited is an HTTP 429 response; retried with exponential backoff
	KindRateLimited ErrorKind = "rate_limited"

	// KindServerError is an HTTP 5xx response; retried with linear backoff
	KindServerError ErrorKind = "server_error"

	// KindNetworkError is a connection, TLS or timeout failure; retried with linear backoff
	KindNetworkError ErrorKind = "network_error"

	// KindClientError is any other 4xx response; never retried
	KindClientError ErrorKind = "client_error"

	// KindProtocolError is a successful response whose body is not usable JSON; never retried
	KindProtocolError ErrorKind = "protocol_error"
)

// FetchError is returned by every Client for a failed request
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	URL        string
	Message    string
	Err        error
}

// Error returns the error message
func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d for URL %s: %s", e.Kind, e.StatusCode, e.URL, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s for URL %s: %v", e.Kind, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s for URL %s: %s", e.Kind, e.URL, e.Message)
	}
}

// Unwrap returns the underlying transport error, if any
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the retry policy applies to this error
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServerError, KindNetworkError:
		return true
	default:
		return false
	}
}

// KindOf extracts the ErrorKind from err, if it wraps a FetchError
func KindOf(err error) (ErrorKind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// newStatusError classifies a non-success HTTP status
func newStatusError(statusCode int, url, body string) *FetchError {
	kind := KindClientError
	switch {
	case statusCode == 429:
		kind = KindRateLimited
	case statusCode >= 500:
		kind = KindServerError
	}
	return &FetchError{Kind: kind, StatusCode: statusCode, URL: url, Message: body}
}
