package client

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/inat-client/pkg/ratelimit"
)

// Common errors returned by the client.
var (
	// ErrQueryCancelled is returned when a pending cancellation is observed
	// before a call. It is the same value as ratelimit.ErrCancelled.
	ErrQueryCancelled = ratelimit.ErrCancelled

	// ErrTransport is matched by every TransportError.
	ErrTransport = errors.New("transport failure")

	// ErrEntityNotFound is returned when an id lookup yields no results.
	ErrEntityNotFound = errors.New("entity not found")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a 2xx response whose body is not JSON.
	ErrorClassDecode ErrorClass = "decode"
)

// TransportError is a failed upstream call. It is never retried by the client.
type TransportError struct {
	URL        string
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("iNaturalist %s error (status %d) for %s: %s: %v",
			e.ErrorClass, e.StatusCode, e.URL, e.Message, e.Err)
	}
	return fmt.Sprintf("iNaturalist %s error (status %d) for %s: %s",
		e.ErrorClass, e.StatusCode, e.URL, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes every TransportError match ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// classifyStatus maps an HTTP status to an error class. 2xx and 3xx map to "".
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == 429:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
