package teo

import (
	"errors"
	"fmt"
)

// ConfigError reports invalid caller input. It is raised before any signing or
// network activity takes place.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("teo: invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("teo: invalid configuration: %s", e.Message)
}

// APIError is an error object returned by the EdgeOne API inside the response envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("teo: [%s] %s", e.Code, e.Message)
}

// TransportError covers connection failures, unreadable bodies and responses
// that do not carry the expected envelope.
type TransportError struct {
	Detail string
	Err    error
}

// Error implements the error interface for TransportError.
func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("teo: %s: %v", e.Detail, e.Err)
	}
	return "teo: " + e.Detail
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Sentinel errors wrapped by TransportError.
var (
	ErrMalformedResponse = errors.New("malformed response")
	ErrUnexpectedStatus  = errors.New("unexpected HTTP status")
)
