package client

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable    = errors.New("server unavailable")
	ErrSessionExpired = errors.New("passkey session expired")
)

// NetworkError is a transport-level failure; the request may not have
// reached the server. It matches ErrUnavailable.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrUnavailable }

// ServerError is a non-2xx response. Message is the server-provided
// human-readable message, if the body carried one.
type ServerError struct {
	Op      string
	Status  int
	Body    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Status)
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not a
// *ServerError.
func StatusCode(err error) int {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// ServerMessage returns the server-provided message carried by err, if any.
func ServerMessage(err error) string {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Message
	}
	return ""
}
