package feed

import (
	"errors"
	"fmt"
)

var (
	ErrConnection       = errors.New("feed connection error")
	ErrAuthRejected     = errors.New("feed authentication rejected")
	ErrHandshakeTimeout = errors.New("feed handshake timed out")
	ErrNotAuthenticated = errors.New("feed session not authenticated")
	ErrMalformedMessage = errors.New("malformed feed message")
	ErrUnknownKind      = errors.New("unknown subscription kind")
	ErrEmptySymbol      = errors.New("symbol is required")
)

// HandshakeError reports why the login sequence did not reach the ready state.
type HandshakeError struct {
	Cause error
	Line  string
}

func (e *HandshakeError) Error() string {
	if e.Line == "" {
		return e.Cause.Error()
	}
	return fmt.Sprintf("%s: %s", e.Cause.Error(), e.Line)
}

func (e *HandshakeError) Unwrap() error {
	return e.Cause
}
