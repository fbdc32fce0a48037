package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized means the backend refused the bearer token.
	ErrUnauthorized = errors.New("backend: unauthorized")
	// ErrTransport means no usable response was received.
	ErrTransport = errors.New("backend: transport failure")
)

// RejectionError is a response the backend sent on purpose: a non-2xx
// status or an envelope with success set to false.
type RejectionError struct {
	Status  int
	Message string
}

func (e *RejectionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: rejected with status %d", e.Status)
	}
	return fmt.Sprintf("backend: rejected with status %d: %s", e.Status, e.Message)
}

// Is makes 401 and 403 rejections match ErrUnauthorized.
func (e *RejectionError) Is(target error) bool {
	return target == ErrUnauthorized && (e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}

const (
	msgSessionExpired = "Session expired. Please login again."
	msgTimeout        = "The request timed out. Please try again."
)

// Describe turns a client error into the text shown to the operator.
// Messages sent by the backend are surfaced verbatim.
func Describe(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var rej *RejectionError
	if errors.As(err, &rej) && rej.Message != "" {
		return rej.Message
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return msgSessionExpired
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	}
	return fallback
}

func outcomeOf(err error) string {
	var rej *RejectionError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.As(err, &rej):
		return "rejected"
	}
	return "transport"
}
