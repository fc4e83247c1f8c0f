package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound marks an unresolved source specifier, run or remote resource.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks throttling, timeouts and connection resets that may succeed on retry.
	ErrTransient = errors.New("transient remote failure")
	// ErrRemote marks a transient failure that exhausted its retry budget.
	ErrRemote = errors.New("remote error")
	// ErrRejected marks requests the remote service refused, such as malformed filters or queries.
	ErrRejected = errors.New("rejected by remote service")
	// ErrUnauthorized marks missing, expired or insufficient credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStore marks local history database failures.
	ErrStore = errors.New("history store error")
	// ErrValidation marks invalid caller input detected before any remote call.
	ErrValidation = errors.New("validation error")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether err is worth retrying under a backoff policy.
func IsRetryable(err error) bool {
	if err == nil || IsCancellation(err) {
		return false
	}
	return errors.Is(err, ErrTransient) && !errors.Is(err, ErrRemote)
}

// IsCancellation reports whether err stems from context cancellation rather
// than a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Kind returns a short classification label for logs and summaries.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsCancellation(err):
		return "cancelled"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrRemote):
		return "remote"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrStore):
		return "store"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unknown"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
