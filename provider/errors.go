package provider

import (
	"context"
	"errors"
	"net"

	"github.com/MindCtrl01/template-backend/models"
)

// Error is a classified provider failure. Retry decisions are a pure
// function of the Kind.
type Error struct {
	Kind       models.ErrorKind
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	return e.Message
}

// Classify maps an error to its kind. Unclassified errors are unknown and
// retried conservatively.
func Classify(err error) models.ErrorKind {
	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return models.ErrorKindTimeout
		}
		return models.ErrorKindNetwork
	}

	return models.ErrorKindUnknown
}

// IsTransient reports whether a failed call may succeed on retry.
func IsTransient(err error) bool {
	switch Classify(err) {
	case models.ErrorKindNetwork, models.ErrorKindTimeout, models.ErrorKindProviderAPI:
		return true
	default:
		return false
	}
}
