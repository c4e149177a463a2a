package domain

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned when an operation requires a signed-in user.
var ErrUnauthenticated = errors.New("no user logged in")

// ErrTaskNotFound is reported by stores when the addressed task does not exist.
var ErrTaskNotFound = errors.New("task not found")

// ValidationError reports a missing or malformed field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// RemoteFailure wraps an error returned by the remote store.
type RemoteFailure struct {
	Op  string
	Err error
}

func (e *RemoteFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteFailure) Unwrap() error { return e.Err }

// Kind classifies errors for callers that map them to responses.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthenticated
	KindValidation
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindValidation:
		return "validation"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// KindOf reports the kind of err, or KindUnknown for nil and foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, ErrUnauthenticated) {
		return KindUnauthenticated
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	var rf *RemoteFailure
	if errors.As(err, &rf) {
		return KindRemote
	}
	return KindUnknown
}
