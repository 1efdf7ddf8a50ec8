package services

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindInvalidParameter ErrorKind = "INVALID_PARAMETER"
	KindStoreFailure     ErrorKind = "STORE_FAILURE"
)

// Sentinels for errors.Is. A *ServiceError matches the sentinel of its kind.
var (
	ErrNotFound         = &ServiceError{Kind: KindNotFound}
	ErrInvalidParameter = &ServiceError{Kind: KindInvalidParameter}
	ErrStoreFailure     = &ServiceError{Kind: KindStoreFailure}
)

// ServiceError is returned by every recommendation operation.
type ServiceError struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func notFound(op, format string, args ...any) error {
	return &ServiceError{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

func invalidParameter(op, format string, args ...any) error {
	return &ServiceError{Kind: KindInvalidParameter, Op: op, Message: fmt.Sprintf(format, args...)}
}

// storeFailure wraps a driver error. Errors that already carry a kind pass through.
func storeFailure(op string, err error) error {
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}
	return &ServiceError{Kind: KindStoreFailure, Op: op, Message: "store query failed", Err: err}
}

// KindOf reports the kind of err, or "" when err is not a service error.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
