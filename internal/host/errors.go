package host

import (
	"errors"
	"fmt"

	"github.com/drip-org/drip/internal/model"
)

// ErrorKind classifies host API failures.
type ErrorKind int

const (
	// KindTransient covers network failures and 5xx responses. The client
	// retries these before surfacing them.
	KindTransient ErrorKind = iota
	// KindPermanent covers 4xx responses, missing entities, and malformed
	// states. Retrying cannot help.
	KindPermanent
)

// Error is a classified host API failure.
type Error struct {
	Kind       ErrorKind
	Ref        model.EntityRef
	StatusCode int
	Err        error
}

// Error implements error.
func (e *Error) Error() string {
	kind := "transient"
	if e.Kind == KindPermanent {
		kind = "permanent"
	}
	if e.Ref != "" {
		return fmt.Sprintf("host: %s error for %s: %v", kind, e.Ref, e.Err)
	}
	return fmt.Sprintf("host: %s error: %v", kind, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a transient host error.
func IsTransient(err error) bool {
	var hostErr *Error
	return errors.As(err, &hostErr) && hostErr.Kind == KindTransient
}

// IsPermanent reports whether err is a permanent host error.
func IsPermanent(err error) bool {
	var hostErr *Error
	return errors.As(err, &hostErr) && hostErr.Kind == KindPermanent
}

func transientErr(ref model.EntityRef, err error) *Error {
	return &Error{Kind: KindTransient, Ref: ref, Err: err}
}

func permanentErr(ref model.EntityRef, statusCode int, err error) *Error {
	return &Error{Kind: KindPermanent, Ref: ref, StatusCode: statusCode, Err: err}
}
