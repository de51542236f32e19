package types

import (
	"errors"
	"fmt"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrDonorNotFound        = errors.New("donor not found")
	ErrDonationNotFound     = errors.New("donation not found")
	ErrRequestNotFound      = errors.New("request not found")
)

type ErrorKind string

const (
	KindInvalidStateTransition     ErrorKind = "InvalidStateTransition"
	KindReferentialIntegrity       ErrorKind = "ReferentialIntegrityError"
	KindIneligibleOrganizationType ErrorKind = "IneligibleOrganizationType"
	KindInsufficientStock          ErrorKind = "InsufficientStock"
	KindNoMatchFound               ErrorKind = "NoMatchFound"
	KindConcurrentModification     ErrorKind = "ConcurrentModification"
	KindDonorNotEligible           ErrorKind = "DonorNotEligible"
	KindValidation                 ErrorKind = "Validation"
	KindNotFound                   ErrorKind = "NotFound"
	KindForbidden                  ErrorKind = "Forbidden"
)

// Error is the domain error returned by every exposed operation. Kind
// sentinels below match any Error of the same kind under errors.Is.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

var (
	ErrInvalidStateTransition     = &Error{Kind: KindInvalidStateTransition}
	ErrReferentialIntegrity       = &Error{Kind: KindReferentialIntegrity}
	ErrIneligibleOrganizationType = &Error{Kind: KindIneligibleOrganizationType}
	ErrInsufficientStock          = &Error{Kind: KindInsufficientStock}
	ErrNoMatchFound               = &Error{Kind: KindNoMatchFound}
	ErrConcurrentModification     = &Error{Kind: KindConcurrentModification}
	ErrDonorNotEligible           = &Error{Kind: KindDonorNotEligible}
	ErrValidation                 = &Error{Kind: KindValidation}
	ErrNotFound                   = &Error{Kind: KindNotFound}
	ErrForbidden                  = &Error{Kind: KindForbidden}
)

func NewError(kind ErrorKind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error of the given kind around a cause.
func WrapError(kind ErrorKind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Msg != "" || t.Err != nil {
		return e == t
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of the first Error in err's chain, or "" when err
// is not a domain error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
