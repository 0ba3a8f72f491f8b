// Package apperr defines the error taxonomy shared by the webhook pipeline.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	InvalidPayload        Kind = "invalid_payload"
	Unauthorized          Kind = "unauthorized"
	RateLimited           Kind = "rate_limited"
	NoPatientMatch        Kind = "no_patient_match"
	DuplicateEvent        Kind = "duplicate_event"
	NoPendingConfirmation Kind = "no_pending_confirmation"
	DownstreamSendFailure Kind = "downstream_send_failure"
	InternalFault         Kind = "internal_fault"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns InternalFault for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalFault
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus is the status returned to the provider. Locally recovered kinds answer 200
// so the provider does not retry.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidPayload:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	case NoPatientMatch, DuplicateEvent, NoPendingConfirmation, DownstreamSendFailure:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
