package errutil

import (
	"errors"
	"net/http"
)

type Code uint32

const (
	CodeInternal Code = iota
	CodeValidation
	CodeBadRequest
	CodeUnauthorized
	CodeNotFound
	CodePermissionDenied
	CodeInvalidState
	CodeDuplicateEnrollment
	CodeAuth
	CodeTransport
	CodeRecipientRejected
	CodeUnknownTrackingToken
)

type Error struct {
	code Code
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Code() Code {
	return e.code
}

func newError(code Code, err error) *Error {
	return &Error{code: code, err: err}
}

func ValidationError(err error) *Error {
	return newError(CodeValidation, err)
}

func BadRequestError(err error) *Error {
	return newError(CodeBadRequest, err)
}

func UnauthorizedError(err error) *Error {
	return newError(CodeUnauthorized, err)
}

func NotFoundError(err error) *Error {
	return newError(CodeNotFound, err)
}

func PermissionDeniedError(err error) *Error {
	return newError(CodePermissionDenied, err)
}

func InvalidStateError(err error) *Error {
	return newError(CodeInvalidState, err)
}

func DuplicateEnrollmentError(err error) *Error {
	return newError(CodeDuplicateEnrollment, err)
}

func AuthError(err error) *Error {
	return newError(CodeAuth, err)
}

func TransportError(err error) *Error {
	return newError(CodeTransport, err)
}

func RecipientRejectedError(err error) *Error {
	return newError(CodeRecipientRejected, err)
}

func UnknownTrackingTokenError(err error) *Error {
	return newError(CodeUnknownTrackingToken, err)
}

func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.code == code
	}
	return false
}

func IsAuthError(err error) bool {
	return HasCode(err, CodeAuth)
}

func IsTransportError(err error) bool {
	return HasCode(err, CodeTransport)
}

func IsRecipientRejected(err error) bool {
	return HasCode(err, CodeRecipientRejected)
}

func IsPermissionDenied(err error) bool {
	return HasCode(err, CodePermissionDenied)
}

// ParseHttpError maps an error to its HTTP status code and message.
func ParseHttpError(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}

	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, err.Error()
	}

	switch e.code {
	case CodeValidation, CodeBadRequest:
		return http.StatusBadRequest, e.Error()
	case CodeUnauthorized:
		return http.StatusUnauthorized, e.Error()
	case CodePermissionDenied:
		return http.StatusForbidden, e.Error()
	case CodeNotFound, CodeUnknownTrackingToken:
		return http.StatusNotFound, e.Error()
	case CodeInvalidState, CodeDuplicateEnrollment:
		return http.StatusConflict, e.Error()
	case CodeAuth, CodeRecipientRejected:
		return http.StatusUnprocessableEntity, e.Error()
	case CodeTransport:
		return http.StatusBadGateway, e.Error()
	default:
		return http.StatusInternalServerError, e.Error()
	}
}
