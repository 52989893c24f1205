package proto

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Name       string
	Code       int
	Message    string
	HTTPStatus int

	cause error
}

var _ error = Error{}

func (e Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s %d: %s", e.Name, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %d: %s: %v", e.Name, e.Code, e.Message, e.cause)
}

func (e Error) Is(target error) bool {
	if target == nil {
		return false
	}
	var t Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return errors.Is(e.cause, target)
}

func (e Error) Unwrap() error {
	return e.cause
}

func (e Error) WithCause(cause error) Error {
	err := e
	err.cause = cause
	return err
}

func (e Error) WithCausef(format string, args ...interface{}) Error {
	cause := fmt.Errorf(format, args...)
	err := e
	err.cause = cause
	return err
}

// WithMessage replaces the user-facing message, typically with one supplied by the server.
func (e Error) WithMessage(msg string) Error {
	err := e
	if msg != "" {
		err.Message = msg
	}
	return err
}

// Message returns the single human-readable message for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// HTTPStatus returns the status code an HTTP surface should use for err.
func HTTPStatus(err error) int {
	var e Error
	if errors.As(err, &e) && e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

var (
	// Input errors, rejected locally before any network call.
	ErrInvalidInput       = Error{Code: 1000, Name: "InvalidInput", Message: "Invalid input", HTTPStatus: 400}
	ErrTokenRequired      = Error{Code: 1001, Name: "TokenRequired", Message: "Please enter a valid token first", HTTPStatus: 400}
	ErrMethodRequired     = Error{Code: 1002, Name: "MethodRequired", Message: "Please select a verification method", HTTPStatus: 400}
	ErrMethodUnavailable  = Error{Code: 1003, Name: "MethodUnavailable", Message: "Verification method is not available for this identity", HTTPStatus: 400}
	ErrFingerprintMissing = Error{Code: 1004, Name: "FingerprintMissing", Message: "Fingerprint capture required", HTTPStatus: 400}
	ErrFaceMissing        = Error{Code: 1005, Name: "FaceMissing", Message: "Face capture required", HTTPStatus: 400}
	ErrNoImageSelected    = Error{Code: 1006, Name: "NoImageSelected", Message: "Please select or capture an image file.", HTTPStatus: 400}
	ErrInvalidState       = Error{Code: 1100, Name: "InvalidState", Message: "Operation not allowed in the current state", HTTPStatus: 409}
	ErrAlreadyResolved    = Error{Code: 1101, Name: "AlreadyResolved", Message: "Capture already resolved", HTTPStatus: 409}

	// Transport errors.
	ErrTransport = Error{Code: 2000, Name: "Transport", Message: "Verification request failed", HTTPStatus: 502}

	// Business-rule failures reported by the verification service.
	ErrRejected         = Error{Code: 3000, Name: "Rejected", Message: "Verification failed", HTTPStatus: 422}
	ErrTokenInvalid     = Error{Code: 3001, Name: "TokenInvalid", Message: "Token validation failed", HTTPStatus: 422}
	ErrOperationExpired = Error{Code: 3002, Name: "OperationExpired", Message: "Operation expired. Please try again.", HTTPStatus: 410}
	ErrSessionExpired   = Error{Code: 3003, Name: "SessionExpired", Message: "Verification session expired. Please try again.", HTTPStatus: 410}
	ErrPollLimit        = Error{Code: 3004, Name: "PollLimit", Message: "Verification timed out. Please try again.", HTTPStatus: 504}
	ErrFaceMismatch     = Error{Code: 3005, Name: "FaceMismatch", Message: "Face verification failed - images do not match", HTTPStatus: 422}
	ErrNotAuthenticated = Error{Code: 3006, Name: "NotAuthenticated", Message: "No stored authentication", HTTPStatus: 401}

	// External dependency failures.
	ErrCameraUnavailable = Error{Code: 4000, Name: "CameraUnavailable", Message: "Unable to access camera.", HTTPStatus: 503}
	ErrUploadFailed      = Error{Code: 4001, Name: "UploadFailed", Message: "Image upload failed.", HTTPStatus: 502}
	ErrComparisonFailed  = Error{Code: 4002, Name: "ComparisonFailed", Message: "Image comparison failed", HTTPStatus: 502}
)
