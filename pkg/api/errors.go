package api

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes failures surfaced by the conversation engine.
type ErrorKind string

const (
	KindPermissionDenied      ErrorKind = "permission_denied"
	KindSDKUnavailable        ErrorKind = "sdk_unavailable"
	KindRecognition           ErrorKind = "recognition_error"
	KindConfiguration         ErrorKind = "configuration_error"
	KindInvalidResponseFormat ErrorKind = "invalid_response_format"
	KindServer                ErrorKind = "server_error"
	KindNetwork               ErrorKind = "network_error"
	KindAttachmentRejected    ErrorKind = "attachment_rejected"
)

// RejectReason tells why an attachment was refused.
type RejectReason string

const (
	ReasonSize RejectReason = "size"
	ReasonType RejectReason = "type"
)

// Error is the typed error returned across package boundaries.
type Error struct {
	Kind       ErrorKind    // Category of the failure
	Message    string       // Human readable description, safe to show to the user
	StatusCode int          // HTTP status for server errors
	Reason     RejectReason // Set for attachment rejections
	Cause      error        // Underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an error of the given kind.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewServerError creates a server error carrying the HTTP status code.
func NewServerError(statusCode int, status string) *Error {
	return &Error{
		Kind:       KindServer,
		Message:    fmt.Sprintf("server responded with %s", status),
		StatusCode: statusCode,
	}
}

// NewRejection creates an attachment rejection.
func NewRejection(reason RejectReason, message string) *Error {
	return &Error{Kind: KindAttachmentRejected, Reason: reason, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage returns the message meant for display, without kind prefixes.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
