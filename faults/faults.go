// Package faults defines the kinds of errors the coordinator reports
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies an error. The set is closed, callers switch on it at the
// HTTP or RPC boundary only.
type Kind int

const (
	// KindInternal is any error that was not classified.
	KindInternal Kind = iota
	// KindNotFound is returned for unknown request hashes or ids.
	KindNotFound
	// KindInsufficientAuthorization is returned when the collected signatures
	// do not meet the thresholds yet or the request no longer accepts signatures.
	KindInsufficientAuthorization
	// KindInvalidSignature is returned for malformed or non matching signatures.
	KindInvalidSignature
	// KindInvariantViolation means the stored data is corrupt.
	KindInvariantViolation
	// KindTransportFailure is a network error while forwarding a transaction.
	KindTransportFailure
	// KindRemoteRejection is a forwarding call that completed with a status >= 400.
	KindRemoteRejection
	// KindInvalidRequest is input that cannot be parsed, eg a malformed request URI.
	KindInvalidRequest
)

var kindNames = map[Kind]string{
	KindInternal:                  "internal",
	KindNotFound:                  "not found",
	KindInsufficientAuthorization: "insufficient authorization",
	KindInvalidSignature:          "invalid signature",
	KindInvariantViolation:        "invariant violation",
	KindTransportFailure:          "transport failure",
	KindRemoteRejection:           "remote rejection",
	KindInvalidRequest:            "invalid request",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is an error of a specific Kind.
// Data is an optional payload for the caller, eg the current state of a request.
type Error struct {
	Kind    Kind
	Message string
	Data    interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data interface{}) *Error {
	c := *e
	c.Data = data
	return &c
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

func InsufficientAuthorization(format string, args ...interface{}) *Error {
	return newError(KindInsufficientAuthorization, format, args...)
}

func InvalidSignature(format string, args ...interface{}) *Error {
	return newError(KindInvalidSignature, format, args...)
}

func InvariantViolation(format string, args ...interface{}) *Error {
	return newError(KindInvariantViolation, format, args...)
}

func InvalidRequest(format string, args ...interface{}) *Error {
	return newError(KindInvalidRequest, format, args...)
}

func RemoteRejection(format string, args ...interface{}) *Error {
	return newError(KindRemoteRejection, format, args...)
}

// TransportFailure wraps a network error that occurred while calling endpoint.
func TransportFailure(endpoint string, cause error) *Error {
	return &Error{Kind: KindTransportFailure, Message: fmt.Sprintf("request to %s failed", endpoint), cause: cause}
}

// KindOf returns the Kind of the first *Error in err's chain,
// KindInternal if there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// DataOf returns the payload attached to the first *Error in err's chain.
func DataOf(err error) interface{} {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Data
	}
	return nil
}
