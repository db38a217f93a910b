package models

import (
	"errors"
	"fmt"
)

// ErrorKind is a closed taxonomy of error kinds an AccessPoint call can
// fail with. Callers switch on Kind rather than matching error strings.
type ErrorKind string

const (
	// Validation errors: caller-visible, no state change.
	ErrorKindInvalidValue                ErrorKind = "InvalidValue"
	ErrorKindUnknownJobClass              ErrorKind = "UnknownJobClass"
	ErrorKindUnknownOptimizationAlgorithm ErrorKind = "UnknownOptimizationAlgorithm"
	ErrorKindInvalidDependency             ErrorKind = "InvalidDependency"
	ErrorKindRequestedClientUnavailable     ErrorKind = "RequestedClientUnavailable"
	ErrorKindInvalidJobConfig               ErrorKind = "InvalidJobConfig"
	ErrorKindDuplicateDependencyCycle       ErrorKind = "DuplicateDependencyCycle"
	ErrorKindUnknownFolder                  ErrorKind = "UnknownFolder"
	ErrorKindDuplicateClient                ErrorKind = "DuplicateClient"

	// Transient runtime errors: retried internally, surfaced if they persist.
	ErrorKindManagerBusy          ErrorKind = "ManagerBusy"
	ErrorKindInsufficientClients ErrorKind = "InsufficientClients"

	// Terminal runtime errors: the owning Job ends in StoppedDueToError.
	ErrorKindClientDisconnectedDuringRun ErrorKind = "ClientDisconnectedDuringRun"
	ErrorKindDispatchFailed                ErrorKind = "DispatchFailed"
	ErrorKindStatisticsUnreadable          ErrorKind = "StatisticsUnreadable"

	// Fatal system errors: propagate to the operator.
	ErrorKindConfigStoreIO    ErrorKind = "ConfigStoreIO"
	ErrorKindPluginLoadFailed ErrorKind = "PluginLoadFailed"

	// Request-shape errors used by AccessPoints.
	ErrorKindNotFound       ErrorKind = "NotFound"
	ErrorKindNotCancellable ErrorKind = "NotCancellable"
	ErrorKindNotPausable    ErrorKind = "NotPausable"
	ErrorKindCapacityExceeded  ErrorKind = "CapacityExceeded"
	ErrorKindManagerUnreachable ErrorKind = "ManagerUnreachable"
)

// Error is the stable, typed error every AccessPoint returns on failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an *Error with no wrapped cause.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError builds an *Error wrapping an underlying cause.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err, or "" if err is not a *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
