// Package errors defines the structured error taxonomy shared by the flick
// session coordinator. Every failure surfaced to an operator or a client
// device is a *FlickError carrying a Kind; only start-up kinds are fatal.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a failure by who is affected and whether it is fatal.
type Kind string

const (
	// KindValidationFailed means the project lacks required structure.
	KindValidationFailed Kind = "validation_failed"
	// KindToolchainUnavailable means the compiler could not be found or installed.
	KindToolchainUnavailable Kind = "toolchain_unavailable"
	// KindCompilationFailed means the toolchain ran and rejected the source.
	KindCompilationFailed Kind = "compilation_failed"
	// KindTransportBindFailed means the listener could not be bound.
	KindTransportBindFailed Kind = "transport_bind_failed"
	// KindMalformedMessage means a client sent input that could not be decoded.
	KindMalformedMessage Kind = "malformed_message"
	// KindModuleNotFound is a negative cache lookup.
	KindModuleNotFound Kind = "module_not_found"
	// KindInternal covers everything else.
	KindInternal Kind = "internal"
)

// Common error codes.
const (
	ErrCodeMissingPubspec    = "ERR_MISSING_PUBSPEC"
	ErrCodeMissingLibDir     = "ERR_MISSING_LIB_DIR"
	ErrCodeMissingEntryPoint = "ERR_MISSING_ENTRY_POINT"
	ErrCodeInvalidPubspec    = "ERR_INVALID_PUBSPEC"
	ErrCodeInvalidCacheDir   = "ERR_INVALID_CACHE_DIR"
	ErrCodeToolchainMissing  = "ERR_TOOLCHAIN_MISSING"
	ErrCodeInstallFailed     = "ERR_INSTALL_FAILED"
	ErrCodeCompileFailed     = "ERR_COMPILE_FAILED"
	ErrCodeMissingOutput     = "ERR_MISSING_OUTPUT"
	ErrCodeInvalidModuleName = "ERR_INVALID_MODULE_NAME"
	ErrCodeAddressInUse      = "ERR_ADDRESS_IN_USE"
	ErrCodeBindFailed        = "ERR_BIND_FAILED"
	ErrCodeInvalidJSON       = "ERR_INVALID_JSON"
	ErrCodeMissingField      = "ERR_MISSING_FIELD"
	ErrCodeModuleNotFound    = "ERR_MODULE_NOT_FOUND"
	ErrCodePathTraversal     = "ERR_PATH_TRAVERSAL"
	ErrCodeInternal          = "ERR_INTERNAL"
)

// FlickError is a structured error type with context.
type FlickError struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
	Hints   []string
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *FlickError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *FlickError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *FlickError) Is(target error) bool {
	var t *FlickError
	if errors.As(target, &t) {
		return e.Kind == t.Kind && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *FlickError) WithContext(key string, value interface{}) *FlickError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithHint appends an operator-facing hint.
func (e *FlickError) WithHint(hint string) *FlickError {
	e.Hints = append(e.Hints, hint)

	return e
}

// Fatal reports whether the error must stop the session from starting.
func (e *FlickError) Fatal() bool {
	return e.Kind == KindValidationFailed || e.Kind == KindTransportBindFailed
}

// NewValidationFailed creates a project validation error.
func NewValidationFailed(code, message string) *FlickError {
	return &FlickError{
		Kind:    KindValidationFailed,
		Code:    code,
		Message: message,
	}
}

// NewToolchainUnavailable creates a toolchain error.
func NewToolchainUnavailable(code, message string, cause error) *FlickError {
	return &FlickError{
		Kind:    KindToolchainUnavailable,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewCompilationFailed creates a compilation error carrying the toolchain
// diagnostics as its message.
func NewCompilationFailed(code, moduleName, diagnostics string) *FlickError {
	if diagnostics == "" {
		diagnostics = "Unknown error"
	}

	return &FlickError{
		Kind:    KindCompilationFailed,
		Code:    code,
		Message: "Compilation failed: " + diagnostics,
		Context: map[string]interface{}{"module": moduleName},
	}
}

// NewTransportBindFailed creates a listener error.
func NewTransportBindFailed(code, address string, cause error) *FlickError {
	return &FlickError{
		Kind:    KindTransportBindFailed,
		Code:    code,
		Message: "failed to listen on " + address,
		Cause:   cause,
	}
}

// NewMalformedMessage creates a client input error.
func NewMalformedMessage(code, message string, cause error) *FlickError {
	return &FlickError{
		Kind:    KindMalformedMessage,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewModuleNotFound creates a cache miss error.
func NewModuleNotFound(moduleID string) *FlickError {
	return &FlickError{
		Kind:    KindModuleNotFound,
		Code:    ErrCodeModuleNotFound,
		Message: "Module not found in cache",
		Context: map[string]interface{}{"module_id": moduleID},
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *FlickError {
	return &FlickError{
		Kind:    KindInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// KindOf returns the kind of err, or KindInternal when err is not a FlickError.
func KindOf(err error) Kind {
	var fe *FlickError
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return KindInternal
}

// IsKind checks whether err is a FlickError of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *FlickError
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}

	return false
}

// IsFatal checks whether err must abort session start-up.
func IsFatal(err error) bool {
	var fe *FlickError
	if errors.As(err, &fe) {
		return fe.Fatal()
	}

	return false
}

// HintsOf returns the hints attached to err, if any.
func HintsOf(err error) []string {
	var fe *FlickError
	if errors.As(err, &fe) {
		return fe.Hints
	}

	return nil
}

// MessageOf returns the client-facing message of err without its code prefix.
func MessageOf(err error) string {
	var fe *FlickError
	if errors.As(err, &fe) {
		if fe.Cause != nil {
			return fmt.Sprintf("%s: %v", fe.Message, fe.Cause)
		}
		return fe.Message
	}

	return err.Error()
}
