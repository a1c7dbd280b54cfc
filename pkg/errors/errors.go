// Package errors is the error channel of xgbridge.
//
// Every operation that crosses the native boundary returns either a payload
// or one of the typed errors declared here. The types mirror the failure
// classes of the boundary layer: the native module failed to load, a handle
// was used after release, a meta-info field name is unknown, a parameter was
// rejected by the native parser, buffer lengths disagree, an array interface
// could not be encoded, an attribute key is missing, or the native library
// reported a failure that is not otherwise classified.
//
// All constructors attach a stack trace through cockroachdb/errors, and every
// type can be matched either with As (by type) or Is (by sentinel).
package errors

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	Global warning handling
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("xgbridge-warning: %v\n", w)
	}
	// set by pkg/log to avoid an import cycle
	zerologWarnFunc func(warning error)
)

// SetWarningHandler replaces the process-wide warning handler.
//
// Example:
//
//	errors.SetWarningHandler(func(w error) {
//	    // drop warnings
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc installs the structured warning sink used by pkg/log.
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn raises a warning. The zerolog sink wins when installed, otherwise
// the plain handler is used.
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}
	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	Warnings
//
// ===========================================================================

// HandleLeakWarning is raised when a native handle became unreachable while
// still live and was reclaimed by the garbage collector instead of an
// explicit release.
type HandleLeakWarning struct {
	Kind string
	ID   uint64
}

func (w *HandleLeakWarning) Error() string {
	return fmt.Sprintf("%s handle #%d was reclaimed by the garbage collector; call Free() explicitly", w.Kind, w.ID)
}

// MarshalZerologObject adds the warning fields to a zerolog event.
func (w *HandleLeakWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("handle_kind", w.Kind).
		Uint64("handle_id", w.ID).
		Str("type", "HandleLeakWarning")
}

// NewHandleLeakWarning creates a HandleLeakWarning.
func NewHandleLeakWarning(kind string, id uint64) *HandleLeakWarning {
	return &HandleLeakWarning{Kind: kind, ID: id}
}

// UnsafeInputWarning is raised whenever a dataset is parsed from a file by
// the native library. The parser runs without host-side validation and
// malformed input can corrupt process state.
type UnsafeInputWarning struct {
	Path   string
	Format string
}

func (w *UnsafeInputWarning) Error() string {
	return fmt.Sprintf("loading %q (format=%s) through the native parser: malformed or untrusted input can corrupt process state", w.Path, w.Format)
}

// MarshalZerologObject adds the warning fields to a zerolog event.
func (w *UnsafeInputWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("path", w.Path).
		Str("format", w.Format).
		Str("type", "UnsafeInputWarning")
}

// NewUnsafeInputWarning creates an UnsafeInputWarning.
func NewUnsafeInputWarning(path, format string) *UnsafeInputWarning {
	return &UnsafeInputWarning{Path: path, Format: format}
}

// ===========================================================================
//
//	Sentinels
//
// ===========================================================================

var (
	// ErrLoad matches LoadError.
	ErrLoad = errors.New("native library load failed")
	// ErrInvalidHandle matches InvalidHandleError.
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrInvalidField matches InvalidFieldError.
	ErrInvalidField = errors.New("invalid field")
	// ErrInvalidParameter matches InvalidParameterError.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrShapeMismatch matches ShapeMismatchError.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrEncoding matches EncodingError.
	ErrEncoding = errors.New("array interface encoding failed")
	// ErrNotFound matches NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrNative matches NativeError.
	ErrNative = errors.New("native error")
)

// ===========================================================================
//
//	Structured errors
//
// ===========================================================================

// LoadError reports that the native module could not be initialised. It is
// the only fatal error: once returned, every later call returns it again.
type LoadError struct {
	Backend string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xgbridge: failed to load native backend %q: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("xgbridge: failed to load native backend %q", e.Backend)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is reports whether target is ErrLoad.
func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *LoadError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("backend", e.Backend).
		AnErr("cause", e.Err).
		Str("type", "LoadError")
}

// NewLoadError creates a LoadError with a stack trace.
func NewLoadError(backend string, cause error) error {
	return errors.WithStack(&LoadError{Backend: backend, Err: cause})
}

// InvalidHandleError reports an operation on a released (or never issued)
// handle. The native layer is never called in that case.
type InvalidHandleError struct {
	Op     string
	Kind   string
	ID     uint64
	Reason string
}

func (e *InvalidHandleError) Error() string {
	return fmt.Sprintf("xgbridge: %s: invalid %s handle #%d: %s", e.Op, e.Kind, e.ID, e.Reason)
}

// Is reports whether target is ErrInvalidHandle.
func (e *InvalidHandleError) Is(target error) bool { return target == ErrInvalidHandle }

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *InvalidHandleError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("handle_kind", e.Kind).
		Uint64("handle_id", e.ID).
		Str("reason", e.Reason).
		Str("type", "InvalidHandleError")
}

// NewInvalidHandleError creates an InvalidHandleError with a stack trace.
func NewInvalidHandleError(op, kind string, id uint64, reason string) error {
	return errors.WithStack(&InvalidHandleError{Op: op, Kind: kind, ID: id, Reason: reason})
}

// InvalidFieldError reports a meta-info field name outside the closed set
// accepted by an accessor.
type InvalidFieldError struct {
	Op      string
	Field   string
	Allowed []string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("xgbridge: %s: unknown field %q (allowed: %s)", e.Op, e.Field, strings.Join(e.Allowed, ", "))
}

// Is reports whether target is ErrInvalidField.
func (e *InvalidFieldError) Is(target error) bool { return target == ErrInvalidField }

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *InvalidFieldError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("field", e.Field).
		Strs("allowed", e.Allowed).
		Str("type", "InvalidFieldError")
}

// NewInvalidFieldError creates an InvalidFieldError with a stack trace.
func NewInvalidFieldError(op, field string, allowed []string) error {
	return errors.WithStack(&InvalidFieldError{Op: op, Field: field, Allowed: allowed})
}

// InvalidParameterError reports a textual parameter the native parser
// refused. Key and Value are the exact strings that were sent.
type InvalidParameterError struct {
	Key     string
	Value   string
	Message string
}

func (e *InvalidParameterError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("xgbridge: invalid parameter %s=%q: %s", e.Key, e.Value, e.Message)
	}
	return fmt.Sprintf("xgbridge: invalid parameter %s=%q", e.Key, e.Value)
}

// Is reports whether target is ErrInvalidParameter.
func (e *InvalidParameterError) Is(target error) bool { return target == ErrInvalidParameter }

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *InvalidParameterError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("key", e.Key).
		Str("value", e.Value).
		Str("message", e.Message).
		Str("type", "InvalidParameterError")
}

// NewInvalidParameterError creates an InvalidParameterError with a stack trace.
func NewInvalidParameterError(key, value, message string) error {
	return errors.WithStack(&InvalidParameterError{Key: key, Value: value, Message: message})
}

// ShapeMismatchError reports a length that disagrees with the dataset or
// model shape it is checked against.
type ShapeMismatchError struct {
	Op       string
	Field    string
	Expected int
	Got      int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("xgbridge: %s: length mismatch for %s: expected %d, got %d", e.Op, e.Field, e.Expected, e.Got)
}

// Is reports whether target is ErrShapeMismatch.
func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *ShapeMismatchError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("field", e.Field).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Str("type", "ShapeMismatchError")
}

// NewShapeMismatchError creates a ShapeMismatchError with a stack trace.
func NewShapeMismatchError(op, field string, expected, got int) error {
	return errors.WithStack(&ShapeMismatchError{Op: op, Field: field, Expected: expected, Got: got})
}

// EncodingError reports a buffer/shape/dtype combination that cannot be
// described by an array interface.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("xgbridge: array interface: %s", e.Reason)
}

// Is reports whether target is ErrEncoding.
func (e *EncodingError) Is(target error) bool { return target == ErrEncoding }

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *EncodingError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("reason", e.Reason).
		Str("type", "EncodingError")
}

// NewEncodingError creates an EncodingError with a stack trace.
func NewEncodingError(format string, args ...interface{}) error {
	return errors.WithStack(&EncodingError{Reason: fmt.Sprintf(format, args...)})
}

// NotFoundError reports a missing attribute key.
type NotFoundError struct {
	Op  string
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("xgbridge: %s: key %q not found", e.Op, e.Key)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFoundError creates a NotFoundError with a stack trace.
func NewNotFoundError(op, key string) error {
	return errors.WithStack(&NotFoundError{Op: op, Key: key})
}

// NativeError carries the message read from the native last-error slot
// immediately after the failing call.
type NativeError struct {
	Op      string
	Message string
}

func (e *NativeError) Error() string {
	return fmt.Sprintf("xgbridge: %s: %s", e.Op, e.Message)
}

// Is reports whether target is ErrNative.
func (e *NativeError) Is(target error) bool { return target == ErrNative }

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *NativeError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("message", e.Message).
		Str("type", "NativeError")
}

// NewNativeError creates a NativeError with a stack trace.
func NewNativeError(op, message string) error {
	return errors.WithStack(&NativeError{Op: op, Message: message})
}

// ===========================================================================
//
//	cockroachdb/errors wrappers
//
// ===========================================================================

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap annotates err with message.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf annotates err with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New creates an error with a stack trace.
func New(message string) error {
	return errors.New(message)
}

// Newf creates a formatted error with a stack trace.
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack annotates err with a stack trace.
func WithStack(err error) error {
	return errors.WithStack(err)
}
