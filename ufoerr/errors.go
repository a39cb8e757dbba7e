// Package ufoerr defines the structured error kinds shared across the UFO
// dataflow engine, as catalogued in the design's error handling section.
package ufoerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the structured error categories the engine can produce.
type Kind int

const (
	// GraphInvalid covers cycles, unknown nodes, and edge type mismatches.
	GraphInvalid Kind = iota
	// PluginNotFound is raised when a pipeline names an unregistered filter.
	PluginNotFound
	// PropertyUnknown reports a property that was read but never set. The
	// engine does not log it; the filter reading the property decides
	// whether it is fatal (the built-in filters' width/height are
	// required). Properties that are set but never read are ignored, with
	// no warning.
	PropertyUnknown
	// PropertyTypeMismatch means a property value could not be coerced to
	// the type the filter expects.
	PropertyTypeMismatch
	// DeviceAllocation covers host/device memory allocation failures.
	DeviceAllocation
	// DeviceTransfer covers failed host<->device copies.
	DeviceTransfer
	// KernelBuild covers failures compiling or loading a device kernel.
	KernelBuild
	// KernelLaunch covers failures launching a device kernel.
	KernelLaunch
	// FilterProcess covers errors raised from inside a filter's
	// process/generate/consume call.
	FilterProcess
	// Serialization covers graph dump/load failures.
	Serialization
)

func (k Kind) String() string {
	switch k {
	case GraphInvalid:
		return "GraphInvalid"
	case PluginNotFound:
		return "PluginNotFound"
	case PropertyUnknown:
		return "PropertyUnknown"
	case PropertyTypeMismatch:
		return "PropertyTypeMismatch"
	case DeviceAllocation:
		return "DeviceAllocation"
	case DeviceTransfer:
		return "DeviceTransfer"
	case KernelBuild:
		return "KernelBuild"
	case KernelLaunch:
		return "KernelLaunch"
	case FilterProcess:
		return "FilterProcess"
	case Serialization:
		return "Serialization"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a structured error carrying a Kind alongside the wrapped cause.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.cause)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New creates a structured error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, cause: errors.Errorf(format, args...)}
}

// Wrap attaches a Kind to an existing cause, preserving its stack trace if
// pkg/errors already attached one.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.Wrap(cause, msg)}
}

// Is reports whether err is (or wraps) a structured error of the given kind.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
