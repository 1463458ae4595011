// Package errors provides standardized error values for heap management.
// Every fatal heap condition is described by a StandardError so that it can
// be logged, counted and matched by code before the process stops.
package errors

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryMemory     ErrorCategory = "MEMORY"
	CategoryBounds     ErrorCategory = "BOUNDS"
	CategoryValidation ErrorCategory = "VALIDATION"
	CategorySystem     ErrorCategory = "SYSTEM"
)

// Codes for fatal heap conditions.
const (
	CodeNegativeSize      = "NEGATIVE_SIZE"
	CodeAlreadyAttached   = "ALREADY_ATTACHED"
	CodeNotAttached       = "NOT_ATTACHED"
	CodeShrinkingGrow     = "SHRINKING_GROW"
	CodeRegistryFull      = "REGISTRY_FULL"
	CodeMisalignedSize    = "MISALIGNED_SIZE"
	CodeMapFailed         = "MAP_FAILED"
	CodeUnmapFailed       = "UNMAP_FAILED"
	CodeProtectFailed     = "PROTECT_FAILED"
	CodeAssertionFailed   = "ASSERTION_FAILED"
	CodeBootRecordFull    = "BOOT_RECORD_FULL"
	CodeIncompatibleImage = "INCOMPATIBLE_IMAGE"
	CodeOutOfRange        = "OUT_OF_RANGE"
)

// StandardError provides a consistent error format
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
	Cause    error
}

// Error implements the error interface
func (e *StandardError) Error() string {
	msg := fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause, usually an OS error.
func (e *StandardError) Unwrap() error { return e.Cause }

// KeyVals flattens the error into alternating key/value pairs for
// structured loggers. Context keys are emitted in sorted order.
func (e *StandardError) KeyVals() []interface{} {
	kv := []interface{}{"category", string(e.Category), "code", e.Code, "msg", e.Message, "caller", e.Caller}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kv = append(kv, k, e.Context[k])
	}
	if e.Cause != nil {
		kv = append(kv, "err", e.Cause)
	}
	return kv
}

// NewStandardError creates a new standardized error
func NewStandardError(category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller(2),
	}
}

// caller names the first frame outside this package, skip frames up.
func caller(skip int) string {
	pcs := make([]uintptr, 8)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if f.Function != "" && !strings.Contains(f.Function, "/internal/errors.") {
			return f.Function
		}
		if !more {
			return "unknown"
		}
	}
}

// CodeOf returns the code of the first StandardError in err's chain.
func CodeOf(err error) string {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}

func NegativeSize(name string, size int) *StandardError {
	return NewStandardError(CategoryValidation, CodeNegativeSize,
		fmt.Sprintf("heap %s: attach given negative size %d", name, size),
		map[string]interface{}{"heap": name, "size": size})
}

func AlreadyAttached(name string, size uintptr) *StandardError {
	return NewStandardError(CategoryMemory, CodeAlreadyAttached,
		fmt.Sprintf("heap %s: attach called on already attached heap", name),
		map[string]interface{}{"heap": name, "size": size})
}

func NotAttached(name, op string) *StandardError {
	return NewStandardError(CategoryMemory, CodeNotAttached,
		fmt.Sprintf("heap %s: %s called on unattached heap", name, op),
		map[string]interface{}{"heap": name, "op": op})
}

func ShrinkingGrow(name string, size uintptr, requested int) *StandardError {
	return NewStandardError(CategoryValidation, CodeShrinkingGrow,
		fmt.Sprintf("heap %s: grow given smaller size %d than current size %d", name, requested, size),
		map[string]interface{}{"heap": name, "size": size, "requested": requested})
}

func RegistryFull(name string, capacity int) *StandardError {
	return NewStandardError(CategoryBounds, CodeRegistryFull,
		fmt.Sprintf("cannot register heap %s: all %d heap slots in use", name, capacity),
		map[string]interface{}{"heap": name, "capacity": capacity})
}

func MisalignedSize(name string, size uintptr, pageSize int) *StandardError {
	return NewStandardError(CategoryValidation, CodeMisalignedSize,
		fmt.Sprintf("heap %s: size %d is not a multiple of page size %d", name, size, pageSize),
		map[string]interface{}{"heap": name, "size": size, "page_size": pageSize})
}

// OSFailure wraps a failed map, unmap or protect call.
func OSFailure(code, name string, cause error, context map[string]interface{}) *StandardError {
	e := NewStandardError(CategorySystem, code, fmt.Sprintf("heap %s: %s", name, strings.ToLower(strings.ReplaceAll(code, "_", " "))), context)
	if e.Context == nil {
		e.Context = map[string]interface{}{}
	}
	e.Context["heap"] = name
	e.Cause = cause
	return e
}

func AssertionFailed(what string) *StandardError {
	return NewStandardError(CategoryValidation, CodeAssertionFailed,
		fmt.Sprintf("assertion failed: %s", what),
		map[string]interface{}{"assertion": what})
}

func BootRecordFull(id, slots int) *StandardError {
	return NewStandardError(CategoryBounds, CodeBootRecordFull,
		fmt.Sprintf("boot record has %d range slots, heap %d does not fit", slots, id),
		map[string]interface{}{"id": id, "slots": slots})
}

func IncompatibleImage(version, constraint string, cause error) *StandardError {
	e := NewStandardError(CategoryValidation, CodeIncompatibleImage,
		fmt.Sprintf("boot image version %q does not satisfy %q", version, constraint),
		map[string]interface{}{"version": version, "constraint": constraint})
	e.Cause = cause
	return e
}

func OutOfRange(name string, what string, addr, lo, hi uintptr) *StandardError {
	return NewStandardError(CategoryBounds, CodeOutOfRange,
		fmt.Sprintf("heap %s: %s %#x outside [%#x, %#x]", name, what, addr, lo, hi),
		map[string]interface{}{"heap": name, "addr": addr, "lo": lo, "hi": hi})
}
