package wain

import "fmt"

// The error kinds below keep decode, validation and instantiation failures
// disjoint, so callers can react to each without string matching. Traps and
// call-stack exhaustion are reported separately as wasmruntime errors.

// MalformedError reports a binary that cannot be decoded: bad magic or
// version, bad LEB128, wrong section order, a truncated stream, or invalid
// UTF-8 in a name.
type MalformedError struct {
	Err error
}

// Error implements error.
func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed module: %v", e.Err)
}

// Unwrap supports errors.Is and errors.As.
func (e *MalformedError) Unwrap() error { return e.Err }

// InvalidError reports a decoded module that fails type or structural
// validation.
type InvalidError struct {
	Err error
}

// Error implements error.
func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid module: %v", e.Err)
}

// Unwrap supports errors.Is and errors.As.
func (e *InvalidError) Unwrap() error { return e.Err }

// UnlinkableError reports a failed instantiation: a missing import, an
// import type mismatch, or an element or data segment out of range.
type UnlinkableError struct {
	Err error
}

// Error implements error.
func (e *UnlinkableError) Error() string {
	return fmt.Sprintf("unlinkable module: %v", e.Err)
}

// Unwrap supports errors.Is and errors.As.
func (e *UnlinkableError) Unwrap() error { return e.Err }
