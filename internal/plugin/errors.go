// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

// Package plugin implements the PanelKit plugin runtime: fetching remote
// bundles, materializing them in a sandboxed engine, validating the
// manifest contract, and driving the mount lifecycle.
package plugin

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a plugin runtime failure.
type ErrorKind string

// Error kinds. Every terminal failure in the runtime carries exactly one.
const (
	// KindNetwork - bundle or registry unreachable, or bundle URL missing.
	KindNetwork ErrorKind = "network"

	// KindParse - empty bundle, invalid source, or manifest shape violation.
	KindParse ErrorKind = "parse"

	// KindRuntime - unexpected failure outside the other categories,
	// including faults during plugin render.
	KindRuntime ErrorKind = "runtime"

	// KindCompatibility - plugin disabled or engine version gate unsatisfied.
	KindCompatibility ErrorKind = "compatibility"

	// KindSecurity - bundle origin or content policy violation.
	KindSecurity ErrorKind = "security"
)

// Error is a classified plugin runtime error. The kind survives wrapping:
// callers recover it with errors.As or KindOf.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a structured detail and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewError creates a classified error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates a classified error wrapping an underlying cause.
// If err is already an *Error, its kind is preserved and only the message
// context is added; foreign errors take the given kind.
func WrapError(kind ErrorKind, message string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		kind = pe.Kind
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain. Foreign errors classify
// as runtime.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindRuntime
}

// AsError normalizes any error into an *Error. A classified error anywhere
// in the chain is returned as-is; anything else is wrapped as runtime.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindRuntime, Message: "unexpected plugin runtime failure", Err: err}
}
