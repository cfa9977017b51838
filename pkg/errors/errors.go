// Unified error handling for the multi-motor group driver
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// Group errors
	ErrGroupSize  ErrorCode = "GROUP_SIZE"
	ErrGroupMotor ErrorCode = "GROUP_MOTOR"
	ErrGroupBusy  ErrorCode = "GROUP_BUSY"

	// Status API errors
	ErrRPCParams ErrorCode = "RPC_PARAMS"
	ErrRPCMethod ErrorCode = "RPC_METHOD"

	// Runtime errors
	ErrRuntime  ErrorCode = "RUNTIME"
	ErrShutdown ErrorCode = "SHUTDOWN"
)

// HostError is the unified error type
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Section is the config section or context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Line is the line number in the source file (if available)
	Line int

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	switch {
	case e.Option != "":
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Option, e.Message)
	case e.Section != "":
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a HostError with the same code, so that
// errors.Is(err, errors.New(code, "")) matches on category.
func (e *HostError) Is(target error) bool {
	t, ok := target.(*HostError)
	return ok && t.Code == e.Code
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetLine sets the line number
func (e *HostError) SetLine(line int) *HostError {
	e.Line = line
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *HostError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigOptionError creates an error for missing or invalid config option
func ConfigOptionError(section, option string) *HostError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not found in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for config type conversion failure
func ConfigTypeError(section, option, value string, targetType string, err error) *HostError {
	return Wrap(err, ErrConfigType, fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// Group errors

// GroupSizeError reports a motor count outside the supported range
func GroupSizeError(count, min, max int) *HostError {
	return New(ErrGroupSize, fmt.Sprintf("group needs between %d and %d motors, got %d", min, max, count)).
		SetContext("count", count)
}

// GroupMotorError reports an unusable motor slot
func GroupMotorError(index int, reason string) *HostError {
	return New(ErrGroupMotor, fmt.Sprintf("motor %d: %s", index, reason)).
		SetContext("index", index)
}

// GroupBusyError reports a move request while another move is running
func GroupBusyError(operation string) *HostError {
	return New(ErrGroupBusy, fmt.Sprintf("cannot %s: a move is in progress", operation))
}

// Status API errors

// RPCParamsError reports malformed JSON-RPC parameters
func RPCParamsError(method, reason string) *HostError {
	return New(ErrRPCParams, fmt.Sprintf("%s: %s", method, reason)).
		SetContext("method", method)
}

// RPCMethodError reports an unknown JSON-RPC method
func RPCMethodError(method string) *HostError {
	return New(ErrRPCMethod, fmt.Sprintf("method not found: %s", method)).
		SetContext("method", method)
}

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// ShutdownError reports a request refused while the host is shut down
func ShutdownError(reason, message string) *HostError {
	return New(ErrShutdown, fmt.Sprintf("shut down (%s): %s", reason, message)).
		SetContext("reason", reason)
}

// Coded is implemented by errors that carry an ErrorCode.
type Coded interface {
	error
	ErrorCode() ErrorCode
}

// ErrorCode returns the error category.
func (e *HostError) ErrorCode() ErrorCode {
	return e.Code
}

// CodeOf returns the code of the first coded error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var coded Coded
	if stderrors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	switch CodeOf(err) {
	case ErrConfigSection, ErrConfigOption, ErrConfigValidation, ErrConfigType:
		return true
	}
	return false
}

// IsGroup checks if error is a group error
func IsGroup(err error) bool {
	switch CodeOf(err) {
	case ErrGroupSize, ErrGroupMotor, ErrGroupBusy:
		return true
	}
	return false
}
