// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MCPErrorCode represents a category of MCP error.
type MCPErrorCode string

const (
	// ErrorCodeProcessSpawn indicates the provider process could not be spawned.
	ErrorCodeProcessSpawn MCPErrorCode = "PROCESS_SPAWN"
	// ErrorCodeProcessExit indicates the provider process terminated unexpectedly.
	ErrorCodeProcessExit MCPErrorCode = "PROCESS_EXIT"
	// ErrorCodeTimeout indicates a request received no response in time.
	ErrorCodeTimeout MCPErrorCode = "TIMEOUT"
	// ErrorCodeProtocol indicates the server answered with a JSON-RPC error.
	ErrorCodeProtocol MCPErrorCode = "PROTOCOL"
	// ErrorCodeNotConnected indicates a request was made before the handshake.
	ErrorCodeNotConnected MCPErrorCode = "NOT_CONNECTED"
	// ErrorCodeAlreadyConnected indicates a second handshake was attempted.
	ErrorCodeAlreadyConnected MCPErrorCode = "ALREADY_CONNECTED"
	// ErrorCodeNotRunning indicates a service is not running.
	ErrorCodeNotRunning MCPErrorCode = "NOT_RUNNING"
	// ErrorCodeAlreadyRunning indicates a service or process is already running.
	ErrorCodeAlreadyRunning MCPErrorCode = "ALREADY_RUNNING"
	// ErrorCodeAlreadyExists indicates a configuration name conflict.
	ErrorCodeAlreadyExists MCPErrorCode = "ALREADY_EXISTS"
	// ErrorCodeNotFound indicates a service was not found.
	ErrorCodeNotFound MCPErrorCode = "NOT_FOUND"
	// ErrorCodeParse indicates a malformed protocol line.
	ErrorCodeParse MCPErrorCode = "PARSE"
	// ErrorCodeConnectionClosed indicates the connection closed with the request outstanding.
	ErrorCodeConnectionClosed MCPErrorCode = "CONNECTION_CLOSED"
	// ErrorCodeInvalidTransition indicates a state change the lifecycle forbids.
	ErrorCodeInvalidTransition MCPErrorCode = "INVALID_TRANSITION"
	// ErrorCodeValidation indicates a validation error.
	ErrorCodeValidation MCPErrorCode = "VALIDATION"
	// ErrorCodeConfig indicates a configuration or persistence error.
	ErrorCodeConfig MCPErrorCode = "CONFIG"
)

// MCPError is an error type that includes suggestions for resolution.
type MCPError struct {
	// Code is the error category.
	Code MCPErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *MCPError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *MCPError with the same code.
func (e *MCPError) Is(target error) bool {
	t, ok := target.(*MCPError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// IsUserVisible implements pkg/errors.UserVisibleError.
// MCP errors are always user-visible.
func (e *MCPError) IsUserVisible() bool {
	return true
}

// UserMessage implements pkg/errors.UserVisibleError.
func (e *MCPError) UserMessage() string {
	return e.Error()
}

// Suggestion implements pkg/errors.UserVisibleError.
func (e *MCPError) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

// NewMCPError creates a new MCPError.
func NewMCPError(code MCPErrorCode, message string) *MCPError {
	return &MCPError{
		Code:    code,
		Message: message,
	}
}

// WithDetail adds detail to the error.
func (e *MCPError) WithDetail(detail string) *MCPError {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *MCPError) WithSuggestions(suggestions ...string) *MCPError {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *MCPError) WithCause(cause error) *MCPError {
	e.Cause = cause
	return e
}

// ErrServiceNotFound creates an error for when a service is not registered.
func ErrServiceNotFound(name string) *MCPError {
	return NewMCPError(ErrorCodeNotFound, fmt.Sprintf("service '%s' not found", name)).
		WithSuggestions(
			"Check the service name: toolbridge list",
			fmt.Sprintf("Register the service: toolbridge add %s --command <cmd>", name),
		)
}

// ErrConfigConflict creates an error for a duplicate service name.
func ErrConfigConflict(name string) *MCPError {
	return NewMCPError(ErrorCodeAlreadyExists, fmt.Sprintf("service '%s' already exists", name)).
		WithSuggestions(
			"Use a different name for the new service",
			fmt.Sprintf("Change the existing service instead: toolbridge update %s", name),
		)
}

// ErrAlreadyRunning creates an error for a start on a live service or process.
func ErrAlreadyRunning(name string) *MCPError {
	return NewMCPError(ErrorCodeAlreadyRunning, fmt.Sprintf("service '%s' is already running", name)).
		WithSuggestions(fmt.Sprintf("Check status: toolbridge status %s", name))
}

// ErrNotRunning creates an error for operations that need a running service.
func ErrNotRunning(name string, status Status) *MCPError {
	return NewMCPError(ErrorCodeNotRunning, fmt.Sprintf("service '%s' is not running", name)).
		WithDetail(fmt.Sprintf("current status is %s", status)).
		WithSuggestions(fmt.Sprintf("Start the service: toolbridge run %s", name))
}

// ErrNotConnected is returned by protocol requests issued before the handshake.
func ErrNotConnected() *MCPError {
	return NewMCPError(ErrorCodeNotConnected, "client is not connected")
}

// ErrAlreadyConnected is returned by a second handshake on the same client.
func ErrAlreadyConnected() *MCPError {
	return NewMCPError(ErrorCodeAlreadyConnected, "client is already connected")
}

// ErrConnectionClosed is delivered to every request pending when the connection closes.
func ErrConnectionClosed() *MCPError {
	return NewMCPError(ErrorCodeConnectionClosed, "connection closed")
}

// ErrTimeout creates an error for a request that was not answered in time.
func ErrTimeout(method string, timeout time.Duration) *MCPError {
	return NewMCPError(ErrorCodeTimeout, fmt.Sprintf("request '%s' timed out after %s", method, timeout)).
		WithSuggestions(
			"Check that the command speaks MCP over stdio",
			"Increase TOOLBRIDGE_REQUEST_TIMEOUT if the server is slow to answer",
		)
}

// ErrProtocol wraps a JSON-RPC error response.
func ErrProtocol(method string, perr *ProtocolError) *MCPError {
	return NewMCPError(ErrorCodeProtocol, fmt.Sprintf("request '%s' failed", method)).
		WithDetail(perr.Error()).
		WithCause(perr)
}

// ErrParse reports a protocol line that is not valid JSON-RPC.
func ErrParse(line string, cause error) *MCPError {
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	return NewMCPError(ErrorCodeParse, "failed to parse protocol message").
		WithDetail(fmt.Sprintf("%v: %q", cause, line)).
		WithCause(cause)
}

// ErrSpawnFailed creates an error for a process that could not be started.
func ErrSpawnFailed(command string, cause error) *MCPError {
	return NewMCPError(ErrorCodeProcessSpawn, fmt.Sprintf("failed to spawn '%s'", command)).
		WithDetail(cause.Error()).
		WithCause(cause).
		WithSuggestions(
			"Verify the command is installed and in your PATH",
			fmt.Sprintf("Use an absolute path: --command /path/to/%s", command),
		)
}

// ErrProcessExited reports a process that terminated while it was still needed.
func ErrProcessExited(name string, code int) *MCPError {
	return NewMCPError(ErrorCodeProcessExit, fmt.Sprintf("service '%s' process exited", name)).
		WithDetail(fmt.Sprintf("exit code %d", code)).
		WithSuggestions(fmt.Sprintf("Inspect the service log: toolbridge status %s", name))
}

// ErrInvalidTransition reports a lifecycle change the state table forbids.
func ErrInvalidTransition(name string, from, to Status) *MCPError {
	return NewMCPError(ErrorCodeInvalidTransition, fmt.Sprintf("service '%s' cannot move from %s to %s", name, from, to))
}

// ErrInvalidServiceName creates an error for an invalid service name.
func ErrInvalidServiceName(name string) *MCPError {
	return NewMCPError(ErrorCodeValidation, fmt.Sprintf("invalid service name '%s'", name)).
		WithDetail("names must start with a letter, contain only letters, numbers, hyphens or underscores, and be at most 64 characters").
		WithSuggestions("Example valid names: github, fs-local, search_v2")
}

// ErrInvalidConfig creates an error for invalid configuration.
func ErrInvalidConfig(detail string) *MCPError {
	return NewMCPError(ErrorCodeConfig, "invalid service configuration").
		WithDetail(detail).
		WithSuggestions("Check the registry document syntax")
}

// WrapError wraps a standard error in an MCPError if it isn't one already.
func WrapError(err error, code MCPErrorCode, message string) *MCPError {
	if mcpErr := GetMCPError(err); mcpErr != nil {
		return mcpErr
	}
	return NewMCPError(code, message).WithDetail(err.Error()).WithCause(err)
}

// IsMCPError checks if an error chain contains an MCPError.
func IsMCPError(err error) bool {
	return GetMCPError(err) != nil
}

// GetMCPError extracts an MCPError from an error chain.
func GetMCPError(err error) *MCPError {
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	return nil
}

// HasCode reports whether err carries an MCPError with the given code.
func HasCode(err error, code MCPErrorCode) bool {
	return errors.Is(err, &MCPError{Code: code})
}
