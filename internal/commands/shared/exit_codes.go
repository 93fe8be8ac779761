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
package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tombee/toolbridge/internal/mcp"
	pkgerrors "github.com/tombee/toolbridge/pkg/errors"
)

// Exit codes
const (
	ExitSuccess  = 0
	ExitFailure  = 1
	ExitUsage    = 2
	ExitNotFound = 3
	ExitConfig   = 4
	ExitProvider = 5
	ExitAborted  = 130 // Standard exit code for SIGINT
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewUsageError creates an error for invalid command-line usage
func NewUsageError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitUsage, Message: msg, Cause: cause}
}

// ExitCodeFor maps an error to the process exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	if mcpErr := mcp.GetMCPError(err); mcpErr != nil {
		switch mcpErr.Code {
		case mcp.ErrorCodeNotFound:
			return ExitNotFound
		case mcp.ErrorCodeValidation, mcp.ErrorCodeConfig, mcp.ErrorCodeAlreadyExists:
			return ExitConfig
		case mcp.ErrorCodeProcessSpawn, mcp.ErrorCodeProcessExit, mcp.ErrorCodeTimeout,
			mcp.ErrorCodeProtocol, mcp.ErrorCodeConnectionClosed:
			return ExitProvider
		}
	}

	return ExitFailure
}

// HandleExitError prints the error with any suggestion and exits with the mapped code
func HandleExitError(err error) {
	if err == nil {
		return
	}
	if GetJSON() {
		_ = EmitJSONError(os.Stdout, "error", []JSONError{JSONErrorFor(err)})
	} else {
		PrintError(os.Stderr, err)
	}
	os.Exit(ExitCodeFor(err))
}

// JSONErrorFor converts err into the structured form used by --json output.
func JSONErrorFor(err error) JSONError {
	jsonErr := JSONError{Code: "ERROR", Message: err.Error()}
	if mcpErr := mcp.GetMCPError(err); mcpErr != nil {
		jsonErr.Code = string(mcpErr.Code)
	} else if ExitCodeFor(err) == ExitUsage {
		jsonErr.Code = "USAGE"
	}

	var userErr pkgerrors.UserVisibleError
	if errors.As(err, &userErr) && userErr.IsUserVisible() {
		jsonErr.Suggestion = userErr.Suggestion()
	}
	return jsonErr
}

// PrintError writes the error and, when the chain carries one, its suggestion.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err.Error())
	printUserVisibleSuggestion(w, err)
}

// printUserVisibleSuggestion walks the chain for a UserVisibleError and prints its suggestion.
func printUserVisibleSuggestion(w io.Writer, err error) {
	var userErr pkgerrors.UserVisibleError
	if !errors.As(err, &userErr) || !userErr.IsUserVisible() {
		return
	}
	if suggestion := userErr.Suggestion(); suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
	}
}
