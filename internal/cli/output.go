package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"posbackoffice/backend/internal/service"
	"posbackoffice/backend/internal/store"
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitFailure for errors that are not an *ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// operationError maps a domain failure to an exit error.
func operationError(message string, err error) *ExitError {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrAlreadyVoided),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrForbidden):
		return WrapExitError(ExitFailure, message, err)
	default:
		return WrapExitError(ExitCommandError, message, err)
	}
}

type cliResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

// writeResult prints data as a JSON envelope or as the given text line.
func writeResult(w io.Writer, format string, data any, text string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cliResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
