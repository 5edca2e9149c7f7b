// Package util provides the helpers shared by the command line: exit codes
// and error reporting.
package util

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/vault-cli/chamber/internal/registry"
	"github.com/vault-cli/chamber/internal/store"
	"github.com/vault-cli/chamber/internal/vault"
)

// Exit codes returned by the chamber binary
const (
	ExitOK           = 0
	ExitError        = 1
	ExitInvalidInput = 2
	ExitVaultLocked  = 3
	ExitIntegrityErr = 4
)

// ErrInvalidInput marks errors caused by bad arguments or flags
var ErrInvalidInput = errors.New("invalid input")

// InvalidInput wraps a message as an ErrInvalidInput error.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInvalidInput):
		return ExitInvalidInput
	case errors.Is(err, vault.ErrLocked),
		errors.Is(err, vault.ErrInvalidMasterKey),
		errors.Is(err, vault.ErrNotInitialized),
		errors.Is(err, registry.ErrVaultNotOpen),
		errors.Is(err, registry.ErrTooManyAttempts),
		errors.Is(err, store.ErrLockTimeout):
		return ExitVaultLocked
	case errors.Is(err, vault.ErrDecryptFailure),
		errors.Is(err, vault.ErrSerialization):
		return ExitIntegrityErr
	default:
		return ExitError
	}
}

// hint returns a follow-up suggestion for well-known failures.
func hint(err error) string {
	switch {
	case errors.Is(err, vault.ErrNotInitialized):
		return "Run 'chamber init' to create the vault."
	case errors.Is(err, vault.ErrDecryptFailure):
		return "The vault file may have been modified outside chamber."
	case errors.Is(err, registry.ErrTooManyAttempts):
		return "Wait a moment before trying again."
	}
	return ""
}

// PrintError writes a colored error report to w and returns the exit code
// for err.
func PrintError(w io.Writer, err error, context string) int {
	code := ExitCode(err)
	if err == nil {
		return code
	}

	prefix := color.New(color.FgRed, color.Bold).Sprint("Error:")
	if context != "" {
		fmt.Fprintf(w, "%s %s - %v\n", prefix, context, err)
	} else {
		fmt.Fprintf(w, "%s %v\n", prefix, err)
	}
	if h := hint(err); h != "" {
		fmt.Fprintln(w, color.YellowString(h))
	}
	return code
}

// ExitWithCode exits the program with the specified code and message
func ExitWithCode(code int, format string, args ...any) {
	if format != "" {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	os.Exit(code)
}

// HandleError reports err on stderr and exits with the matching code. A nil
// error returns without exiting.
func HandleError(err error, context string) {
	if err == nil {
		return
	}
	os.Exit(PrintError(os.Stderr, err, context))
}

// WrapError wraps an error with additional context
func WrapError(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
