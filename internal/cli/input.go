package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/vault-cli/chamber/internal/util"
)

// Environment variables read instead of prompting, for scripts
const (
	EnvPassword    = "CHAMBER_PASSWORD"
	EnvNewPassword = "CHAMBER_NEW_PASSWORD"
)

// promptSecret reads a value without echo when stdin is a terminal and
// falls back to reading a plain line otherwise.
func (a *App) promptSecret(prompt string) (string, error) {
	if a.readSecret != nil {
		return a.readSecret(prompt)
	}

	if f, ok := a.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.Err, prompt)
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.Err)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(secret), nil
	}

	return a.readLine("")
}

// readLine prints prompt and returns the next line of input without its
// line ending.
func (a *App) readLine(prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(a.Err, prompt)
	}
	line, err := a.lineReader().ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// password returns the master password from the environment or a prompt.
func (a *App) password(prompt string) (string, error) {
	if pw, ok := os.LookupEnv(EnvPassword); ok {
		return pw, nil
	}
	return a.promptSecret(prompt)
}

// newPassword asks for a password twice. envVar, when set, is used as is.
func (a *App) newPassword(envVar, prompt string) (string, error) {
	if pw, ok := os.LookupEnv(envVar); ok {
		if pw == "" {
			return "", util.InvalidInput("%s is empty", envVar)
		}
		return pw, nil
	}

	pw, err := a.promptSecret(prompt)
	if err != nil {
		return "", err
	}
	if pw == "" {
		return "", util.InvalidInput("password cannot be empty")
	}
	confirm, err := a.promptSecret("Confirm password: ")
	if err != nil {
		return "", err
	}
	if pw != confirm {
		return "", util.InvalidInput("passwords do not match")
	}
	return pw, nil
}

// confirm prompts for yes/no confirmation
func (a *App) confirm(prompt string, defaultYes bool) (bool, error) {
	suffix := " [y/N]: "
	if defaultYes {
		suffix = " [Y/n]: "
	}

	input, err := a.readLine(prompt + suffix)
	if err != nil {
		return false, err
	}

	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return defaultYes, nil
	}
	return input == "y" || input == "yes", nil
}
