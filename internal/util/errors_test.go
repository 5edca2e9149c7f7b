package util

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/vault-cli/chamber/internal/registry"
	"github.com/vault-cli/chamber/internal/store"
	"github.com/vault-cli/chamber/internal/vault"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"generic", errors.New("boom"), ExitError},
		{"invalid input", InvalidInput("bad kind %q", "x"), ExitInvalidInput},
		{"locked", vault.ErrLocked, ExitVaultLocked},
		{"wrong password", fmt.Errorf("unlock: %w", vault.ErrInvalidMasterKey), ExitVaultLocked},
		{"not initialized", vault.ErrNotInitialized, ExitVaultLocked},
		{"throttled", registry.ErrTooManyAttempts, ExitVaultLocked},
		{"file lock", store.ErrLockTimeout, ExitVaultLocked},
		{"tampered item", fmt.Errorf("%w: item 3", vault.ErrDecryptFailure), ExitIntegrityErr},
		{"bad meta", vault.ErrSerialization, ExitIntegrityErr},
		{"not found", vault.ErrItemNotFound, ExitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestPrintError(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = noColor })

	var buf bytes.Buffer
	code := PrintError(&buf, vault.ErrNotInitialized, "open vault")
	assert.Equal(t, ExitVaultLocked, code)
	assert.Contains(t, buf.String(), "Error: open vault - vault not initialized")
	assert.Contains(t, buf.String(), "chamber init")

	buf.Reset()
	assert.Equal(t, ExitOK, PrintError(&buf, nil, ""))
	assert.Empty(t, buf.String())
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil, "ctx"))

	err := WrapError(vault.ErrLocked, "list items")
	assert.EqualError(t, err, "list items: vault is locked")
	assert.ErrorIs(t, err, vault.ErrLocked)
}
