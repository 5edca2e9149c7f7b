// Package clipboard copies secrets to the system clipboard and clears them
// again after a timeout.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
)

// ErrUnavailable is returned when no clipboard backend is usable
var ErrUnavailable = errors.New("clipboard not available")

// Backend reads and writes the clipboard
type Backend interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemBackend struct{}

func (systemBackend) ReadAll() (string, error) { return clipboard.ReadAll() }
func (systemBackend) WriteAll(s string) error  { return clipboard.WriteAll(s) }

// System is the OS clipboard
var System Backend = systemBackend{}

// IsAvailable returns true if clipboard functionality is available
func IsAvailable() bool {
	if clipboard.Unsupported {
		return false
	}
	_, err := clipboard.ReadAll()
	return err == nil
}

// CopyWithTimeout copies text and clears it after timeout unless the
// clipboard has changed in the meantime or ctx is cancelled first. The
// returned channel closes once the clear has run or been abandoned. A
// non-positive timeout never clears.
func CopyWithTimeout(ctx context.Context, b Backend, text string, timeout time.Duration) (<-chan struct{}, error) {
	if err := b.WriteAll(text); err != nil {
		return nil, fmt.Errorf("failed to copy to clipboard: %w", err)
	}

	done := make(chan struct{})
	if timeout <= 0 {
		close(done)
		return done, nil
	}

	go func() {
		defer close(done)

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		// cancellation clears as well
		current, err := b.ReadAll()
		if err == nil && current == text {
			_ = b.WriteAll("")
		}
	}()

	return done, nil
}

// Clear clears the clipboard
func Clear(b Backend) error {
	return b.WriteAll("")
}
