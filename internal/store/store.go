// Package store persists a vault's meta record and encrypted item rows. It
// knows nothing about keys: everything it stores is already ciphertext.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Error variables for store operations
var (
	// ErrNotFound is returned when no item has the requested id
	ErrNotFound = errors.New("item not found")
	// ErrDuplicateName is returned when an item name collides with the unique index
	ErrDuplicateName = errors.New("item name already exists")
	// ErrUnknownDriver is returned for a storage driver name that is not supported
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Supported storage drivers
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
)

// sqliteHeader is the magic string at offset 0 of every SQLite database file
var sqliteHeader = []byte("SQLite format 3\x00")

// Meta is the single per-vault record holding the key wrapping material.
type Meta struct {
	KdfParams  []byte // JSON
	WrappedKey []byte // nonce || ciphertext
	Verifier   []byte
}

// ItemRow is the persisted, encrypted form of an item.
type ItemRow struct {
	ID         int64
	Name       string
	Kind       string
	Nonce      []byte
	Ciphertext []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store is the persistence contract for a single vault file.
type Store interface {
	// Meta record
	IsMetaEmpty() (bool, error)
	ReadMeta() (*Meta, error)
	WriteMeta(meta *Meta) error

	// Item rows
	InsertItem(name, kind string, nonce, ciphertext []byte) (int64, error)
	GetItem(id int64) (*ItemRow, error)
	ListItems() ([]ItemRow, error)
	UpdateItem(id int64, nonce, ciphertext []byte) error
	DeleteItem(id int64) error

	Path() string
	Close() error
}

// Open opens or creates the vault file at path with the given driver. An
// empty driver detects the format of an existing file and falls back to
// SQLite for new files.
func Open(path, driver string) (Store, error) {
	if driver == "" {
		detected, err := DetectDriver(path)
		if err != nil {
			return nil, err
		}
		driver = detected
	}

	switch driver {
	case DriverSQLite:
		return OpenSQLite(path)
	case DriverBolt:
		return OpenBolt(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// ResolveDriver returns the driver for path: the detected format of an
// existing non-empty file, or preferred (SQLite when empty) for a new one.
func ResolveDriver(path, preferred string) (string, error) {
	info, err := os.Stat(path)
	if err == nil && info.Size() > 0 {
		return DetectDriver(path)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to stat vault file: %w", err)
	}
	if preferred == "" {
		return DriverSQLite, nil
	}
	return preferred, nil
}

// DetectDriver inspects an existing vault file. Missing or empty files
// report DriverSQLite.
func DetectDriver(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return DriverSQLite, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to open vault file: %w", err)
	}
	defer f.Close()

	header := make([]byte, len(sqliteHeader))
	n, err := io.ReadFull(f, header)
	switch {
	case n == 0:
		return DriverSQLite, nil
	case err == nil && bytes.Equal(header, sqliteHeader):
		return DriverSQLite, nil
	default:
		return DriverBolt, nil
	}
}

// prepareFile creates the parent directory and an empty 0600 file if the
// vault does not exist yet, and tightens permissions on an existing one.
func prepareFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create vault file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to create vault file: %w", err)
	}

	return EnsureFilePermissions(path)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
