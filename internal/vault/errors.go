package vault

import "errors"

// Error kinds surfaced by Vault operations. Callers match them with
// errors.Is; the underlying cause is wrapped alongside where one exists.
var (
	// ErrNotInitialized is returned when the vault has no meta record yet
	ErrNotInitialized = errors.New("vault not initialized")
	// ErrInvalidMasterKey is returned for a wrong master password, whatever the reason
	ErrInvalidMasterKey = errors.New("invalid master key")
	// ErrLocked is returned when an item operation runs without a resident vault key
	ErrLocked = errors.New("vault is locked")
	// ErrItemNotFound is returned when no item has the requested id
	ErrItemNotFound = errors.New("item not found")
	// ErrDuplicateName is returned when an item name is already taken
	ErrDuplicateName = errors.New("item already exists")
	// ErrDecryptFailure is returned when an item fails authentication
	ErrDecryptFailure = errors.New("failed to decrypt item")
	// ErrStorage wraps failures of the persistence engine
	ErrStorage = errors.New("storage error")
	// ErrSerialization is returned for malformed meta or KDF data
	ErrSerialization = errors.New("serialization error")
)
