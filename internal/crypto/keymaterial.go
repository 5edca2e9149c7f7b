// Package crypto implements the key hierarchy of a chamber vault: Argon2id
// master key derivation, wrapping of the vault key, and XChaCha20-Poly1305
// item encryption.
package crypto

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

// ErrKeyDestroyed is returned when key material is used after Destroy.
var ErrKeyDestroyed = errors.New("key material destroyed")

// KeyMaterial holds a 32-byte key inside a memguard enclave. The plaintext
// key is only ever exposed inside Use, in a locked buffer that is wiped as
// soon as the callback returns.
type KeyMaterial struct {
	enclave *memguard.Enclave
}

// NewKeyMaterial seals key into a new enclave. The source slice is wiped.
func NewKeyMaterial(key []byte) (*KeyMaterial, error) {
	if len(key) != KeySize {
		memguard.WipeBytes(key)
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKeySize, KeySize, len(key))
	}
	return &KeyMaterial{enclave: memguard.NewEnclave(key)}, nil
}

// GenerateKeyMaterial returns fresh random key material.
func GenerateKeyMaterial() *KeyMaterial {
	return &KeyMaterial{enclave: memguard.NewEnclaveRandom(KeySize)}
}

// Use calls fn with the plaintext key. The slice must not be retained.
func (k *KeyMaterial) Use(fn func(key []byte) error) error {
	if k == nil || k.enclave == nil {
		return ErrKeyDestroyed
	}

	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer buf.Destroy()

	return fn(buf.Bytes())
}

// Alive reports whether the key can still be used.
func (k *KeyMaterial) Alive() bool {
	return k != nil && k.enclave != nil
}

// Destroy drops the enclave. Safe to call more than once.
func (k *KeyMaterial) Destroy() {
	if k == nil {
		return
	}
	k.enclave = nil
}
