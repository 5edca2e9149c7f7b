package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

// verifierContext is the constant MACed under the master-derived key to
// produce a vault's verifier.
const verifierContext = "chamber-verifier"

// ErrVerifierMismatch is returned when a master-derived key does not match
// the stored verifier.
var ErrVerifierMismatch = errors.New("verifier mismatch")

// WrappedVaultKey is the vault key encrypted under the master-derived key.
type WrappedVaultKey struct {
	Nonce      []byte
	Ciphertext []byte
}

// MarshalBinary encodes the wrapped key as nonce || ciphertext.
func (w WrappedVaultKey) MarshalBinary() ([]byte, error) {
	if len(w.Nonce) != NonceSize {
		return nil, fmt.Errorf("invalid wrapped key nonce size: %d", len(w.Nonce))
	}
	out := make([]byte, 0, len(w.Nonce)+len(w.Ciphertext))
	out = append(out, w.Nonce...)
	return append(out, w.Ciphertext...), nil
}

// UnmarshalBinary decodes a blob written by MarshalBinary.
func (w *WrappedVaultKey) UnmarshalBinary(data []byte) error {
	if len(data) <= NonceSize {
		return fmt.Errorf("wrapped key blob too short: %d bytes", len(data))
	}
	w.Nonce = append([]byte(nil), data[:NonceSize]...)
	w.Ciphertext = append([]byte(nil), data[NonceSize:]...)
	return nil
}

// ComputeVerifier returns HMAC-SHA256(masterDerived, "chamber-verifier").
func ComputeVerifier(masterDerived *KeyMaterial) ([]byte, error) {
	var tag []byte
	err := masterDerived.Use(func(key []byte) error {
		tag = verifierTag(key)
		return nil
	})
	return tag, err
}

func verifierTag(key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(verifierContext))
	return mac.Sum(nil)
}

// WrapVaultKey encrypts vaultKey under masterDerived with a fresh nonce and
// computes the verifier for masterDerived.
func WrapVaultKey(masterDerived, vaultKey *KeyMaterial) (WrappedVaultKey, []byte, error) {
	var (
		wrapped  WrappedVaultKey
		verifier []byte
	)

	err := masterDerived.Use(func(mk []byte) error {
		return vaultKey.Use(func(vk []byte) error {
			nonce, ct, err := Seal(mk, vk, nil)
			if err != nil {
				return err
			}
			wrapped = WrappedVaultKey{Nonce: nonce, Ciphertext: ct}
			verifier = verifierTag(mk)
			return nil
		})
	})
	if err != nil {
		return WrappedVaultKey{}, nil, fmt.Errorf("failed to wrap vault key: %w", err)
	}

	return wrapped, verifier, nil
}

// UnwrapVaultKey recovers the vault key. When verifier is non-nil it is
// checked in constant time first and a mismatch fails with
// ErrVerifierMismatch before any decryption is attempted.
func UnwrapVaultKey(masterDerived *KeyMaterial, wrapped WrappedVaultKey, verifier []byte) (*KeyMaterial, error) {
	var vaultKey *KeyMaterial

	err := masterDerived.Use(func(mk []byte) error {
		if verifier != nil && !hmac.Equal(verifierTag(mk), verifier) {
			return ErrVerifierMismatch
		}

		vk, err := Open(mk, wrapped.Nonce, wrapped.Ciphertext, nil)
		if err != nil {
			return err
		}
		if len(vk) != KeySize {
			memguard.WipeBytes(vk)
			return ErrDecrypt
		}

		vaultKey, err = NewKeyMaterial(vk)
		return err
	})
	if err != nil {
		return nil, err
	}

	return vaultKey, nil
}
