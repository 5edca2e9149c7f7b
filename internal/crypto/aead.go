package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// NonceSize is the XChaCha20-Poly1305 nonce size
	NonceSize = chacha20poly1305.NonceSizeX
	// TagSize is the Poly1305 authentication tag size
	TagSize = chacha20poly1305.Overhead
)

// ErrDecrypt is returned for any authentication failure. It does not say
// which input was wrong.
var ErrDecrypt = errors.New("decryption failed")

// GenerateNonce creates a cryptographically secure random nonce
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// Seal encrypts plaintext under a raw key with a fresh random nonce and
// binds ad into the tag.
func Seal(key, plaintext, ad []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidKeySize, err)
	}

	nonce, err = GenerateNonce()
	if err != nil {
		return nil, nil, err
	}

	return nonce, aead.Seal(nil, nonce, plaintext, ad), nil
}

// Open decrypts ciphertext under a raw key.
func Open(key, nonce, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeySize, err)
	}
	if len(nonce) != NonceSize {
		return nil, ErrDecrypt
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// Encrypt seals plaintext under k. Every call uses a new nonce.
func Encrypt(k *KeyMaterial, plaintext, ad []byte) (nonce, ciphertext []byte, err error) {
	err = k.Use(func(key []byte) error {
		nonce, ciphertext, err = Seal(key, plaintext, ad)
		return err
	})
	return nonce, ciphertext, err
}

// Decrypt opens ciphertext under k. It fails with ErrDecrypt unless key,
// nonce, ciphertext and ad all match what was used to encrypt.
func Decrypt(k *KeyMaterial, nonce, ciphertext, ad []byte) ([]byte, error) {
	var plaintext []byte
	err := k.Use(func(key []byte) error {
		var openErr error
		plaintext, openErr = Open(key, nonce, ciphertext, ad)
		return openErr
	})
	return plaintext, err
}
