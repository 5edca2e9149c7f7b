package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/text/unicode/norm"
)

const (
	// KeySize is the size of every derived, generated and wrapped key
	KeySize = 32
	// SaltSize is the size of salts generated for new KDF parameters
	SaltSize = 16
	// MinSaltSize is the smallest salt accepted when deriving keys
	MinSaltSize = 8

	// Default Argon2id parameters (~19 MiB, 3 passes, single lane)
	DefaultMemoryKiB   = 19456
	DefaultTimeCost    = 3
	DefaultParallelism = 1

	// MaxMemoryKiB caps the memory cost at 4 GiB
	MaxMemoryKiB = 4 * 1024 * 1024
	// MaxParallelism is the largest lane count argon2 supports
	MaxParallelism = 255
)

var (
	ErrInvalidKdfParams = errors.New("invalid KDF parameters")
	ErrInvalidKeySize   = errors.New("invalid key size")
)

// KdfParams are the Argon2id parameters stored in a vault's meta record.
// They are never mutated once written; a password change generates new ones.
type KdfParams struct {
	Salt        []byte `json:"salt"`
	MemoryKiB   uint32 `json:"m_cost_kib"`
	TimeCost    uint32 `json:"t_cost"`
	Parallelism uint32 `json:"p_cost"`
}

// DefaultKdfParams returns the default cost parameters with a fresh salt.
func DefaultKdfParams() (KdfParams, error) {
	return NewKdfParams(DefaultMemoryKiB, DefaultTimeCost, DefaultParallelism)
}

// NewKdfParams returns validated parameters with a fresh random salt.
func NewKdfParams(memoryKiB, timeCost, parallelism uint32) (KdfParams, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return KdfParams{}, err
	}

	params := KdfParams{
		Salt:        salt,
		MemoryKiB:   memoryKiB,
		TimeCost:    timeCost,
		Parallelism: parallelism,
	}
	if err := params.Validate(); err != nil {
		return KdfParams{}, err
	}
	return params, nil
}

// GenerateSalt creates a cryptographically secure random salt
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// Validate checks the parameter combination accepted by Argon2id.
func (p KdfParams) Validate() error {
	switch {
	case len(p.Salt) < MinSaltSize:
		return fmt.Errorf("%w: salt must be at least %d bytes, got %d", ErrInvalidKdfParams, MinSaltSize, len(p.Salt))
	case p.TimeCost < 1:
		return fmt.Errorf("%w: time cost must be at least 1", ErrInvalidKdfParams)
	case p.Parallelism < 1 || p.Parallelism > MaxParallelism:
		return fmt.Errorf("%w: parallelism must be between 1 and %d", ErrInvalidKdfParams, MaxParallelism)
	case p.MemoryKiB < 8*p.Parallelism:
		return fmt.Errorf("%w: memory cost must be at least 8 KiB per lane", ErrInvalidKdfParams)
	case p.MemoryKiB > MaxMemoryKiB:
		return fmt.Errorf("%w: memory cost must not exceed %d KiB", ErrInvalidKdfParams, MaxMemoryKiB)
	}
	return nil
}

// Encode serializes the parameters to the JSON stored in the meta record.
func (p KdfParams) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal KDF params: %w", err)
	}
	return data, nil
}

// DecodeKdfParams parses and validates the JSON stored in the meta record.
func DecodeKdfParams(data []byte) (KdfParams, error) {
	var p KdfParams
	if err := json.Unmarshal(data, &p); err != nil {
		return KdfParams{}, fmt.Errorf("failed to decode KDF params: %w", err)
	}
	if err := p.Validate(); err != nil {
		return KdfParams{}, err
	}
	return p, nil
}

// DeriveKey derives the master key from a password using Argon2id. The
// password is NFKC-normalized first so that visually identical input typed
// on different keyboards derives the same key.
func DeriveKey(password string, p KdfParams) (*KeyMaterial, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	pw := []byte(norm.NFKC.String(password))
	defer memguard.WipeBytes(pw)

	key := argon2.IDKey(pw, p.Salt, p.TimeCost, p.MemoryKiB, uint8(p.Parallelism), KeySize)
	return NewKeyMaterial(key)
}
