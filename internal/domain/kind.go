package domain

import (
	"fmt"
	"strings"
)

// ItemKind is the closed set of secret types a vault can hold. The string
// value is the tag persisted with every item and bound into its AEAD.
type ItemKind string

const (
	KindPassword    ItemKind = "password"
	KindEnvVar      ItemKind = "env"
	KindNote        ItemKind = "note"
	KindAPIKey      ItemKind = "apikey"
	KindSSHKey      ItemKind = "sshkey"
	KindCertificate ItemKind = "certificate"
	KindDatabase    ItemKind = "database"
)

var allKinds = []ItemKind{
	KindPassword,
	KindEnvVar,
	KindNote,
	KindAPIKey,
	KindSSHKey,
	KindCertificate,
	KindDatabase,
}

var kindAliases = map[string]ItemKind{
	"pass":        KindPassword,
	"pwd":         KindPassword,
	"envvar":      KindEnvVar,
	"environment": KindEnvVar,
	"api_key":     KindAPIKey,
	"api-key":     KindAPIKey,
	"token":       KindAPIKey,
	"ssh":         KindSSHKey,
	"ssh_key":     KindSSHKey,
	"ssh-key":     KindSSHKey,
	"cert":        KindCertificate,
	"ssl":         KindCertificate,
	"tls":         KindCertificate,
	"db":          KindDatabase,
	"connection":  KindDatabase,
}

// AllItemKinds returns every kind in display order.
func AllItemKinds() []ItemKind {
	out := make([]ItemKind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseItemKind accepts a persisted tag or one of its user-facing aliases,
// case-insensitively. Unknown input is an error.
func ParseItemKind(s string) (ItemKind, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, k := range allKinds {
		if string(k) == key {
			return k, nil
		}
	}
	if k, ok := kindAliases[key]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown item kind %q", s)
}

// Valid reports whether k is one of the known kinds.
func (k ItemKind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

// String returns the persisted tag
func (k ItemKind) String() string {
	return string(k)
}

// DisplayName returns a human-readable label.
func (k ItemKind) DisplayName() string {
	switch k {
	case KindPassword:
		return "Password"
	case KindEnvVar:
		return "Environment Variable"
	case KindNote:
		return "Note"
	case KindAPIKey:
		return "API Key"
	case KindSSHKey:
		return "SSH Key"
	case KindCertificate:
		return "Certificate"
	case KindDatabase:
		return "Database Connection"
	default:
		return string(k)
	}
}
