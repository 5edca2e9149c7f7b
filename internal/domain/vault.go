package domain

import (
	"strings"
	"time"
)

// VaultCategory groups vaults in the registry. Any non-empty string is a
// valid custom category.
type VaultCategory string

const (
	CategoryPersonal VaultCategory = "personal"
	CategoryWork     VaultCategory = "work"
	CategoryTeam     VaultCategory = "team"
	CategoryProject  VaultCategory = "project"
	CategoryTesting  VaultCategory = "testing"
	CategoryArchive  VaultCategory = "archive"
)

// ParseVaultCategory maps known names case-insensitively and keeps anything
// else verbatim as a custom category. Empty input means personal.
func ParseVaultCategory(s string) VaultCategory {
	s = strings.TrimSpace(s)
	if s == "" {
		return CategoryPersonal
	}
	switch c := VaultCategory(strings.ToLower(s)); c {
	case CategoryPersonal, CategoryWork, CategoryTeam, CategoryProject, CategoryTesting, CategoryArchive:
		return c
	}
	return VaultCategory(s)
}

// VaultInfo is one registry entry describing a vault file.
type VaultInfo struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Path         string        `json:"path"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessed time.Time     `json:"last_accessed"`
	Description  string        `json:"description,omitempty"`
	Category     VaultCategory `json:"category"`
	IsActive     bool          `json:"is_active"`
	IsFavorite   bool          `json:"is_favorite"`
}

// VaultInfoPatch carries optional metadata updates. Nil fields are left
// unchanged.
type VaultInfoPatch struct {
	Name        *string
	Description *string
	Category    *VaultCategory
	Favorite    *bool
}
