// Package domain defines the entities shared by the vault engine, the
// registry and the command line: items, item kinds and catalog entries.
package domain

import (
	"errors"
	"strings"
	"time"
)

// ItemSeparator joins an item's name and kind into its associated data.
const ItemSeparator = 0x1f

// Item is a decrypted secret.
type Item struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Kind      ItemKind  `json:"kind"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewItem is the input for creating an item.
type NewItem struct {
	Name  string   `json:"name"`
	Kind  ItemKind `json:"kind"`
	Value string   `json:"value"`
}

// Validate checks the fields a vault needs before encrypting.
func (n NewItem) Validate() error {
	if n.Name == "" {
		return errors.New("item name cannot be empty")
	}
	if !n.Kind.Valid() {
		return errors.New("invalid item kind: " + string(n.Kind))
	}
	return nil
}

// AssociatedData returns name || 0x1f || kind, the bytes bound into every
// item's ciphertext.
func AssociatedData(name string, kind ItemKind) []byte {
	ad := make([]byte, 0, len(name)+1+len(kind))
	ad = append(ad, name...)
	ad = append(ad, ItemSeparator)
	return append(ad, kind...)
}

// Filter narrows a list of items. The zero value matches everything.
type Filter struct {
	Kind   ItemKind `json:"kind,omitempty"`
	Search string   `json:"search,omitempty"`
}

// ParseSearchTokens splits the raw search string into lower-cased tokens.
// Tokens are delimited by '+' or whitespace.
func ParseSearchTokens(raw string) []string {
	fields := strings.FieldsFunc(strings.TrimSpace(raw), func(r rune) bool {
		return r == '+' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tokens = append(tokens, strings.ToLower(f))
	}
	return tokens
}

// Matches reports whether item passes the filter. Every search token must
// appear in the item name.
func (f Filter) Matches(item *Item) bool {
	if item == nil {
		return false
	}
	if f.Kind != "" && item.Kind != f.Kind {
		return false
	}

	name := strings.ToLower(item.Name)
	for _, token := range ParseSearchTokens(f.Search) {
		if !strings.Contains(name, token) {
			return false
		}
	}
	return true
}

// Apply returns the items that match, preserving order.
func (f Filter) Apply(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for i := range items {
		if f.Matches(&items[i]) {
			out = append(out, items[i])
		}
	}
	return out
}
