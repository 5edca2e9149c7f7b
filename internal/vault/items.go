package vault

import (
	"fmt"

	"github.com/vault-cli/chamber/internal/crypto"
	"github.com/vault-cli/chamber/internal/domain"
	"github.com/vault-cli/chamber/internal/store"
)

// ListItems decrypts every item, ordered by name. A single row that fails
// to decrypt fails the whole call.
func (v *Vault) ListItems() ([]domain.Item, error) {
	if err := v.requireUnlocked(); err != nil {
		return nil, err
	}

	rows, err := v.store.ListItems()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	items := make([]domain.Item, 0, len(rows))
	for i := range rows {
		item, err := v.decryptRow(&rows[i])
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

// GetItemByName returns the item with exactly this name, or nil when there
// is none.
func (v *Vault) GetItemByName(name string) (*domain.Item, error) {
	if err := v.requireUnlocked(); err != nil {
		return nil, err
	}

	rows, err := v.store.ListItems()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	for i := range rows {
		if rows[i].Name == name {
			return v.decryptRow(&rows[i])
		}
	}
	return nil, nil
}

// GetItem returns the item with the given id.
func (v *Vault) GetItem(id int64) (*domain.Item, error) {
	if err := v.requireUnlocked(); err != nil {
		return nil, err
	}

	row, err := v.store.GetItem(id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return v.decryptRow(row)
}

// CreateItem encrypts and stores a new item, returning its id. A taken name
// fails with ErrDuplicateName and leaves the existing item untouched.
func (v *Vault) CreateItem(item domain.NewItem) (int64, error) {
	if err := v.requireUnlocked(); err != nil {
		return 0, err
	}
	if err := item.Validate(); err != nil {
		return 0, fmt.Errorf("invalid item: %w", err)
	}

	nonce, ct, err := crypto.Encrypt(v.vaultKey, []byte(item.Value), domain.AssociatedData(item.Name, item.Kind))
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt item: %w", err)
	}

	id, err := v.store.InsertItem(item.Name, string(item.Kind), nonce, ct)
	if err != nil {
		return 0, mapStoreError(err)
	}

	v.log.Debug().Int64("item_id", id).Str("kind", string(item.Kind)).Msg("item created")
	return id, nil
}

// UpdateItem replaces an item's value. Name, kind, id and created_at are
// preserved.
func (v *Vault) UpdateItem(id int64, value string) error {
	if err := v.requireUnlocked(); err != nil {
		return err
	}

	row, err := v.store.GetItem(id)
	if err != nil {
		return mapStoreError(err)
	}

	ad := domain.AssociatedData(row.Name, domain.ItemKind(row.Kind))
	nonce, ct, err := crypto.Encrypt(v.vaultKey, []byte(value), ad)
	if err != nil {
		return fmt.Errorf("failed to encrypt item: %w", err)
	}

	if err := v.store.UpdateItem(id, nonce, ct); err != nil {
		return mapStoreError(err)
	}

	v.log.Debug().Int64("item_id", id).Msg("item updated")
	return nil
}

// DeleteItem removes an item.
func (v *Vault) DeleteItem(id int64) error {
	if err := v.requireUnlocked(); err != nil {
		return err
	}

	if err := v.store.DeleteItem(id); err != nil {
		return mapStoreError(err)
	}

	v.log.Debug().Int64("item_id", id).Msg("item deleted")
	return nil
}

func (v *Vault) decryptRow(row *store.ItemRow) (*domain.Item, error) {
	kind := domain.ItemKind(row.Kind)

	plaintext, err := crypto.Decrypt(v.vaultKey, row.Nonce, row.Ciphertext, domain.AssociatedData(row.Name, kind))
	if err != nil {
		return nil, fmt.Errorf("%w: item %q: %w", ErrDecryptFailure, row.Name, err)
	}

	return &domain.Item{
		ID:        row.ID,
		Name:      row.Name,
		Kind:      kind,
		Value:     string(plaintext),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}
