package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// Bucket names
var (
	metaBucket      = []byte("meta")
	itemsBucket     = []byte("items")
	itemNamesBucket = []byte("item_names")

	metaKey = []byte("record")
)

// bbolt holds an exclusive flock on its file, so handles to the same path
// within one process share a single *bbolt.DB.
var (
	boltMu      sync.Mutex
	boltHandles = make(map[string]*sharedBolt)
)

type sharedBolt struct {
	db   *bbolt.DB
	refs int
}

type boltMeta struct {
	KdfParams  string `json:"kdf_params"`
	WrappedKey []byte `json:"wrapped_key"`
	Verifier   []byte `json:"verifier,omitempty"`
}

type boltItem struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// BoltStore implements Store using BoltDB. Items are keyed by big-endian id
// and a second bucket maps names to ids as the unique index.
type BoltStore struct {
	db     *bbolt.DB
	path   string
	key    string
	closed bool
}

// OpenBolt opens or creates a bbolt vault file.
func OpenBolt(path string) (*BoltStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault path: %w", err)
	}

	boltMu.Lock()
	defer boltMu.Unlock()

	if h, ok := boltHandles[abs]; ok {
		h.refs++
		return &BoltStore{db: h.db, path: path, key: abs}, nil
	}

	if err := prepareFile(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open vault database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{metaBucket, itemsBucket, itemNamesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	boltHandles[abs] = &sharedBolt{db: db, refs: 1}
	return &BoltStore{db: db, path: path, key: abs}, nil
}

// Path returns the database file path
func (bs *BoltStore) Path() string {
	return bs.path
}

// Close releases this handle; the file is closed with the last handle.
func (bs *BoltStore) Close() error {
	boltMu.Lock()
	defer boltMu.Unlock()

	if bs.closed {
		return nil
	}
	bs.closed = true

	h, ok := boltHandles[bs.key]
	if !ok {
		return nil
	}
	h.refs--
	if h.refs > 0 {
		return nil
	}
	delete(boltHandles, bs.key)
	return h.db.Close()
}

// IsMetaEmpty reports whether the vault has no meta record yet.
func (bs *BoltStore) IsMetaEmpty() (bool, error) {
	meta, err := bs.ReadMeta()
	if err != nil {
		return false, err
	}
	return meta == nil, nil
}

// ReadMeta returns the meta record, or nil when the vault is uninitialized.
func (bs *BoltStore) ReadMeta() (*Meta, error) {
	var meta *Meta
	err := bs.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(metaBucket).Get(metaKey)
		if data == nil {
			return nil
		}
		var rec boltMeta
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal meta: %w", err)
		}
		meta = &Meta{
			KdfParams:  []byte(rec.KdfParams),
			WrappedKey: rec.WrappedKey,
			Verifier:   rec.Verifier,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read meta: %w", err)
	}
	return meta, nil
}

// WriteMeta replaces the meta record in one transaction.
func (bs *BoltStore) WriteMeta(meta *Meta) error {
	data, err := json.Marshal(boltMeta{
		KdfParams:  string(meta.KdfParams),
		WrappedKey: meta.WrappedKey,
		Verifier:   meta.Verifier,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal meta: %w", err)
	}

	return bs.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(metaBucket)
		if err := b.Delete(metaKey); err != nil {
			return fmt.Errorf("failed to clear meta: %w", err)
		}
		if err := b.Put(metaKey, data); err != nil {
			return fmt.Errorf("failed to write meta: %w", err)
		}
		return nil
	})
}

// InsertItem stores a new encrypted row and returns its id.
func (bs *BoltStore) InsertItem(name, kind string, nonce, ciphertext []byte) (int64, error) {
	var id int64
	err := bs.db.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket(itemNamesBucket)
		if names.Get([]byte(name)) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}

		items := tx.Bucket(itemsBucket)
		seq, err := items.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate item id: %w", err)
		}
		id = int64(seq)

		now := formatTime(time.Now())
		data, err := json.Marshal(boltItem{
			Name:       name,
			Kind:       kind,
			Nonce:      nonce,
			Ciphertext: ciphertext,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}

		if err := items.Put(idKey(id), data); err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
		if err := names.Put([]byte(name), idKey(id)); err != nil {
			return fmt.Errorf("failed to index item name: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetItem returns the row with the given id.
func (bs *BoltStore) GetItem(id int64) (*ItemRow, error) {
	var row *ItemRow
	err := bs.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(itemsBucket).Get(idKey(id))
		if data == nil {
			return ErrNotFound
		}
		var err error
		row, err = decodeBoltItem(id, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ListItems returns every row ordered by name. The name index bucket is
// already sorted bytewise.
func (bs *BoltStore) ListItems() ([]ItemRow, error) {
	var rows []ItemRow
	err := bs.db.View(func(tx *bbolt.Tx) error {
		items := tx.Bucket(itemsBucket)
		return tx.Bucket(itemNamesBucket).ForEach(func(_, v []byte) error {
			id := int64(binary.BigEndian.Uint64(v))
			data := items.Get(v)
			if data == nil {
				return fmt.Errorf("name index points at missing item %d", id)
			}
			row, err := decodeBoltItem(id, data)
			if err != nil {
				return err
			}
			rows = append(rows, *row)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return rows, nil
}

// UpdateItem replaces the ciphertext of a row and bumps updated_at.
func (bs *BoltStore) UpdateItem(id int64, nonce, ciphertext []byte) error {
	return bs.db.Update(func(tx *bbolt.Tx) error {
		items := tx.Bucket(itemsBucket)
		data := items.Get(idKey(id))
		if data == nil {
			return ErrNotFound
		}

		var rec boltItem
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal item: %w", err)
		}
		rec.Nonce = nonce
		rec.Ciphertext = ciphertext
		rec.UpdatedAt = formatTime(time.Now())

		updated, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		if err := items.Put(idKey(id), updated); err != nil {
			return fmt.Errorf("failed to update item: %w", err)
		}
		return nil
	})
}

// DeleteItem removes a row and its name index entry.
func (bs *BoltStore) DeleteItem(id int64) error {
	return bs.db.Update(func(tx *bbolt.Tx) error {
		items := tx.Bucket(itemsBucket)
		data := items.Get(idKey(id))
		if data == nil {
			return ErrNotFound
		}

		var rec boltItem
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal item: %w", err)
		}
		if err := tx.Bucket(itemNamesBucket).Delete([]byte(rec.Name)); err != nil {
			return fmt.Errorf("failed to remove item name: %w", err)
		}
		if err := items.Delete(idKey(id)); err != nil {
			return fmt.Errorf("failed to delete item: %w", err)
		}
		return nil
	})
}

func idKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func decodeBoltItem(id int64, data []byte) (*ItemRow, error) {
	var rec boltItem
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item %d: %w", id, err)
	}

	created, err := parseTime(rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &ItemRow{
		ID:         id,
		Name:       rec.Name,
		Kind:       rec.Kind,
		Nonce:      rec.Nonce,
		Ciphertext: rec.Ciphertext,
		CreatedAt:  created,
		UpdatedAt:  updated,
	}, nil
}
