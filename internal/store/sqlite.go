package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	kdf_params  TEXT NOT NULL,
	wrapped_key BLOB NOT NULL,
	verifier    BLOB
);

CREATE TABLE IF NOT EXISTS items (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	nonce      BLOB NOT NULL,
	ciphertext BLOB NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_items_name ON items(name);
`

// SQLiteStore implements Store on a single SQLite connection.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates a SQLite vault file and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := prepareFile(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault database: %w", err)
	}
	// One connection per handle; pragmas below apply to it.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		sqliteSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize vault database: %w", err)
		}
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// IsMetaEmpty reports whether the vault has no meta record yet.
func (s *SQLiteStore) IsMetaEmpty() (bool, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM meta").Scan(&n); err != nil {
		return false, fmt.Errorf("failed to count meta rows: %w", err)
	}
	return n == 0, nil
}

// ReadMeta returns the meta record, or nil when the vault is uninitialized.
func (s *SQLiteStore) ReadMeta() (*Meta, error) {
	var (
		kdf  string
		meta Meta
	)
	err := s.db.QueryRow("SELECT kdf_params, wrapped_key, verifier FROM meta WHERE id = 1").
		Scan(&kdf, &meta.WrappedKey, &meta.Verifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read meta: %w", err)
	}
	meta.KdfParams = []byte(kdf)
	return &meta, nil
}

// WriteMeta replaces the meta record in one transaction.
func (s *SQLiteStore) WriteMeta(meta *Meta) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin meta transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM meta"); err != nil {
		return fmt.Errorf("failed to clear meta: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO meta (id, kdf_params, wrapped_key, verifier) VALUES (1, ?, ?, ?)",
		string(meta.KdfParams), meta.WrappedKey, meta.Verifier,
	); err != nil {
		return fmt.Errorf("failed to write meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit meta: %w", err)
	}
	return nil
}

// InsertItem stores a new encrypted row and returns its id.
func (s *SQLiteStore) InsertItem(name, kind string, nonce, ciphertext []byte) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.db.Exec(
		"INSERT INTO items (name, kind, nonce, ciphertext, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		name, kind, nonce, ciphertext, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
		return 0, fmt.Errorf("failed to insert item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read item id: %w", err)
	}
	return id, nil
}

// GetItem returns the row with the given id.
func (s *SQLiteStore) GetItem(id int64) (*ItemRow, error) {
	row := s.db.QueryRow(
		"SELECT id, name, kind, nonce, ciphertext, created_at, updated_at FROM items WHERE id = ?", id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// ListItems returns every row ordered by name.
func (s *SQLiteStore) ListItems() ([]ItemRow, error) {
	rows, err := s.db.Query(
		"SELECT id, name, kind, nonce, ciphertext, created_at, updated_at FROM items ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []ItemRow
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// UpdateItem replaces the ciphertext of a row and bumps updated_at.
func (s *SQLiteStore) UpdateItem(id int64, nonce, ciphertext []byte) error {
	res, err := s.db.Exec(
		"UPDATE items SET nonce = ?, ciphertext = ?, updated_at = ? WHERE id = ?",
		nonce, ciphertext, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return requireAffected(res)
}

// DeleteItem removes a row.
func (s *SQLiteStore) DeleteItem(id int64) error {
	res, err := s.db.Exec("DELETE FROM items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return requireAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (*ItemRow, error) {
	var (
		item             ItemRow
		created, updated string
	)
	if err := r.Scan(&item.ID, &item.Name, &item.Kind, &item.Nonce, &item.Ciphertext, &created, &updated); err != nil {
		return nil, err
	}

	var err error
	if item.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &item, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
