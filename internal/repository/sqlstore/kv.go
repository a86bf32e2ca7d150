package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fluxytools/chatai/internal/repository"
)

// kvRow is one row of the client_storage table
type kvRow struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// KeyValueRepository implements repository.KeyValueRepository on top of
// a SQL database (PostgreSQL or SQLite)
type KeyValueRepository struct {
	db *sqlx.DB
}

// NewKeyValueRepository creates a new SQL backed key-value repository
func NewKeyValueRepository(db *sqlx.DB) *KeyValueRepository {
	return &KeyValueRepository{db: db}
}

// Get retrieves the value stored under key
func (r *KeyValueRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	query := r.db.Rebind(`
		SELECT value
		FROM client_storage
		WHERE key = ?
	`)

	err := r.db.GetContext(ctx, &value, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return []byte(value), nil
}

// Set upserts the value stored under key
func (r *KeyValueRepository) Set(ctx context.Context, key string, value []byte) error {
	row := kvRow{
		Key:       key,
		Value:     string(value),
		UpdatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO client_storage (key, value, updated_at)
		VALUES (:key, :value, :updated_at)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	_, err := r.db.NamedExecContext(ctx, query, row)
	return err
}

// Delete removes key
func (r *KeyValueRepository) Delete(ctx context.Context, key string) error {
	query := r.db.Rebind("DELETE FROM client_storage WHERE key = ?")
	_, err := r.db.ExecContext(ctx, query, key)
	return err
}
