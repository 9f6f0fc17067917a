package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/calcwerk/vaultcore/internal/common"
	"github.com/calcwerk/vaultcore/internal/dbx"
	"github.com/calcwerk/vaultcore/internal/store/migrations"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteBackend is a file-backed RawBackend for local persistence.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLiteBackend opens (or creates) the database at dsn and brings the
// schema up to date via the embedded goose migrations.
func OpenSQLiteBackend(ctx context.Context, dsn string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening sqlite: %v", common.ErrStorageUnavailable, err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrating schema: %v", common.ErrStorageUnavailable, err)
	}
	return &SQLiteBackend{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) RawGet(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM items WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: selecting item: %v", common.ErrStorageUnavailable, err)
	}
	return data, true, nil
}

func (b *SQLiteBackend) RawSet(ctx context.Context, key string, data []byte) error {
	query := `INSERT INTO items (key, data, stored_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, stored_at = excluded.stored_at`
	if _, err := b.db.ExecContext(ctx, query, key, data); err != nil {
		return fmt.Errorf("%w: upserting item: %v", common.ErrStorageUnavailable, err)
	}
	return nil
}

func (b *SQLiteBackend) RawRemove(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM items WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: deleting item: %v", common.ErrStorageUnavailable, err)
	}
	return nil
}

func (b *SQLiteBackend) RawKeys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM items ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("%w: selecting keys: %v", common.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("%w: scanning key: %v", common.ErrStorageUnavailable, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating keys: %v", common.ErrStorageUnavailable, err)
	}
	return keys, nil
}

// RawUpdate implements AtomicUpdater inside a transaction, so an item is
// either fully converted or left as it was.
func (b *SQLiteBackend) RawUpdate(ctx context.Context, key string, fn func(data []byte, ok bool) ([]byte, error)) error {
	return dbx.WithTx(ctx, b.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var data []byte
		ok := true
		err := tx.QueryRowContext(ctx, `SELECT data FROM items WHERE key = ?`, key).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			ok = false
		} else if err != nil {
			return fmt.Errorf("%w: selecting item: %v", common.ErrStorageUnavailable, err)
		}

		next, err := fn(data, ok)
		if err != nil {
			return err
		}

		query := `INSERT INTO items (key, data, stored_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET data = excluded.data, stored_at = excluded.stored_at`
		if _, err := tx.ExecContext(ctx, query, key, next); err != nil {
			return fmt.Errorf("%w: upserting item: %v", common.ErrStorageUnavailable, err)
		}
		return nil
	})
}
