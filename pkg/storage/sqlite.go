package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLite stores every slot in a single kv table. Useful where a single-file
// database is easier to ship and inspect than a pebble directory.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and brings its table schema up to
// date.
func OpenSQLite(path string, sync bool) (*SQLite, error) {
	synchronous := "NORMAL"
	if sync {
		synchronous = "FULL"
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(%s)", path, synchronous)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer; the ledger serializes commits anyway
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func migrateSchema(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate table schema: %w", err)
	}
	return nil
}

// Get returns the value stored at key.
func (s *SQLite) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Iterate visits keys with prefix in ascending order. Rows are read fully
// before fn runs so the callback may query the backend itself.
func (s *SQLite) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	query := "SELECT key, value FROM kv WHERE key >= ? ORDER BY key"
	args := []any{prefix}
	if end := prefixEnd(prefix); end != nil {
		query = "SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key"
		args = append(args, end)
	}
	if prefix == nil {
		args[0] = []byte{}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return err
	}
	var pairs [][2][]byte
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return err
		}
		pairs = append(pairs, [2][]byte{k, v})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, p := range pairs {
		if err := fn(p[0], p[1]); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// NewBatch starts a batch that commits as one SQL transaction.
func (s *SQLite) NewBatch() Batch {
	return &sqliteBatch{s: s}
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type sqliteBatch struct {
	s      *SQLite
	ops    []op
	closed bool
}

func (b *sqliteBatch) Set(key, value []byte) {
	if value == nil {
		value = []byte{}
	}
	b.ops = append(b.ops, op{key: copyBytes(key), value: copyBytes(value)})
}

func (b *sqliteBatch) Delete(key []byte) {
	b.ops = append(b.ops, op{key: copyBytes(key), delete: true})
}

func (b *sqliteBatch) Len() int {
	return len(b.ops)
}

func (b *sqliteBatch) Commit() error {
	if b.closed {
		return ErrClosed
	}
	for _, o := range b.ops {
		if len(o.key) == 0 {
			return ErrEmptyKey
		}
	}

	tx, err := b.s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("error in begin transaction: %w", err)
	}
	for _, o := range b.ops {
		if o.delete {
			_, err = tx.Exec("DELETE FROM kv WHERE key = ?", o.key)
		} else {
			_, err = tx.Exec("INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", o.key, o.value)
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("error executing batch statement: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error in commit transaction: %w", err)
	}
	b.ops = nil
	return nil
}

func (b *sqliteBatch) Close() error {
	b.closed = true
	b.ops = nil
	return nil
}
