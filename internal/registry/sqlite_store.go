package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	apperrors "licensekit/internal/errors"
	"licensekit/pkg/contracts/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS licenses (
	id TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	client TEXT NOT NULL,
	license_type TEXT NOT NULL,
	hardware_id TEXT NOT NULL,
	revoked INTEGER NOT NULL DEFAULT 0,
	record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_licenses_hardware_id ON licenses(hardware_id);
CREATE TABLE IF NOT EXISTS blacklist (
	id TEXT PRIMARY KEY,
	position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const metaLastUpdated = "last_updated"

// SQLiteStore keeps the registry in an embedded SQLite database. Every Update
// runs in a single immediate transaction, so concurrent issuer processes are
// serialized by the database lock.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := "file:" + filepath.ToSlash(path) + "?_txlock=immediate&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load implements Store
func (s *SQLiteStore) Load(ctx context.Context) (*domain.RegistryDocument, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	return loadDocument(ctx, tx)
}

// Update implements Store
func (s *SQLiteStore) Update(ctx context.Context, fn func(doc *domain.RegistryDocument) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	doc, err := loadDocument(ctx, tx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	if err := storeDocument(ctx, tx, doc); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit registry: %w", err)
	}
	return nil
}

// Close implements Store
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func loadDocument(ctx context.Context, tx *sql.Tx) (*domain.RegistryDocument, error) {
	doc := domain.NewRegistryDocument()

	rows, err := tx.QueryContext(ctx, `SELECT id, record FROM licenses ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query licenses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		var rec domain.LicenseRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.ID != id {
			return nil, fmt.Errorf("license row %s: %w", id, apperrors.ErrRegistryCorrupted)
		}
		doc.Licenses = append(doc.Licenses, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read licenses: %w", err)
	}

	blRows, err := tx.QueryContext(ctx, `SELECT id FROM blacklist ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query blacklist: %w", err)
	}
	defer blRows.Close()
	for blRows.Next() {
		var id string
		if err := blRows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist: %w", err)
		}
		doc.Blacklist = append(doc.Blacklist, id)
	}
	if err := blRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blacklist: %w", err)
	}

	var lastUpdated string
	err = tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaLastUpdated).Scan(&lastUpdated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to read registry metadata: %w", err)
	default:
		if doc.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated); err != nil {
			return nil, fmt.Errorf("last_updated %q: %w", lastUpdated, apperrors.ErrRegistryCorrupted)
		}
	}

	if err := checkDocument(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func storeDocument(ctx context.Context, tx *sql.Tx, doc *domain.RegistryDocument) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM licenses`); err != nil {
		return fmt.Errorf("failed to clear licenses: %w", err)
	}
	insert, err := tx.PrepareContext(ctx,
		`INSERT INTO licenses (id, position, client, license_type, hardware_id, revoked, record) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare license insert: %w", err)
	}
	defer insert.Close()

	for i, rec := range doc.Licenses {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode license %s: %w", rec.ID, err)
		}
		if _, err := insert.ExecContext(ctx, rec.ID, i, rec.Client, string(rec.LicenseType), rec.HardwareID, rec.Revoked, string(raw)); err != nil {
			return fmt.Errorf("failed to store license %s: %w", rec.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM blacklist`); err != nil {
		return fmt.Errorf("failed to clear blacklist: %w", err)
	}
	for i, id := range doc.Blacklist {
		if _, err := tx.ExecContext(ctx, `INSERT INTO blacklist (id, position) VALUES (?, ?)`, id, i); err != nil {
			return fmt.Errorf("failed to store blacklist entry %s: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaLastUpdated, doc.LastUpdated.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to store registry metadata: %w", err)
	}
	return nil
}
