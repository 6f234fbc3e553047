package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/steveyegge/deflect/internal/types"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// New creates a new SQLite storage backend
func New(path string) (*SQLiteStorage, error) {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		// Ensure directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		// WAL mode for concurrent readers, busy timeout for contended writes
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer. Serializing in-process keeps claims free of
	// SQLITE_BUSY upgrades and keeps an in-memory database on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := schemaMigrations.Apply(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: path}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// GetTenantSettings returns a tenant's stored settings, or nil if there are none
func (s *SQLiteStorage) GetTenantSettings(ctx context.Context, tenantID string) (*types.DeflectionSettings, error) {
	var raw string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT settings, updated_at FROM tenant_settings WHERE tenant_id = ?
	`, tenantID).Scan(&raw, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings for tenant %s: %w", tenantID, err)
	}

	settings, err := decodeSettings(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode settings for tenant %s: %w", tenantID, err)
	}
	settings.TenantID = tenantID
	settings.UpdatedAt = fromMillis(updatedAt)
	return settings, nil
}

// UpsertTenantSettings creates or replaces a tenant's settings
func (s *SQLiteStorage) UpsertTenantSettings(ctx context.Context, settings *types.DeflectionSettings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	raw, err := encodeJSON(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenant_settings (tenant_id, settings, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			settings = excluded.settings,
			updated_at = excluded.updated_at
	`, settings.TenantID, raw, toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to upsert settings for tenant %s: %w", settings.TenantID, err)
	}
	settings.UpdatedAt = now
	return nil
}
