// Package store provides storage backends for GateChat.
//
// This file implements an SQLite-backed profile store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/GateChat/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY under concurrent conversations.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) EnsureProfile(ctx context.Context, chatID int64, handle string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (chat_id, username, registration_date) VALUES (?, ?, ?)`,
		chatID, nilIfEmpty(handle), time.Now().UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore EnsureProfile failed", "error", err, "chat_id", chatID)
		return fmt.Errorf("failed to ensure profile %d: %w", chatID, err)
	}
	slog.Debug("SQLiteStore EnsureProfile succeeded", "chat_id", chatID)
	return nil
}

func (s *SQLiteStore) UpdateProfile(ctx context.Context, chatID int64, upd models.ProfileUpdate) (bool, error) {
	if upd.IsEmpty() {
		return false, nil
	}
	query, args := buildProfileUpdate(upd, chatID, sqlitePlaceholder)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore UpdateProfile failed", "error", err, "chat_id", chatID)
		return false, fmt.Errorf("failed to update profile %d: %w", chatID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows for profile %d: %w", chatID, err)
	}
	if n == 0 {
		slog.Warn("SQLiteStore UpdateProfile: no profile row", "chat_id", chatID)
		return false, nil
	}
	slog.Debug("SQLiteStore UpdateProfile succeeded", "chat_id", chatID)
	return true, nil
}

func (s *SQLiteStore) IsProfileComplete(ctx context.Context, chatID int64) (bool, error) {
	var complete bool
	err := s.db.QueryRowContext(ctx,
		`SELECT name IS NOT NULL AND phone IS NOT NULL FROM users WHERE chat_id = ?`, chatID,
	).Scan(&complete)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore IsProfileComplete failed", "error", err, "chat_id", chatID)
		return false, fmt.Errorf("failed to check profile %d: %w", chatID, err)
	}
	return complete, nil
}

func (s *SQLiteStore) GetProfile(ctx context.Context, chatID int64) (*models.UserProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, name, phone, username, registration_date FROM users WHERE chat_id = ?`, chatID)
	p, err := scanProfileRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProfile failed", "error", err, "chat_id", chatID)
		return nil, fmt.Errorf("failed to get profile %d: %w", chatID, err)
	}
	return p, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
