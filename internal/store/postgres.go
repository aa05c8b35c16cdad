// Package store provides storage backends for GateChat.
//
// This file implements a PostgreSQL-backed profile store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/GateChat/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) EnsureProfile(ctx context.Context, chatID int64, handle string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (chat_id, username, registration_date) VALUES ($1, $2, $3) ON CONFLICT (chat_id) DO NOTHING`,
		chatID, nilIfEmpty(handle), time.Now().UTC(),
	)
	if err != nil {
		slog.Error("PostgresStore EnsureProfile failed", "error", err, "chat_id", chatID)
		return fmt.Errorf("failed to ensure profile %d: %w", chatID, err)
	}
	slog.Debug("PostgresStore EnsureProfile succeeded", "chat_id", chatID)
	return nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, chatID int64, upd models.ProfileUpdate) (bool, error) {
	if upd.IsEmpty() {
		return false, nil
	}
	query, args := buildProfileUpdate(upd, chatID, postgresPlaceholder)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore UpdateProfile failed", "error", err, "chat_id", chatID)
		return false, fmt.Errorf("failed to update profile %d: %w", chatID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows for profile %d: %w", chatID, err)
	}
	if n == 0 {
		slog.Warn("PostgresStore UpdateProfile: no profile row", "chat_id", chatID)
		return false, nil
	}
	slog.Debug("PostgresStore UpdateProfile succeeded", "chat_id", chatID)
	return true, nil
}

func (s *PostgresStore) IsProfileComplete(ctx context.Context, chatID int64) (bool, error) {
	var complete bool
	err := s.db.QueryRowContext(ctx,
		`SELECT name IS NOT NULL AND phone IS NOT NULL FROM users WHERE chat_id = $1`, chatID,
	).Scan(&complete)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		slog.Error("PostgresStore IsProfileComplete failed", "error", err, "chat_id", chatID)
		return false, fmt.Errorf("failed to check profile %d: %w", chatID, err)
	}
	return complete, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, chatID int64) (*models.UserProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, name, phone, username, registration_date FROM users WHERE chat_id = $1`, chatID)
	p, err := scanProfileRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProfile failed", "error", err, "chat_id", chatID)
		return nil, fmt.Errorf("failed to get profile %d: %w", chatID, err)
	}
	return p, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
