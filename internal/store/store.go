// Package store provides storage backends for GateChat.
//
// It holds the user profile records that gate access to the assistant and the
// inbound deduplication log. Backends: in-memory (tests, ephemeral runs),
// SQLite and PostgreSQL.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/GateChat/internal/models"
)

// ProfileRepo is the profile store contract used by the access dispatcher.
type ProfileRepo interface {
	// EnsureProfile creates the profile row if it does not exist. Repeated calls are no-ops.
	EnsureProfile(ctx context.Context, chatID int64, handle string) error

	// UpdateProfile writes the non-nil fields of upd in a single statement.
	// It returns false with a nil error when no profile row exists for chatID
	// or when upd carries no fields.
	UpdateProfile(ctx context.Context, chatID int64, upd models.ProfileUpdate) (bool, error)

	// IsProfileComplete reports whether both name and phone are set.
	IsProfileComplete(ctx context.Context, chatID int64) (bool, error)

	// GetProfile returns the full record, or nil if it does not exist.
	GetProfile(ctx context.Context, chatID int64) (*models.UserProfile, error)
}

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	MessageID      string     `json:"message_id"`
	ConversationID int64      `json:"conversation_id"`
	ReceivedAt     time.Time  `json:"received_at"`
	ProcessedAt    *time.Time `json:"processed_at"`
}

// DedupRepo records inbound transport message ids so redelivered events are dropped.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded (duplicate).
	RecordInbound(ctx context.Context, messageID string, conversationID int64) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error
}

// Store is the full storage surface used by the application.
type Store interface {
	ProfileRepo
	DedupRepo
	Close() error
}

// Opts holds configuration options for database-backed stores.
type Opts struct {
	DSN string // database connection string or SQLite file path
}

// Option defines a configuration option for stores.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	// libpq key=value form
	for _, key := range []string{"host=", "dbname=", "user="} {
		if strings.Contains(dsn, key) {
			return "postgres"
		}
	}
	return "sqlite3"
}

// Open picks a backend from the configured DSN. With no DSN it returns an in-memory store.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Warn("store.Open: no DSN configured, profiles will not survive a restart")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(cfg.DSN) {
	case "postgres":
		st, err := NewPostgresStore(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil
	default:
		st, err := NewSQLiteStore(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, nil
	}
}

// InMemoryStore is a map-backed Store for tests and ephemeral runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[int64]models.UserProfile
	inbound  map[string]*DedupRecord
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[int64]models.UserProfile),
		inbound:  make(map[string]*DedupRecord),
	}
}

func (s *InMemoryStore) EnsureProfile(ctx context.Context, chatID int64, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[chatID]; ok {
		return nil
	}
	s.profiles[chatID] = models.UserProfile{
		ChatID:           chatID,
		Handle:           models.StringPtr(handle),
		RegistrationDate: time.Now().UTC(),
	}
	return nil
}

func (s *InMemoryStore) UpdateProfile(ctx context.Context, chatID int64, upd models.ProfileUpdate) (bool, error) {
	if upd.IsEmpty() {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[chatID]
	if !ok {
		slog.Warn("InMemoryStore.UpdateProfile: attempted to update non-existent profile", "chat_id", chatID)
		return false, nil
	}
	if upd.Name != nil {
		name := *upd.Name
		p.Name = &name
	}
	if upd.Phone != nil {
		phone := *upd.Phone
		p.Phone = &phone
	}
	s.profiles[chatID] = p
	return true, nil
}

func (s *InMemoryStore) IsProfileComplete(ctx context.Context, chatID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[chatID]
	return ok && p.IsComplete(), nil
}

func (s *InMemoryStore) GetProfile(ctx context.Context, chatID int64) (*models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[chatID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ProfileCount returns the number of stored profiles (for tests).
func (s *InMemoryStore) ProfileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID string, conversationID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.inbound[messageID]; seen {
		return false, nil
	}
	s.inbound[messageID] = &DedupRecord{MessageID: messageID, ConversationID: conversationID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.inbound[messageID]; ok {
		now := time.Now()
		rec.ProcessedAt = &now
	}
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
