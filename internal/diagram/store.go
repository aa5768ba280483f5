package diagram

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/livetemplate/lessonview/internal/cache"
)

// idToken stands in for the render id inside stored markup, so a stored
// diagram can be replayed under a fresh id.
const idToken = "__LESSONVIEW_DIAGRAM_ID__"

// Store persists rendered markup by key.
type Store interface {
	Get(ctx context.Context, key string) (markup string, found bool, err error)
	Put(ctx context.Context, key, markup string) error
}

// SQLStore keeps markup in a SQLite or PostgreSQL table.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQLStore opens the store and creates its table. driver is "sqlite"
// (dsn is a file path) or "postgres" (dsn is a connection URL).
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("diagram store: unsupported driver %q (use sqlite or postgres)", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("diagram store: %s dsn is required", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("diagram store: failed to open database: %w", err)
	}
	if driver == "postgres" {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	} else {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("diagram store: failed to connect: %w", err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS diagram_markup (
	cache_key TEXT PRIMARY KEY,
	markup TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("diagram store: failed to create table: %w", err)
	}
	return nil
}

// bind rewrites $N placeholders for drivers that use '?'.
func (s *SQLStore) bind(query string) string {
	if s.driver != "sqlite" {
		return query
	}
	for i := 9; i >= 1; i-- {
		query = strings.ReplaceAll(query, fmt.Sprintf("$%d", i), "?")
	}
	return query
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var markup string
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT markup FROM diagram_markup WHERE cache_key = $1`), key).Scan(&markup)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("diagram store: get failed: %w", err)
	}
	return markup, true, nil
}

func (s *SQLStore) Put(ctx context.Context, key, markup string) error {
	_, err := s.db.ExecContext(ctx, s.bind(`INSERT INTO diagram_markup (cache_key, markup, created_at) VALUES ($1, $2, $3)
ON CONFLICT (cache_key) DO UPDATE SET markup = excluded.markup, created_at = excluded.created_at`),
		key, markup, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("diagram store: put failed: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// StoreService wraps another service with a two-tier markup cache: an
// in-memory tier in front of a persistent Store. Only successful renders
// are stored.
type StoreService struct {
	next  Service
	store Store
	l1    *cache.MemoryCache[string]
	ttl   time.Duration
}

// NewStoreService caches next's output. store may be nil for memory only.
func NewStoreService(next Service, store Store, ttl time.Duration) *StoreService {
	return &StoreService{
		next:  next,
		store: store,
		l1:    cache.NewMemoryCache[string](512),
		ttl:   ttl,
	}
}

// Key returns the content address of a description.
func Key(description string) string {
	sum := blake3.Sum256([]byte(description))
	return hex.EncodeToString(sum[:])
}

func (s *StoreService) Render(ctx context.Context, id, description string) (string, error) {
	key := Key(description)

	if stored, ok := s.l1.Get(key); ok {
		return restoreID(stored, id), nil
	}
	if s.store != nil {
		stored, found, err := s.store.Get(ctx, key)
		if err != nil {
			log.Printf("[Diagram] Store lookup failed, rendering directly: %v", err)
		} else if found {
			s.l1.Set(key, stored, s.ttl)
			return restoreID(stored, id), nil
		}
	}

	markup, err := s.next.Render(ctx, id, description)
	if err != nil {
		return "", err
	}

	stored := strings.ReplaceAll(markup, id, idToken)
	s.l1.Set(key, stored, s.ttl)
	if s.store != nil {
		if err := s.store.Put(ctx, key, stored); err != nil {
			log.Printf("[Diagram] Failed to persist diagram %s: %v", key[:12], err)
		}
	}
	return markup, nil
}

// Close stops the in-memory tier.
func (s *StoreService) Close() {
	s.l1.Stop()
}

func restoreID(stored, id string) string {
	return strings.ReplaceAll(stored, idToken, id)
}
