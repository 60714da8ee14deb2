package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const sqlPurgeInterval = time.Minute

// Expiry is stored as unix seconds; zero means no expiry. This keeps
// the schema identical across the three dialects.
const createKVSchemaSQL = `
CREATE TABLE IF NOT EXISTS kv_entries (
    k VARCHAR(512) NOT NULL,
    v TEXT NOT NULL,
    expires_at BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (k)
)`

// SQLStore backs the key-value layer with sqlite, postgres, or mysql.
// Expired rows are ignored on read and purged in the background.
type SQLStore struct {
	db      *sql.DB
	dialect string

	stopOnce sync.Once
	stop     chan struct{}
}

// NewSQL opens the database named by dialect and initializes the schema.
func NewSQL(dialect, dsn string) (*SQLStore, error) {
	driver := dialect
	switch dialect {
	case "sqlite", "sqlite3":
		dialect = "sqlite"
		driver = "sqlite3"
	case "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s (supported: sqlite, postgres, mysql)", dialect)
	}
	if dsn == "" {
		return nil, fmt.Errorf("sql store requires a dsn")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	s := &SQLStore{
		db:      db,
		dialect: dialect,
		stop:    make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createKVSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize kv schema: %w", err)
	}

	go s.purge()
	return s, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT v, expires_at FROM kv_entries WHERE k = ?`
	if s.dialect == "postgres" {
		query = convertToPostgresPlaceholders(query)
	}

	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sql get %s: %w", key, err)
	}

	if expiresAt > 0 && expiresAt <= time.Now().Unix() {
		// Lazy expiry; the purge loop handles stragglers.
		_ = s.Delete(ctx, key)
		return nil, ErrNotFound
	}
	return []byte(value), nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}

	if _, err := s.db.ExecContext(ctx, s.upsertQuery(), key, string(value), expiresAt); err != nil {
		return fmt.Errorf("sql set %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM kv_entries WHERE k = ?`
	if s.dialect == "postgres" {
		query = convertToPostgresPlaceholders(query)
	}
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("sql delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	query := `SELECT k FROM kv_entries WHERE k LIKE ? ESCAPE '#' AND (expires_at = 0 OR expires_at > ?) ORDER BY k`
	if s.dialect == "postgres" {
		query = convertToPostgresPlaceholders(query)
	}

	rows, err := s.db.QueryContext(ctx, query, escapeLikePrefix(prefix)+"%", time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("sql keys %s: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sql keys %s: %w", prefix, err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.db.Close()
}

func (s *SQLStore) upsertQuery() string {
	switch s.dialect {
	case "postgres":
		return `INSERT INTO kv_entries (k, v, expires_at) VALUES ($1, $2, $3)
                ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v, expires_at = EXCLUDED.expires_at`
	case "mysql":
		return `INSERT INTO kv_entries (k, v, expires_at) VALUES (?, ?, ?)
                ON DUPLICATE KEY UPDATE v = VALUES(v), expires_at = VALUES(expires_at)`
	default: // sqlite
		return `INSERT INTO kv_entries (k, v, expires_at) VALUES (?, ?, ?)
                ON CONFLICT (k) DO UPDATE SET v = excluded.v, expires_at = excluded.expires_at`
	}
}

func (s *SQLStore) purge() {
	ticker := time.NewTicker(sqlPurgeInterval)
	defer ticker.Stop()

	query := `DELETE FROM kv_entries WHERE expires_at > 0 AND expires_at <= ?`
	if s.dialect == "postgres" {
		query = convertToPostgresPlaceholders(query)
	}

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, _ = s.db.ExecContext(ctx, query, time.Now().Unix())
			cancel()
		}
	}
}

// escapeLikePrefix escapes LIKE wildcards with '#' so prefixes
// containing % or _ match literally. '#' avoids dialect differences in
// backslash handling.
func escapeLikePrefix(prefix string) string {
	prefix = strings.ReplaceAll(prefix, `#`, `##`)
	prefix = strings.ReplaceAll(prefix, `%`, `#%`)
	return strings.ReplaceAll(prefix, `_`, `#_`)
}

// convertToPostgresPlaceholders converts ? to $1, $2, etc. in a single pass.
func convertToPostgresPlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	paramNum := 1
	for _, c := range query {
		if c == '?' {
			b.WriteString(fmt.Sprintf("$%d", paramNum))
			paramNum++
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

var _ Store = (*SQLStore)(nil)
