package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/smallmercies/watch"
)

// Schema for the settings table. revision increases on every write so the
// watcher sees same-connection changes too.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	revision   INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store persists settings in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates the schema if needed and returns a Store.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("settings: create schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Load reads every stored key.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	cur, _, err := s.Snapshot(ctx)
	return cur, err
}

// Snapshot reads every stored key together with the highest revision
// among them. Pass the revision to Watch so that writes landing after
// this read are never missed.
func (s *Store) Snapshot(ctx context.Context) (Settings, int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, revision FROM settings`)
	if err != nil {
		return Settings{}, 0, fmt.Errorf("settings: load: %w", err)
	}
	defer rows.Close()

	m := make(map[string]any)
	var rev int64
	for rows.Next() {
		var key, raw string
		var r int64
		if err := rows.Scan(&key, &raw, &r); err != nil {
			return Settings{}, 0, fmt.Errorf("settings: scan: %w", err)
		}
		rev = max(rev, r)
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			s.logger.Warn("settings: skipping undecodable value", "key", key, "error", err)
			continue
		}
		m[key] = v
	}
	if err := rows.Err(); err != nil {
		return Settings{}, 0, fmt.Errorf("settings: load: %w", err)
	}
	return Settings{values: m}, rev, nil
}

// Get reads one key.
func (s *Store) Get(ctx context.Context, key string) (any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("settings: get %s: %w", key, err)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("settings: decode %s: %w", key, err)
	}
	return v, nil
}

// Set writes one key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	if !isPrimitive(value) {
		return fmt.Errorf("%w: key %q got %T", ErrNotPrimitive, key, value)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, revision, updated_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(revision), 0) + 1 FROM settings), ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			revision   = excluded.revision,
			updated_at = excluded.updated_at
	`, key, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}

// Seed inserts every key of defaults that is not stored yet. Existing
// values are left untouched.
func (s *Store) Seed(ctx context.Context, defaults Settings) error {
	for _, key := range defaults.Keys() {
		raw, err := json.Marshal(defaults.values[key])
		if err != nil {
			return fmt.Errorf("settings: encode %s: %w", key, err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO settings (key, value, revision, updated_at)
			VALUES (?, ?, (SELECT COALESCE(MAX(revision), 0) + 1 FROM settings), ?)
			ON CONFLICT(key) DO NOTHING
		`, key, string(raw), time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("settings: seed %s: %w", key, err)
		}
	}
	return nil
}

// Watch polls the store in the background until ctx is cancelled and
// calls apply with the freshly loaded settings after every change past
// revision since, as returned by Snapshot.
func (s *Store) Watch(ctx context.Context, since int64, interval time.Duration, apply func(Settings)) *watch.Watcher {
	w := watch.New(s.db, watch.Options{
		Interval: interval,
		Settle:   2 * interval,
		Detector: watch.Revision("settings", "revision"),
		Logger:   s.logger,
	})
	go w.OnChangeFrom(ctx, since, func() error {
		cur, err := s.Load(ctx)
		if err != nil {
			return err
		}
		s.logger.Info("settings: reloaded", "keys", len(cur.values))
		apply(cur)
		return nil
	})
	return w
}
