// Package sqlitelog is a single-node session transcript log on SQLite. Each
// key is a row in transcript_logs carrying its expiry; its values are rows in
// transcript_fragments ordered by an autoincrement sequence.
package sqlitelog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"ai-speech-intelligence-service/internal/service/stitch"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcript_logs (
	log_key    TEXT PRIMARY KEY,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS transcript_fragments (
	seq     INTEGER PRIMARY KEY AUTOINCREMENT,
	log_key TEXT NOT NULL,
	value   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fragments_key ON transcript_fragments (log_key, seq);
`

// Store implements stitch.OrderedLog and stitch.Consumer.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path with WAL enabled.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection keeps appends serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log.Info().Str("path", path).Msg("SQLite ordered log opened")
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append adds value to key and resets the key's expiry. A key whose expiry
// has passed starts over empty.
func (s *Store) Append(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return stitch.ErrEmptyKey
	}
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := dropIfExpired(ctx, tx, key, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transcript_fragments (log_key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("insert fragment: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transcript_logs (log_key, expires_at) VALUES (?, ?)
			ON CONFLICT (log_key) DO UPDATE SET expires_at = excluded.expires_at`,
			key, now.Add(ttl).UnixMilli()); err != nil {
			return fmt.Errorf("upsert log expiry: %w", err)
		}
		return nil
	})
}

// ReadAll returns the values of key in append order. Expired keys read as
// empty.
func (s *Store) ReadAll(ctx context.Context, key string) ([]string, error) {
	if key == "" {
		return nil, stitch.ErrEmptyKey
	}
	return readLive(ctx, s.db, key, s.now())
}

// Delete removes key and its values.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return stitch.ErrEmptyKey
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return deleteKey(ctx, tx, key)
	})
}

// ReadAndDelete reads and removes key in one transaction.
func (s *Store) ReadAndDelete(ctx context.Context, key string) ([]string, error) {
	if key == "" {
		return nil, stitch.ErrEmptyKey
	}
	var vals []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		vals, err = readLive(ctx, tx, key, s.now())
		if err != nil {
			return err
		}
		return deleteKey(ctx, tx, key)
	})
	if err != nil {
		return nil, err
	}
	return vals, nil
}

// TTL returns the remaining time to live of key, or -1 when key is missing
// or expired.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM transcript_logs WHERE log_key = ?`, key).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query ttl: %w", err)
	}
	remaining := time.UnixMilli(expiresAt).Sub(s.now())
	if remaining <= 0 {
		return -1, nil
	}
	return remaining, nil
}

// PurgeExpired deletes every expired key and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	var n int64
	now := s.now().UnixMilli()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM transcript_fragments WHERE log_key IN
				(SELECT log_key FROM transcript_logs WHERE expires_at <= ?)`, now); err != nil {
			return fmt.Errorf("purge fragments: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM transcript_logs WHERE expires_at <= ?`, now)
		if err != nil {
			return fmt.Errorf("purge logs: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// RunJanitor purges expired keys every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("SQLite log purge failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("keys", n).Msg("Purged expired session logs")
			}
		}
	}
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func readLive(ctx context.Context, q querier, key string, now time.Time) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT f.value
		FROM transcript_fragments f
		JOIN transcript_logs l ON l.log_key = f.log_key
		WHERE f.log_key = ? AND l.expires_at > ?
		ORDER BY f.seq ASC`, key, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query fragments: %w", err)
	}
	defer rows.Close()

	vals := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		vals = append(vals, v)
	}
	return vals, rows.Err()
}

func deleteKey(ctx context.Context, tx *sql.Tx, key string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_fragments WHERE log_key = ?`, key); err != nil {
		return fmt.Errorf("delete fragments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_logs WHERE log_key = ?`, key); err != nil {
		return fmt.Errorf("delete log: %w", err)
	}
	return nil
}

func dropIfExpired(ctx context.Context, tx *sql.Tx, key string, now time.Time) error {
	var expiresAt int64
	err := tx.QueryRowContext(ctx,
		`SELECT expires_at FROM transcript_logs WHERE log_key = ?`, key).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("query expiry: %w", err)
	}
	if expiresAt > now.UnixMilli() {
		return nil
	}
	return deleteKey(ctx, tx, key)
}
