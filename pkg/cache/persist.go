package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// snapshotSchema holds serialized cache entries between process restarts
const snapshotSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key              TEXT PRIMARY KEY,
	payload          BLOB NOT NULL,
	created_at       INTEGER NOT NULL,
	ttl_ms           INTEGER NOT NULL,
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at INTEGER NOT NULL,
	compressed       INTEGER NOT NULL DEFAULT 0,
	raw_size         INTEGER NOT NULL
)`

type snapshotRow struct {
	Key            string `db:"key"`
	Payload        []byte `db:"payload"`
	CreatedAt      int64  `db:"created_at"`
	TTLMs          int64  `db:"ttl_ms"`
	AccessCount    int64  `db:"access_count"`
	LastAccessedAt int64  `db:"last_accessed_at"`
	Compressed     bool   `db:"compressed"`
	RawSize        int64  `db:"raw_size"`
}

// SaveSnapshot writes all live entries to a sqlite file so a restart can warm
// the cache instead of starting cold. Expired entries are not persisted.
func (s *Store) SaveSnapshot(ctx context.Context, path string) error {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open snapshot db: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, snapshotSchema); err != nil {
		return fmt.Errorf("create snapshot schema: %w", err)
	}

	rows := s.snapshotRows()

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	return retrier.Do(ctx, func() error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin snapshot tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		if _, err := tx.ExecContext(ctx, "DELETE FROM cache_entries"); err != nil {
			return fmt.Errorf("clear snapshot: %w", err)
		}
		for _, r := range rows {
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO cache_entries (key, payload, created_at, ttl_ms, access_count, last_accessed_at, compressed, raw_size)
				VALUES (:key, :payload, :created_at, :ttl_ms, :access_count, :last_accessed_at, :compressed, :raw_size)`, r)
			if err != nil {
				return fmt.Errorf("insert snapshot entry %s: %w", r.Key, err)
			}
		}
		return tx.Commit()
	})
}

// LoadSnapshot restores entries from a sqlite snapshot file, skipping entries
// whose TTL has lapsed since the snapshot was taken. Restored entries go
// through the regular insert path so capacity limits still hold.
func (s *Store) LoadSnapshot(ctx context.Context, path string) error {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open snapshot db: %w", err)
	}
	defer db.Close()

	var rows []snapshotRow
	if err := db.SelectContext(ctx, &rows, "SELECT * FROM cache_entries"); err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	now := s.nowFn()
	restored := 0
	for _, r := range rows {
		createdAt := time.UnixMilli(r.CreatedAt)
		ttl := time.Duration(r.TTLMs) * time.Millisecond
		if now.Sub(createdAt) > ttl {
			continue
		}
		payload := r.Payload
		if r.Compressed {
			raw, err := gunzip(payload)
			if err != nil {
				continue // corrupt row, ignore
			}
			payload = raw
		}
		// remaining lifetime only, so a restored entry expires at the same
		// wall-clock instant it would have without the restart
		remaining := ttl - now.Sub(createdAt)
		if s.SetBytes(r.Key, payload, remaining) {
			restored++
		}
	}

	lgr.Printf("[INFO] restored %d of %d snapshot entries", restored, len(rows))
	return nil
}

// snapshotRows captures live entries under the lock
func (s *Store) snapshotRows() []snapshotRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	rows := make([]snapshotRow, 0, len(s.entries))
	for _, e := range s.entries {
		if now.Sub(e.createdAt) > e.ttl {
			continue
		}
		rows = append(rows, snapshotRow{
			Key:            e.key,
			Payload:        e.payload,
			CreatedAt:      e.createdAt.UnixMilli(),
			TTLMs:          e.ttl.Milliseconds(),
			AccessCount:    e.accessCount,
			LastAccessedAt: e.lastAccessedAt.UnixMilli(),
			Compressed:     e.compressed,
			RawSize:        e.rawSize,
		})
	}
	return rows
}
