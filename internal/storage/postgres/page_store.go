// Package postgres provides Postgres-backed persistence for pages,
// snapshots, and monitor rows.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talemon/pagewatch/internal/hash/sha1"
	"github.com/talemon/pagewatch/internal/watch"
)

// Config controls the Postgres connection pool used by the page store.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DB is the subset of pgxpool.Pool the store needs. pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PageStore implements watch.PageStore on Postgres. The claim queries
// are the system's only cross-worker synchronization point: they rely
// on conditional UPDATEs (plus FOR UPDATE SKIP LOCKED for batches), not
// long-held locks.
type PageStore struct {
	db     DB
	hasher *sha1.Hasher
}

// New connects a pool and returns a PageStore.
func New(ctx context.Context, cfg Config) (*PageStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithDB(pool), nil
}

// NewWithDB constructs a store from an existing pool (primarily for
// testing).
func NewWithDB(db DB) *PageStore {
	return &PageStore{db: db, hasher: sha1.New()}
}

// Ping probes the underlying database, for readiness checks.
func (s *PageStore) Ping(ctx context.Context) error {
	if p, ok := s.db.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PageStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

const pageColumns = `id, url, url_hash, domain, status, COALESCE(last_clean_hash, ''),
	last_check_at, next_check_at, heartbeat_at, check_interval_seconds, created_at, updated_at`

// UpsertPage registers a URL for monitoring. Registering the same URL
// twice is a no-op that returns the existing row with its scheduling
// state intact.
func (s *PageStore) UpsertPage(ctx context.Context, rawURL string, interval time.Duration) (watch.Page, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return watch.Page{}, fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return watch.Page{}, fmt.Errorf("invalid url %q", rawURL)
	}
	if interval <= 0 {
		return watch.Page{}, fmt.Errorf("check interval must be positive")
	}

	row := s.db.QueryRow(ctx, `
INSERT INTO page (url, url_hash, domain, status, next_check_at, check_interval_seconds)
VALUES ($1, $2, $3, 'PENDING', now(), $4)
ON CONFLICT (url) DO UPDATE SET updated_at = now()
RETURNING `+pageColumns,
		rawURL,
		s.hasher.RawDigest([]byte(rawURL)),
		strings.ToLower(parsed.Hostname()),
		int64(interval/time.Second),
	)
	page, err := scanPage(row)
	if err != nil {
		return watch.Page{}, fmt.Errorf("upsert page: %w", err)
	}
	return page, nil
}

// GetPage fetches one page by ID.
func (s *PageStore) GetPage(ctx context.Context, id int64) (watch.Page, error) {
	row := s.db.QueryRow(ctx, `SELECT `+pageColumns+` FROM page WHERE id = $1`, id)
	page, err := scanPage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return watch.Page{}, watch.ErrPageNotFound
		}
		return watch.Page{}, fmt.Errorf("get page: %w", err)
	}
	return page, nil
}

// ListPages returns pages ordered by ID.
func (s *PageStore) ListPages(ctx context.Context, limit int) ([]watch.Page, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `SELECT `+pageColumns+` FROM page ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	return collectPages(rows)
}

// DeletePage removes a page; snapshots and monitor rows cascade.
func (s *PageStore) DeletePage(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM page WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return watch.ErrPageNotFound
	}
	return nil
}

// ClaimDue atomically claims up to limit eligible pages. SKIP LOCKED
// guarantees concurrent schedulers never receive the same row.
func (s *PageStore) ClaimDue(ctx context.Context, limit int) ([]watch.Page, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.Query(ctx, `
UPDATE page SET status = 'PROCESSING', heartbeat_at = now(), updated_at = now()
WHERE id IN (
	SELECT id FROM page
	WHERE status = 'PENDING' AND next_check_at <= now()
	ORDER BY next_check_at
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
RETURNING `+pageColumns, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due pages: %w", err)
	}
	defer rows.Close()
	return collectPages(rows)
}

// Claim attempts an exclusive claim of a single page. The conditional
// UPDATE affecting zero rows means another worker or the sweep already
// moved it; that is reported as watch.ErrClaimConflict.
func (s *PageStore) Claim(ctx context.Context, id int64) (watch.Page, error) {
	row := s.db.QueryRow(ctx, `
UPDATE page SET status = 'PROCESSING', heartbeat_at = now(), updated_at = now()
WHERE id = $1 AND status = 'PENDING' AND next_check_at <= now()
RETURNING `+pageColumns, id)
	page, err := scanPage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return watch.Page{}, watch.ErrClaimConflict
		}
		return watch.Page{}, fmt.Errorf("claim page: %w", err)
	}
	return page, nil
}

// Heartbeat refreshes the claim of a PROCESSING page. A zero-row update
// means the claim was lost (zombie sweep or completion race).
func (s *PageStore) Heartbeat(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE page SET heartbeat_at = now() WHERE id = $1 AND status = 'PROCESSING'`, id)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return watch.ErrClaimConflict
	}
	return nil
}

// ReclaimZombies returns stale PROCESSING pages to PENDING. The
// next_check_at is left untouched: a reclaimed page was due when it was
// claimed, so it becomes eligible again immediately.
func (s *PageStore) ReclaimZombies(ctx context.Context, timeout time.Duration) ([]int64, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("zombie timeout must be positive")
	}
	rows, err := s.db.Query(ctx, `
UPDATE page SET status = 'PENDING', heartbeat_at = NULL, updated_at = now()
WHERE status = 'PROCESSING' AND heartbeat_at < now() - make_interval(secs => $1)
RETURNING id`, timeout.Seconds())
	if err != nil {
		return nil, fmt.Errorf("reclaim zombies: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan zombie id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate zombies: %w", err)
	}
	return ids, nil
}

// CompleteCheck records the outcome of one capture attempt in a single
// transaction: the unconditional monitor row, the snapshot row when a
// change was persisted, and the page's return to PENDING. The last
// clean digest advances only on success.
func (s *PageStore) CompleteCheck(ctx context.Context, pageID int64, res watch.CaptureResult) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete check: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `
INSERT INTO page_monitor (page_id, checked_at, content_hash, clean_hash, change_detected, http_status, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pageID,
		res.Timestamp,
		nullable(res.ContentHash),
		nullable(res.CleanHash),
		res.ChangeDetected,
		nullableInt(res.HTTPStatus),
		nullable(res.ErrorMessage),
	); err != nil {
		return fmt.Errorf("insert monitor row: %w", err)
	}

	if res.ChangeDetected && res.OK() {
		// ON CONFLICT keeps snapshot creation idempotent per
		// (page, clean digest).
		if _, err := tx.Exec(ctx, `
INSERT INTO page_snapshot (page_id, captured_at, storage_path, content_hash, clean_hash)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (page_id, clean_hash) DO NOTHING`,
			pageID,
			res.Timestamp,
			res.StoragePath,
			res.ContentHash,
			res.CleanHash,
		); err != nil {
			return fmt.Errorf("insert snapshot row: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `
UPDATE page SET
	status = 'PENDING',
	heartbeat_at = NULL,
	last_check_at = $2,
	next_check_at = now() + make_interval(secs => check_interval_seconds),
	last_clean_hash = CASE WHEN $3 THEN $4 ELSE last_clean_hash END,
	updated_at = now()
WHERE id = $1 AND status = 'PROCESSING'`,
		pageID,
		res.Timestamp,
		res.OK(),
		res.CleanHash,
	)
	if err != nil {
		return fmt.Errorf("reschedule page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Claim was lost mid-capture; the audit row still lands.
		return watch.ErrClaimConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit complete check: %w", err)
	}
	return nil
}

// Pause parks a page. Only explicit administrative action moves pages
// in or out of PAUSED.
func (s *PageStore) Pause(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE page SET status = 'PAUSED', heartbeat_at = NULL, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pause page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return watch.ErrPageNotFound
	}
	return nil
}

// Resume returns a paused page to the scheduling cycle, eligible
// immediately.
func (s *PageStore) Resume(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `
UPDATE page SET status = 'PENDING', heartbeat_at = NULL, next_check_at = now(), updated_at = now()
WHERE id = $1 AND status = 'PAUSED'`, id)
	if err != nil {
		return fmt.Errorf("resume page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return watch.ErrPageNotFound
	}
	return nil
}

func scanPage(row pgx.Row) (watch.Page, error) {
	var (
		page            watch.Page
		status          string
		intervalSeconds int64
	)
	err := row.Scan(
		&page.ID,
		&page.URL,
		&page.URLHash,
		&page.Domain,
		&status,
		&page.LastCleanHash,
		&page.LastCheckAt,
		&page.NextCheckAt,
		&page.HeartbeatAt,
		&intervalSeconds,
		&page.CreatedAt,
		&page.UpdatedAt,
	)
	if err != nil {
		return watch.Page{}, err
	}
	page.Status = watch.PageStatus(status)
	page.CheckInterval = time.Duration(intervalSeconds) * time.Second
	return page, nil
}

func collectPages(rows pgx.Rows) ([]watch.Page, error) {
	var pages []watch.Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
