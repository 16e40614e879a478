// Package postgres provides Postgres-backed persistence for agencies,
// references and snapshots.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/regwatch/regvelocity/internal/regdata"
)

// ErrAgencyNotFound is returned when a slug has no agency row.
var ErrAgencyNotFound = errors.New("agency not found")

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements regdata.Store on Postgres. All writes are upserts or
// insert-if-absent so repeated and concurrent runs are safe without locking.
type Store struct {
	pool querier
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
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
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for testing).
func NewStoreWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the three relations if they do not exist. The unique
// constraints are what make the sync loop's writes idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS agencies (
	slug TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	short_name TEXT NOT NULL DEFAULT '',
	last_updated TIMESTAMPTZ NOT NULL,
	latest_metric BIGINT NOT NULL DEFAULT 0,
	latest_date DATE
);
CREATE TABLE IF NOT EXISTS agency_references (
	agency_slug TEXT NOT NULL REFERENCES agencies(slug),
	title INT NOT NULL,
	chapter TEXT NOT NULL DEFAULT '',
	UNIQUE (agency_slug, title)
);
CREATE TABLE IF NOT EXISTS snapshots (
	title INT NOT NULL,
	snapshot_date DATE NOT NULL,
	byte_size BIGINT NOT NULL,
	word_count BIGINT NOT NULL DEFAULT 0,
	fingerprint TEXT NOT NULL DEFAULT '',
	UNIQUE (title, snapshot_date)
);`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertAgency inserts the agency or refreshes its mutable display fields.
func (s *Store) UpsertAgency(ctx context.Context, agency regdata.Agency) error {
	if agency.Slug == "" {
		return fmt.Errorf("agency slug is required")
	}
	const query = `
INSERT INTO agencies (slug, name, short_name, last_updated)
VALUES ($1, $2, $3, $4)
ON CONFLICT (slug) DO UPDATE SET
	name = EXCLUDED.name,
	short_name = EXCLUDED.short_name,
	last_updated = EXCLUDED.last_updated`
	if _, err := s.pool.Exec(ctx, query,
		agency.Slug, agency.Name, agency.ShortName, agency.LastUpdated); err != nil {
		return fmt.Errorf("upsert agency: %w", err)
	}
	return nil
}

// EnsureReference inserts the (agency, title) association if absent.
func (s *Store) EnsureReference(ctx context.Context, ref regdata.TitleReference) error {
	const query = `
INSERT INTO agency_references (agency_slug, title, chapter)
VALUES ($1, $2, $3)
ON CONFLICT (agency_slug, title) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, ref.AgencySlug, ref.Title, ref.Chapter); err != nil {
		return fmt.Errorf("ensure reference: %w", err)
	}
	return nil
}

// InsertSnapshot writes one immutable snapshot row. A duplicate (title, date)
// is a no-op by construction, never an error.
func (s *Store) InsertSnapshot(ctx context.Context, snap regdata.Snapshot) error {
	const query = `
INSERT INTO snapshots (title, snapshot_date, byte_size, word_count, fingerprint)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (title, snapshot_date) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query,
		snap.Title, snap.Date, snap.ByteSize, snap.WordCount, snap.Fingerprint); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// UpdateAgencyLatest refreshes the denormalized latest-metric fields.
func (s *Store) UpdateAgencyLatest(ctx context.Context, slug string, metric int64, date time.Time) error {
	const query = `UPDATE agencies SET latest_metric = $2, latest_date = $3 WHERE slug = $1`
	if _, err := s.pool.Exec(ctx, query, slug, metric, date); err != nil {
		return fmt.Errorf("update agency latest: %w", err)
	}
	return nil
}

// SnapshotExists reports whether a snapshot row exists for the pair.
func (s *Store) SnapshotExists(ctx context.Context, title int, date time.Time) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM snapshots WHERE title = $1 AND snapshot_date = $2)`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, title, date).Scan(&exists); err != nil {
		return false, fmt.Errorf("snapshot exists: %w", err)
	}
	return exists, nil
}

const agencyColumns = `slug, name, short_name, last_updated, latest_metric, latest_date`

// ListAgencies returns all agencies ordered by display name.
func (s *Store) ListAgencies(ctx context.Context) ([]regdata.Agency, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agencyColumns+` FROM agencies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list agencies: %w", err)
	}
	defer rows.Close()

	var out []regdata.Agency
	for rows.Next() {
		a, err := scanAgency(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agency: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agencies: %w", err)
	}
	return out, nil
}

// GetAgency returns one agency by slug.
func (s *Store) GetAgency(ctx context.Context, slug string) (regdata.Agency, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agencyColumns+` FROM agencies WHERE slug = $1`, slug)
	a, err := scanAgency(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return regdata.Agency{}, fmt.Errorf("%w: %s", ErrAgencyNotFound, slug)
	}
	if err != nil {
		return regdata.Agency{}, fmt.Errorf("get agency: %w", err)
	}
	return a, nil
}

// AgencyHistory returns the agency's aggregate series: snapshots joined
// through its references, summed per date, most-recent first.
func (s *Store) AgencyHistory(ctx context.Context, slug string) ([]regdata.SeriesPoint, error) {
	const query = `
SELECT s.snapshot_date, SUM(s.byte_size)::BIGINT AS metric
FROM snapshots s
JOIN agency_references r ON r.title = s.title
WHERE r.agency_slug = $1
GROUP BY s.snapshot_date
ORDER BY s.snapshot_date DESC`
	rows, err := s.pool.Query(ctx, query, slug)
	if err != nil {
		return nil, fmt.Errorf("agency history: %w", err)
	}
	defer rows.Close()

	var out []regdata.SeriesPoint
	for rows.Next() {
		var p regdata.SeriesPoint
		if err := rows.Scan(&p.Date, &p.Metric); err != nil {
			return nil, fmt.Errorf("scan series point: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agency history: %w", err)
	}
	return out, nil
}

func scanAgency(row pgx.Row) (regdata.Agency, error) {
	var a regdata.Agency
	err := row.Scan(&a.Slug, &a.Name, &a.ShortName, &a.LastUpdated, &a.LatestMetric, &a.LatestDate)
	return a, err
}
