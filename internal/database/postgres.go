package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tasvid/internal/config"
	"tasvid/internal/metrics"
	"tasvid/internal/models"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store for PostgreSQL
type PostgresStore struct {
	pool      *pgxpool.Pool
	tableName string
	timeout   time.Duration
	metrics   *metrics.Metrics
}

// NewPostgresStore connects to PostgreSQL and creates the history table if needed
func NewPostgresStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.HistoryURL)
	if err != nil {
		return nil, fmt.Errorf("postgres parse url error: %w", err)
	}
	if cfg.DBMaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.DBMaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect error: %w", err)
	}

	s := &PostgresStore{
		pool:      pool,
		tableName: cfg.TableName,
		timeout:   cfg.DatabaseQueryTimeout,
		metrics:   m,
	}

	createCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = pool.Exec(createCtx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		seq          BIGSERIAL,
		id           TEXT PRIMARY KEY,
		title        TEXT NOT NULL,
		format       TEXT NOT NULL,
		resolution   TEXT NOT NULL,
		size         TEXT NOT NULL,
		path         TEXT NOT NULL,
		completed_at TEXT NOT NULL
	)`, s.tableName))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres create table error: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) begin(ctx context.Context, op string) (context.Context, func()) {
	start := time.Now()
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	return queryCtx, func() {
		cancel()
		s.metrics.HistoryOpDuration.WithLabelValues("postgres", op).Observe(time.Since(start).Seconds())
	}
}

// List returns every entry in append order
func (s *PostgresStore) List(ctx context.Context) ([]models.HistoryEntry, error) {
	queryCtx, done := s.begin(ctx, "list")
	defer done()

	rows, err := s.pool.Query(queryCtx, fmt.Sprintf(
		"SELECT id, title, format, resolution, size, path, completed_at FROM %s ORDER BY seq",
		s.tableName,
	))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.Title, &e.Format, &e.Resolution, &e.Size, &e.Path, &e.Date); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns the entry with the given ID
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.HistoryEntry, error) {
	queryCtx, done := s.begin(ctx, "get")
	defer done()

	var e models.HistoryEntry
	err := s.pool.QueryRow(queryCtx, fmt.Sprintf(
		"SELECT id, title, format, resolution, size, path, completed_at FROM %s WHERE id = $1",
		s.tableName,
	), id).Scan(&e.ID, &e.Title, &e.Format, &e.Resolution, &e.Size, &e.Path, &e.Date)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFound("history entry", id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Append inserts entry
func (s *PostgresStore) Append(ctx context.Context, entry models.HistoryEntry) error {
	queryCtx, done := s.begin(ctx, "append")
	defer done()

	_, err := s.pool.Exec(queryCtx, fmt.Sprintf(
		"INSERT INTO %s (id, title, format, resolution, size, path, completed_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		s.tableName,
	), entry.ID, entry.Title, entry.Format, entry.Resolution, entry.Size, entry.Path, entry.Date)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicate
	}
	return err
}

// RewritePath updates entries recorded at oldPath
func (s *PostgresStore) RewritePath(ctx context.Context, oldPath, newPath string) (int, error) {
	queryCtx, done := s.begin(ctx, "rewrite_path")
	defer done()

	tag, err := s.pool.Exec(queryCtx, fmt.Sprintf(
		"UPDATE %s SET path = $1, title = $2 WHERE path = $3",
		s.tableName,
	), newPath, TitleFromPath(newPath), oldPath)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Delete removes the entry with the given ID
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	queryCtx, done := s.begin(ctx, "delete")
	defer done()

	tag, err := s.pool.Exec(queryCtx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.tableName), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.NotFound("history entry", id)
	}
	return nil
}

// Clear removes every entry
func (s *PostgresStore) Clear(ctx context.Context) error {
	queryCtx, done := s.begin(ctx, "clear")
	defer done()

	_, err := s.pool.Exec(queryCtx, fmt.Sprintf("DELETE FROM %s", s.tableName))
	return err
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
