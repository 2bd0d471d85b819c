package apilog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUndefinedTable is the SQLSTATE PostgreSQL reports when the target
// relation does not exist.
const pgUndefinedTable = "42P01"

// PostgreSQLSink implements Sink for PostgreSQL databases.
type PostgreSQLSink struct {
	pool          *pgxpool.Pool
	table         string
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewPostgreSQLSink creates a PostgreSQL sink writing to the table
// derived from the logical target name. With autoProvision the table
// and indexes are created if missing; a background cleanup goroutine
// runs when retention is configured.
func NewPostgreSQLSink(pool *pgxpool.Pool, target string, autoProvision bool, retentionDays int) (*PostgreSQLSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	s := &PostgreSQLSink{
		pool:          pool,
		table:         TableForTarget(target),
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if autoProvision {
		if err := s.provision(context.Background()); err != nil {
			return nil, err
		}
	}

	if retentionDays > 0 {
		go RunCleanupLoop(s.stopCleanup, s.cleanup)
	}

	return s, nil
}

// provision creates the log table with JSONB payload columns.
func (s *PostgreSQLSink) provision(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			api TEXT NOT NULL,
			method TEXT,
			status_code INTEGER DEFAULT 0,
			headers JSONB,
			body JSONB,
			response JSONB,
			client_ip TEXT,
			username TEXT,
			execution_time DOUBLE PRECISION DEFAULT 0,
			tracing_id TEXT,
			added_on TIMESTAMPTZ NOT NULL
		)
	`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.table, err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_added_on ON %s(added_on)", s.table, s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_method ON %s(method)", s.table, s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status_code)", s.table, s.table),
	}
	for _, idx := range indexes {
		if _, err := s.pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}
	return nil
}

// WriteBatch inserts records inside a single transaction.
func (s *PostgreSQLSink) WriteBatch(ctx context.Context, batch []*Record) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := fmt.Sprintf(`
		INSERT INTO %s (id, api, method, status_code, headers, body, response,
			client_ip, username, execution_time, tracing_id, added_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`, s.table)

	for _, r := range batch {
		_, err = tx.Exec(ctx, query,
			r.ID, r.API, r.Method, r.StatusCode,
			jsonbField(r.Headers), jsonbField(r.Body), jsonbField(r.Response),
			r.ClientIP, r.Username, r.ExecutionTime, r.TracingID, r.AddedOn.UTC())
		if err != nil {
			if isUndefinedRelation(err) {
				return fmt.Errorf("%w: table %s does not exist, provision the sink", ErrSinkUnavailable, s.table)
			}
			return fmt.Errorf("failed to insert log record %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Ping verifies the target table exists.
func (s *PostgreSQLSink) Ping(ctx context.Context) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)",
		s.table).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: table %s does not exist, provision the sink", ErrSinkUnavailable, s.table)
	}
	return nil
}

// Close stops the cleanup goroutine. The pool is owned by the storage
// layer and stays open.
func (s *PostgreSQLSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

// cleanup deletes records older than the retention period.
func (s *PostgreSQLSink) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	result, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE added_on < $1", s.table), cutoff)
	if err != nil {
		slog.Error("failed to cleanup old log records", "error", err)
		return
	}

	if result.RowsAffected() > 0 {
		slog.Info("cleaned up old log records", "deleted", result.RowsAffected())
	}
}

// isUndefinedRelation reports whether err is PostgreSQL's missing-table
// error.
func isUndefinedRelation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}

// jsonbField converts a captured value into something pgx can bind to a
// JSONB column. Plain strings (placeholders and the empty sentinel) are
// encoded as JSON strings so the column always holds a valid document.
func jsonbField(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		data, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return json.RawMessage(data)
	default:
		return v
	}
}
