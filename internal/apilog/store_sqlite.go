package apilog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SQLite has a default limit of 999 bindable parameters per query
// (SQLITE_MAX_VARIABLE_NUMBER). With 12 columns per record we can safely
// insert up to 83 records per statement; larger batches are chunked.
const (
	maxSQLiteParams    = 999
	columnsPerRecord   = 12
	maxRecordsPerChunk = maxSQLiteParams / columnsPerRecord // 83 records
)

// SQLiteSink implements Sink for SQLite databases.
type SQLiteSink struct {
	db            *sql.DB
	table         string
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewSQLiteSink creates a SQLite sink writing to the table derived from
// the logical target name. With autoProvision the table and indexes are
// created if missing; otherwise a missing table surfaces as
// ErrSinkUnavailable on the first write. A background cleanup goroutine
// runs when retention is configured.
func NewSQLiteSink(db *sql.DB, target string, autoProvision bool, retentionDays int) (*SQLiteSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &SQLiteSink{
		db:            db,
		table:         TableForTarget(target),
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if autoProvision {
		if err := s.provision(); err != nil {
			return nil, err
		}
	}

	if retentionDays > 0 {
		go RunCleanupLoop(s.stopCleanup, s.cleanup)
	}

	return s, nil
}

// provision creates the log table and its indexes.
func (s *SQLiteSink) provision() error {
	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			api TEXT NOT NULL,
			method TEXT,
			status_code INTEGER DEFAULT 0,
			headers TEXT,
			body TEXT,
			response TEXT,
			client_ip TEXT,
			username TEXT,
			execution_time REAL DEFAULT 0,
			tracing_id TEXT,
			added_on DATETIME NOT NULL
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
		if _, err := s.db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}
	return nil
}

// WriteBatch inserts records using chunked multi-row INSERT statements.
func (s *SQLiteSink) WriteBatch(ctx context.Context, batch []*Record) error {
	if len(batch) == 0 {
		return nil
	}

	for i := 0; i < len(batch); i += maxRecordsPerChunk {
		end := i + maxRecordsPerChunk
		if end > len(batch) {
			end = len(batch)
		}
		chunk := batch[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]interface{}, 0, len(chunk)*columnsPerRecord)

		for j, r := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			values = append(values,
				r.ID,
				r.API,
				r.Method,
				r.StatusCode,
				marshalField(r.Headers),
				marshalField(r.Body),
				marshalField(r.Response),
				r.ClientIP,
				r.Username,
				r.ExecutionTime,
				r.TracingID,
				r.AddedOn.UTC().Format(time.RFC3339Nano),
			)
		}

		query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (id, api, method, status_code, headers,
			body, response, client_ip, username, execution_time, tracing_id, added_on) VALUES `, s.table) +
			strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			if isMissingTable(err) {
				return fmt.Errorf("%w: table %s does not exist, provision the sink", ErrSinkUnavailable, s.table)
			}
			return fmt.Errorf("failed to insert log batch %d: %w", i/maxRecordsPerChunk, err)
		}
	}

	return nil
}

// Ping verifies the target table exists.
func (s *SQLiteSink) Ping(ctx context.Context) error {
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", s.table).Scan(&name)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: table %s does not exist, provision the sink", ErrSinkUnavailable, s.table)
	}
	return err
}

// Close stops the cleanup goroutine. The DB connection is owned by the
// storage layer and stays open. Safe to call multiple times.
func (s *SQLiteSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

// cleanup deletes records older than the retention period.
func (s *SQLiteSink) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UTC().Format(time.RFC3339)

	result, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE added_on < ?", s.table), cutoff)
	if err != nil {
		slog.Error("failed to cleanup old log records", "error", err)
		return
	}

	if rowsAffected, err := result.RowsAffected(); err == nil && rowsAffected > 0 {
		slog.Info("cleaned up old log records", "deleted", rowsAffected)
	}
}

// isMissingTable detects SQLite's missing-table error.
func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

// TableForTarget maps a logical sink target name to a table name. The
// "default" target writes to api_logs; anything else gets a sanitized
// suffix.
func TableForTarget(target string) string {
	if target == "" || target == "default" {
		return "api_logs"
	}
	var b strings.Builder
	for _, r := range target {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return "api_logs_" + b.String()
}

// marshalField serializes a captured value for a TEXT column. Strings
// (placeholders and the empty sentinel) are stored as-is; structured
// values are stored as JSON.
func marshalField(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
