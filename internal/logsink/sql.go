package logsink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/store"
)

const requestLogSchemaSQL = `
CREATE TABLE IF NOT EXISTS request_logs (
	request_id TEXT NOT NULL,
	logged_at TIMESTAMP NOT NULL,
	level TEXT NOT NULL,
	user_email TEXT NOT NULL DEFAULT '',
	endpoint TEXT NOT NULL,
	params TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL,
	result TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT ''
);
`

// SQL stores entries in the request_logs table of a Postgres or SQLite
// database opened with store.Open.
type SQL struct {
	db     *sql.DB
	driver string
}

func NewSQL(ctx context.Context, db *sql.DB, driver string) (*SQL, error) {
	s := &SQL{db: db, driver: driver}
	if _, err := db.ExecContext(ctx, requestLogSchemaSQL); err != nil {
		return nil, fmt.Errorf("ensure request_logs schema: %w", err)
	}
	return s, nil
}

func (s *SQL) Append(ctx context.Context, entry domain.LogEntry) error {
	params := ""
	if entry.Params != nil {
		raw, err := json.Marshal(entry.Params)
		if err != nil {
			return wrap("marshal log params", err)
		}
		params = string(raw)
	}

	_, err := s.db.ExecContext(
		ctx,
		store.Rebind(s.driver, `INSERT INTO request_logs
			(request_id, logged_at, level, user_email, endpoint, params, duration_ms, result, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.RequestID,
		entry.Timestamp.UTC(),
		entry.Level,
		entry.User,
		entry.Endpoint,
		params,
		entry.DurationMS,
		entry.Result,
		entry.Message,
	)
	return wrap("insert request log", err)
}

// CountByResult returns how many entries were stored with result.
func (s *SQL) CountByResult(ctx context.Context, result string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		store.Rebind(s.driver, `SELECT COUNT(*) FROM request_logs WHERE result = ?`), result,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count request logs: %w", err)
	}
	return n, nil
}
