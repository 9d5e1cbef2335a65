package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/Sentinel-Gate/toolgate/internal/domain/audit"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tool_call_audit (
	id              TEXT PRIMARY KEY,
	ts              TEXT NOT NULL,
	request_id      TEXT NOT NULL DEFAULT '',
	agent_id        TEXT NOT NULL,
	organization_id TEXT NOT NULL,
	identity_id     TEXT NOT NULL,
	user_id         TEXT NOT NULL DEFAULT '',
	auth_method     TEXT NOT NULL,
	tool_name       TEXT NOT NULL,
	tool_arguments  TEXT,
	trusted         INTEGER NOT NULL,
	decision        TEXT NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	policy_id       TEXT NOT NULL DEFAULT '',
	duration_us     INTEGER NOT NULL DEFAULT 0,
	result_size     INTEGER NOT NULL DEFAULT 0,
	is_error        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tool_call_audit_agent_ts ON tool_call_audit (agent_id, ts);
`

// timestampLayout has fixed width so ts sorts chronologically as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

const insertRecord = `
INSERT INTO tool_call_audit (
	id, ts, request_id, agent_id, organization_id, identity_id, user_id,
	auth_method, tool_name, tool_arguments, trusted, decision, reason,
	policy_id, duration_us, result_size, is_error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectRecent = `
SELECT id, ts, request_id, agent_id, organization_id, identity_id, user_id,
	auth_method, tool_name, tool_arguments, trusted, decision, reason,
	policy_id, duration_us, result_size, is_error
FROM tool_call_audit
ORDER BY ts DESC, rowid DESC
LIMIT ?`

// SQLiteStore implements audit.Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time interface verification.
var _ audit.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database at path and creates the audit table.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// One writer; the audit service already serializes batches.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Ping reports whether the database still answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append inserts records in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertRecord)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		var args sql.NullString
		if len(r.ToolArguments) > 0 {
			data, err := json.Marshal(r.ToolArguments)
			if err != nil {
				return fmt.Errorf("marshal tool arguments: %w", err)
			}
			args = sql.NullString{String: string(data), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Timestamp.UTC().Format(timestampLayout), r.RequestID,
			r.AgentID, r.OrganizationID, r.IdentityID, r.UserID,
			r.AuthMethod, r.ToolName, args, r.Trusted, r.Decision, r.Reason,
			r.PolicyID, r.DurationMicros, r.ResultSize, r.IsError,
		); err != nil {
			return fmt.Errorf("insert audit record %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

// Flush is a no-op; every Append commits.
func (s *SQLiteStore) Flush(context.Context) error { return nil }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Recent returns up to n records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecent, n)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []audit.Record
	for rows.Next() {
		var (
			r    audit.Record
			ts   string
			args sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &ts, &r.RequestID, &r.AgentID, &r.OrganizationID, &r.IdentityID, &r.UserID,
			&r.AuthMethod, &r.ToolName, &args, &r.Trusted, &r.Decision, &r.Reason,
			&r.PolicyID, &r.DurationMicros, &r.ResultSize, &r.IsError,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if r.Timestamp, err = time.Parse(timestampLayout, ts); err != nil {
			return nil, fmt.Errorf("parse audit timestamp %q: %w", ts, err)
		}
		if args.Valid {
			if err := json.Unmarshal([]byte(args.String), &r.ToolArguments); err != nil {
				return nil, fmt.Errorf("decode tool arguments: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
