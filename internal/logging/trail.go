package logging

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// #region schema
// Schema creates the decision_log table.
const Schema = `
CREATE TABLE IF NOT EXISTS decision_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id    TEXT NOT NULL,
	session_id  TEXT,
	mode        TEXT NOT NULL,
	input       TEXT,
	outcome     TEXT NOT NULL,
	risk_level  TEXT,
	reason      TEXT,
	detail_json TEXT,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decision_log_created ON decision_log(created_at);
`

// #endregion schema

// #region log-decision
// LogDecision writes a decision entry to the decision_log table.
func LogDecision(db *sql.DB, entry DecisionEntry) error {
	return logDecision(context.Background(), db, entry)
}

func logDecision(ctx context.Context, db *sql.DB, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO decision_log (trace_id, session_id, mode, input, outcome, risk_level, reason, detail_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TraceID,
		nullIfEmpty(entry.SessionID),
		entry.Mode,
		nullIfEmpty(entry.Input),
		entry.Outcome,
		nullIfEmpty(entry.RiskLevel),
		nullIfEmpty(entry.Reason),
		nullIfEmpty(entry.DetailJSON),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// #endregion log-decision

// #region trail
// Trail is the sqlite-backed decision trail.
type Trail struct {
	db    *sql.DB
	owned bool
}

// OpenTrail opens dsn and migrates the decision_log table.
// An empty dsn or ":memory:" keeps the trail in process memory.
func OpenTrail(dsn string) (*Trail, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if isMemoryDSN(dsn) {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	t, err := NewTrail(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	t.owned = true
	return t, nil
}

// NewTrail migrates decision_log on an existing connection, e.g. the session store's.
func NewTrail(db *sql.DB) (*Trail, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Trail{db: db}, nil
}

// Record writes e. Satisfies the engines' Auditor interface.
func (t *Trail) Record(ctx context.Context, e DecisionEntry) error {
	return logDecision(ctx, t.db, e)
}

// Recent returns up to limit entries, newest first. mode filters when non-empty.
func (t *Trail) Recent(ctx context.Context, mode string, limit int) ([]DecisionEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	where, args := "", []any{}
	if mode != "" {
		where = ` WHERE mode = ?`
		args = append(args, mode)
	}
	return t.query(ctx, where+` ORDER BY id DESC LIMIT ?`, append(args, limit)...)
}

// ByTrace returns every entry recorded under traceID, oldest first.
func (t *Trail) ByTrace(ctx context.Context, traceID string) ([]DecisionEntry, error) {
	return t.query(ctx, ` WHERE trace_id = ? ORDER BY id ASC`, traceID)
}

func (t *Trail) query(ctx context.Context, tail string, args ...any) ([]DecisionEntry, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT trace_id, session_id, mode, input, outcome, risk_level, reason, detail_json, created_at
		FROM decision_log`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		var sessionID, input, risk, reason, detail sql.NullString
		var created string
		if err := rows.Scan(&e.TraceID, &sessionID, &e.Mode, &input, &e.Outcome, &risk, &reason, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.SessionID = sessionID.String
		e.Input = input.String
		e.RiskLevel = risk.String
		e.Reason = reason.String
		e.DetailJSON = detail.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DB returns the underlying connection.
func (t *Trail) DB() *sql.DB { return t.db }

// Close closes the connection if the trail opened it.
func (t *Trail) Close() error {
	if !t.owned {
		return nil
	}
	return t.db.Close()
}

// #endregion trail

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// #endregion helpers
