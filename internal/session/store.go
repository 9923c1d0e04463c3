package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/magi/go-controller/internal/battle"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	mode          TEXT NOT NULL,
	outputs_json  TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// SQLiteStore keeps sessions in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// #endregion store-struct

// #region constructor
// NewSQLiteStore opens dsn and runs migrations. An empty dsn opens an
// in-memory database, so sessions end with the process.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if isMemoryDSN(dsn) {
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB so the decision trail can share it.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region lifecycle
func (s *SQLiteStore) Create(ctx context.Context, mode string) (State, error) {
	if mode == "" {
		return State{}, ErrEmptyMode
	}
	now := s.now().UTC()
	st := State{SessionID: uuid.New().String(), Mode: mode, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, mode, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		st.SessionID, mode, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return State{}, fmt.Errorf("insert session: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (State, bool, error) {
	var st State
	var outputs sql.NullString
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, mode, outputs_json, created_at, updated_at FROM sessions WHERE session_id = ?`, id,
	).Scan(&st.SessionID, &st.Mode, &outputs, &created, &updated)
	if err == sql.ErrNoRows {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("get session: %w", err)
	}
	if outputs.Valid && outputs.String != "" {
		if err := json.Unmarshal([]byte(outputs.String), &st.LastOutputs); err != nil {
			return State{}, false, fmt.Errorf("unmarshal outputs: %w", err)
		}
	}
	if st.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return State{}, false, fmt.Errorf("parse created_at: %w", err)
	}
	if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return State{}, false, fmt.Errorf("parse updated_at: %w", err)
	}
	return st, true, nil
}

func (s *SQLiteStore) SaveOutputs(ctx context.Context, id string, outputs battle.Outputs) error {
	data, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET outputs_json = ?, updated_at = ? WHERE session_id = ?`,
		string(data), s.now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("save outputs: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// #endregion lifecycle

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}
