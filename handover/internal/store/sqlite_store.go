package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS handover_sessions (
    id            TEXT PRIMARY KEY,
    session_key   TEXT NOT NULL,
    status        TEXT NOT NULL,
    current_step  INTEGER NOT NULL DEFAULT 0,
    total_steps   INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    metadata      TEXT NOT NULL DEFAULT '{}',
    created_at    TEXT NOT NULL,
    updated_at    TEXT NOT NULL,
    finished_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_handover_sessions_key ON handover_sessions(session_key);
CREATE TABLE IF NOT EXISTS handover_experiments (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    name        TEXT NOT NULL,
    parameters  TEXT NOT NULL DEFAULT '{}',
    results     TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL
);
`

// SQLiteStore is the embedded Repository used when no Postgres URL is
// configured. Timestamps are stored as RFC3339 text.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens path (":memory:" allowed) and creates the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap("open sqlite", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return wrap("migrate", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

func scanSQLiteSession(row rowScanner) (models.Session, error) {
	var (
		sess     models.Session
		status   string
		metadata string
		created  string
		updated  string
		finished sql.NullString
	)
	if err := row.Scan(
		&sess.ID,
		&sess.Key,
		&status,
		&sess.CurrentStep,
		&sess.TotalSteps,
		&sess.ErrorMessage,
		&metadata,
		&created,
		&updated,
		&finished,
	); err != nil {
		return models.Session{}, err
	}
	sess.Status = models.SessionStatus(status)
	md, err := decodeMetadata([]byte(metadata))
	if err != nil {
		return models.Session{}, fmt.Errorf("decode metadata: %w", err)
	}
	sess.Metadata = md
	if sess.CreatedAt, err = parseTime(created); err != nil {
		return models.Session{}, err
	}
	if sess.UpdatedAt, err = parseTime(updated); err != nil {
		return models.Session{}, err
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return models.Session{}, err
		}
		sess.FinishedAt = &t
	}
	return sess, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, in models.Session) (models.Session, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	md, err := encodeMetadata(in.Metadata)
	if err != nil {
		return models.Session{}, wrap("create session", err)
	}
	now := formatTime(time.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO handover_sessions (id, session_key, status, current_step, total_steps, error_message, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Key, string(in.Status), in.CurrentStep, in.TotalSteps, in.ErrorMessage, md, now, now)
	if err != nil {
		return models.Session{}, wrap("create session", err)
	}
	return s.GetSession(ctx, in.ID)
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, in models.Session) (models.Session, error) {
	md, err := encodeMetadata(in.Metadata)
	if err != nil {
		return models.Session{}, wrap("update session", err)
	}
	var finished interface{}
	if in.FinishedAt != nil {
		finished = formatTime(*in.FinishedAt)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE handover_sessions
		SET status=?, current_step=?, total_steps=?, error_message=?, metadata=?, finished_at=?, updated_at=?
		WHERE id=?`,
		string(in.Status), in.CurrentStep, in.TotalSteps, in.ErrorMessage, md, finished, formatTime(time.Now()), in.ID)
	if err != nil {
		return models.Session{}, wrap("update session", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.Session{}, ErrNotFound
	}
	return s.GetSession(ctx, in.ID)
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM handover_sessions WHERE id=?`, id)
	sess, err := scanSQLiteSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, ErrNotFound
		}
		return models.Session{}, wrap("get session", err)
	}
	return sess, nil
}

func (s *SQLiteStore) CreateExperiment(ctx context.Context, in models.ExperimentRecord) (models.ExperimentRecord, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	params := ensureJSON(in.Parameters, "{}")
	results := ensureJSON(in.Results, "{}")
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO handover_experiments (id, session_id, name, parameters, results, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		in.ID, in.SessionID, in.Name, params, results, formatTime(now))
	if err != nil {
		return models.ExperimentRecord{}, wrap("create experiment", err)
	}
	return models.ExperimentRecord{
		ID:         in.ID,
		SessionID:  in.SessionID,
		Name:       in.Name,
		Parameters: json.RawMessage(params),
		Results:    json.RawMessage(results),
		CreatedAt:  now,
	}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return wrap("ping", s.db.PingContext(ctx))
}
