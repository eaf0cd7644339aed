package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS handover_sessions (
	id            TEXT PRIMARY KEY,
	session_key   TEXT NOT NULL,
	status        TEXT NOT NULL,
	current_step  INTEGER NOT NULL DEFAULT 0,
	total_steps   INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	metadata      JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finished_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_handover_sessions_key ON handover_sessions(session_key);
CREATE TABLE IF NOT EXISTS handover_experiments (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES handover_sessions(id),
	name        TEXT NOT NULL,
	parameters  JSONB NOT NULL DEFAULT '{}',
	results     JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const sessionColumns = `id, session_key, status, current_step, total_steps, error_message, metadata, created_at, updated_at, finished_at`

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Migrate creates the tables when they do not exist.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pgSchema); err != nil {
		return wrap("migrate", err)
	}
	return nil
}

func scanSession(row rowScanner) (models.Session, error) {
	var (
		sess     models.Session
		status   string
		metadata []byte
		finished sql.NullTime
	)
	if err := row.Scan(
		&sess.ID,
		&sess.Key,
		&status,
		&sess.CurrentStep,
		&sess.TotalSteps,
		&sess.ErrorMessage,
		&metadata,
		&sess.CreatedAt,
		&sess.UpdatedAt,
		&finished,
	); err != nil {
		return models.Session{}, err
	}
	sess.Status = models.SessionStatus(status)
	md, err := decodeMetadata(metadata)
	if err != nil {
		return models.Session{}, fmt.Errorf("decode metadata: %w", err)
	}
	sess.Metadata = md
	if finished.Valid {
		t := finished.Time
		sess.FinishedAt = &t
	}
	return sess, nil
}

func (s *PGStore) CreateSession(ctx context.Context, in models.Session) (models.Session, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	md, err := encodeMetadata(in.Metadata)
	if err != nil {
		return models.Session{}, wrap("create session", err)
	}
	query := `
		INSERT INTO handover_sessions (id, session_key, status, current_step, total_steps, error_message, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING ` + sessionColumns
	row := s.db.QueryRowContext(ctx, query, in.ID, in.Key, string(in.Status), in.CurrentStep, in.TotalSteps, in.ErrorMessage, md)
	sess, err := scanSession(row)
	if err != nil {
		return models.Session{}, wrap("create session", err)
	}
	return sess, nil
}

func (s *PGStore) UpdateSession(ctx context.Context, in models.Session) (models.Session, error) {
	md, err := encodeMetadata(in.Metadata)
	if err != nil {
		return models.Session{}, wrap("update session", err)
	}
	var finished interface{}
	if in.FinishedAt != nil {
		finished = *in.FinishedAt
	}
	query := `
		UPDATE handover_sessions
		SET status=$2, current_step=$3, total_steps=$4, error_message=$5, metadata=$6, finished_at=$7, updated_at=NOW()
		WHERE id=$1
		RETURNING ` + sessionColumns
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, in.ID, string(in.Status), in.CurrentStep, in.TotalSteps, in.ErrorMessage, md, finished))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, ErrNotFound
		}
		return models.Session{}, wrap("update session", err)
	}
	return sess, nil
}

func (s *PGStore) GetSession(ctx context.Context, id string) (models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM handover_sessions WHERE id=$1`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, ErrNotFound
		}
		return models.Session{}, wrap("get session", err)
	}
	return sess, nil
}

func (s *PGStore) CreateExperiment(ctx context.Context, in models.ExperimentRecord) (models.ExperimentRecord, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO handover_experiments (id, session_id, name, parameters, results)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, session_id, name, parameters, results, created_at
	`
	var (
		rec     models.ExperimentRecord
		params  []byte
		results []byte
		created time.Time
	)
	err := s.db.QueryRowContext(ctx, query, in.ID, in.SessionID, in.Name, ensureJSON(in.Parameters, "{}"), ensureJSON(in.Results, "{}")).
		Scan(&rec.ID, &rec.SessionID, &rec.Name, &params, &results, &created)
	if err != nil {
		return models.ExperimentRecord{}, wrap("create experiment", err)
	}
	rec.Parameters = append(json.RawMessage(nil), params...)
	rec.Results = append(json.RawMessage(nil), results...)
	rec.CreatedAt = created
	return rec, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return wrap("ping", s.db.PingContext(ctx))
}
