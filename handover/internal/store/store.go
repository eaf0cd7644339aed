// Package store persists session and experiment records. Persistence is
// advisory: callers treat a failing repository as degraded, not fatal.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

var ErrNotFound = errors.New("not found")

// RepositoryError wraps a driver or encoding failure.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

type Repository interface {
	CreateSession(ctx context.Context, s models.Session) (models.Session, error)
	UpdateSession(ctx context.Context, s models.Session) (models.Session, error)
	GetSession(ctx context.Context, id string) (models.Session, error)
	CreateExperiment(ctx context.Context, rec models.ExperimentRecord) (models.ExperimentRecord, error)
	Ping(ctx context.Context) error
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &RepositoryError{Op: op, Err: err}
}

func encodeMetadata(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(b []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func ensureJSON(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	return string(raw)
}
