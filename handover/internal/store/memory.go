package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]models.Session
	experiments map[string]models.ExperimentRecord
	pingErr     error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    map[string]models.Session{},
		experiments: map[string]models.ExperimentRecord{},
	}
}

// SetUnavailable makes every call fail with err; nil restores the store.
func (m *MemoryStore) SetUnavailable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

func copySession(s models.Session) models.Session {
	out := s
	out.Metadata = make(map[string]interface{}, len(s.Metadata))
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

func (m *MemoryStore) CreateSession(_ context.Context, in models.Session) (models.Session, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	in.CreatedAt = now
	in.UpdatedAt = now
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pingErr != nil {
		return models.Session{}, wrap("create session", m.pingErr)
	}
	m.sessions[in.ID] = copySession(in)
	return copySession(in), nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, in models.Session) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pingErr != nil {
		return models.Session{}, wrap("update session", m.pingErr)
	}
	existing, ok := m.sessions[in.ID]
	if !ok {
		return models.Session{}, ErrNotFound
	}
	in.CreatedAt = existing.CreatedAt
	in.UpdatedAt = time.Now().UTC()
	m.sessions[in.ID] = copySession(in)
	return copySession(in), nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pingErr != nil {
		return models.Session{}, wrap("get session", m.pingErr)
	}
	s, ok := m.sessions[id]
	if !ok {
		return models.Session{}, ErrNotFound
	}
	return copySession(s), nil
}

func (m *MemoryStore) CreateExperiment(_ context.Context, in models.ExperimentRecord) (models.ExperimentRecord, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	in.Parameters = json.RawMessage(ensureJSON(in.Parameters, "{}"))
	in.Results = json.RawMessage(ensureJSON(in.Results, "{}"))
	in.CreatedAt = time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pingErr != nil {
		return models.ExperimentRecord{}, wrap("create experiment", m.pingErr)
	}
	m.experiments[in.ID] = in
	return in, nil
}

// Experiments returns the records stored for sessionID.
func (m *MemoryStore) Experiments(sessionID string) []models.ExperimentRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ExperimentRecord
	for _, e := range m.experiments {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return wrap("ping", m.pingErr)
}
