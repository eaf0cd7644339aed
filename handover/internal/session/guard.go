// Package session runs exclusive background work. At most one
// non-terminal session may exist per key at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/ILLUVRSE/leo-handover/handover/internal/logging"
	"github.com/ILLUVRSE/leo-handover/handover/internal/metrics"
	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
	"github.com/ILLUVRSE/leo-handover/handover/internal/store"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid session transition")
)

// ConflictError is returned by Start when Key is already held by SessionID.
type ConflictError struct {
	Key       string
	SessionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %s is already running for key %q", e.SessionID, e.Key)
}

// Work is the body of a session. It must return once ctx is cancelled.
type Work func(ctx context.Context, c *Control) error

const (
	defaultRetained       = 256
	defaultPersistTimeout = 2 * time.Second
)

type entry struct {
	session  models.Session
	cancel   context.CancelFunc
	done     chan struct{}
	resume   chan struct{}
	stopping bool
	persist  bool
}

type Guard struct {
	mu       sync.Mutex
	sessions map[string]*entry
	byKey    map[string]string
	repo     store.Repository
	logger   logr.Logger

	retained       int
	persistTimeout time.Duration
}

// NewGuard returns a Guard. repo may be nil, in which case sessions live
// only in memory.
func NewGuard(repo store.Repository, logger logr.Logger) *Guard {
	return &Guard{
		sessions:       map[string]*entry{},
		byKey:          map[string]string{},
		repo:           repo,
		logger:         logger.WithName("session"),
		retained:       defaultRetained,
		persistTimeout: defaultPersistTimeout,
	}
}

// Start registers a QUEUED session for key and launches work in the
// background. The work outlives ctx; use Stop to end it early.
func (g *Guard) Start(ctx context.Context, key string, totalSteps int, work Work) (models.Session, error) {
	if key == "" {
		return models.Session{}, &models.ValidationError{Field: "key", Reason: "is required"}
	}
	if work == nil {
		return models.Session{}, &models.ValidationError{Field: "work", Reason: "is required"}
	}
	if totalSteps < 0 {
		return models.Session{}, &models.ValidationError{Field: "total_steps", Reason: "must not be negative"}
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(logging.IntoContext(context.Background(), g.logger.WithValues("session", id, "key", key)))
	e := &entry{
		session: models.Session{
			ID:         id,
			Key:        key,
			Status:     models.SessionQueued,
			TotalSteps: totalSteps,
			Metadata:   map[string]interface{}{},
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		cancel: cancel,
		done:   make(chan struct{}),
		resume: closedChan(),
	}

	g.mu.Lock()
	if held, ok := g.byKey[key]; ok {
		g.mu.Unlock()
		cancel()
		return models.Session{}, &ConflictError{Key: key, SessionID: held}
	}
	g.sessions[id] = e
	g.byKey[key] = id
	snapshot := copySession(e.session)
	g.mu.Unlock()

	persisted := g.createRecord(ctx, snapshot)
	g.mu.Lock()
	e.persist = persisted
	g.mu.Unlock()

	go g.run(runCtx, e, work)

	g.logger.Info("session started", "session", snapshot.ID, "key", key, "totalSteps", totalSteps)
	return snapshot, nil
}

func (g *Guard) run(ctx context.Context, e *entry, work Work) {
	var err error
	g.mu.Lock()
	key := e.session.Key
	if e.stopping {
		err = context.Canceled
	} else {
		e.session.Status = models.SessionActive
		e.session.UpdatedAt = time.Now().UTC()
	}
	g.mu.Unlock()
	metrics.SessionStarted(key)

	defer g.finish(e)

	if err == nil {
		g.update(e)
		err = g.invoke(ctx, e, work)
	}

	g.mu.Lock()
	now := time.Now().UTC()
	switch {
	case e.stopping:
		e.session.Status = models.SessionStopped
	case err != nil:
		e.session.Status = models.SessionError
		e.session.ErrorMessage = err.Error()
	default:
		e.session.Status = models.SessionCompleted
		if e.session.TotalSteps > 0 {
			e.session.CurrentStep = e.session.TotalSteps
		}
	}
	e.session.UpdatedAt = now
	e.session.FinishedAt = &now
	status := e.session.Status
	g.mu.Unlock()

	if status == models.SessionError {
		g.logger.Error(err, "session failed", "session", e.session.ID, "key", key)
	} else {
		g.logger.Info("session finished", "session", e.session.ID, "key", key, "status", status)
	}
}

func (g *Guard) invoke(ctx context.Context, e *entry, work Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panic: %v", r)
		}
	}()
	return work(ctx, &Control{g: g, e: e})
}

// finish releases the key and persists the terminal record on every exit path.
func (g *Guard) finish(e *entry) {
	g.mu.Lock()
	if g.byKey[e.session.Key] == e.session.ID {
		delete(g.byKey, e.session.Key)
	}
	if e.cancel != nil {
		e.cancel()
	}
	g.pruneLocked()
	g.mu.Unlock()

	metrics.SessionFinished(e.session.Key)
	g.update(e)
	close(e.done)
}

func (g *Guard) pruneLocked() {
	if len(g.sessions) <= g.retained {
		return
	}
	var finished []*entry
	for _, e := range g.sessions {
		if e.session.Status.Terminal() {
			finished = append(finished, e)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].session.CreatedAt.Before(finished[j].session.CreatedAt)
	})
	for _, e := range finished {
		if len(g.sessions) <= g.retained {
			return
		}
		delete(g.sessions, e.session.ID)
	}
}

// Stop cancels the session and waits for its work to return. Stopping a
// terminal session returns it unchanged.
func (g *Guard) Stop(ctx context.Context, id string) (models.Session, error) {
	g.mu.Lock()
	e, ok := g.sessions[id]
	if !ok {
		g.mu.Unlock()
		return models.Session{}, ErrNotFound
	}
	if e.session.Status.Terminal() {
		s := copySession(e.session)
		g.mu.Unlock()
		return s, nil
	}
	e.stopping = true
	e.cancel()
	g.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		return models.Session{}, ctx.Err()
	}
	return g.Get(id)
}

// Pause moves an ACTIVE session to PAUSED. Work observes it through
// Control.WaitIfPaused.
func (g *Guard) Pause(id string) (models.Session, error) {
	g.mu.Lock()
	e, ok := g.sessions[id]
	if !ok {
		g.mu.Unlock()
		return models.Session{}, ErrNotFound
	}
	if e.session.Status != models.SessionActive {
		status := e.session.Status
		g.mu.Unlock()
		return models.Session{}, fmt.Errorf("%w: cannot pause %s session", ErrInvalidTransition, status)
	}
	e.session.Status = models.SessionPaused
	e.session.UpdatedAt = time.Now().UTC()
	e.resume = make(chan struct{})
	s := copySession(e.session)
	g.mu.Unlock()

	g.update(e)
	return s, nil
}

func (g *Guard) Resume(id string) (models.Session, error) {
	g.mu.Lock()
	e, ok := g.sessions[id]
	if !ok {
		g.mu.Unlock()
		return models.Session{}, ErrNotFound
	}
	if e.session.Status != models.SessionPaused {
		status := e.session.Status
		g.mu.Unlock()
		return models.Session{}, fmt.Errorf("%w: cannot resume %s session", ErrInvalidTransition, status)
	}
	e.session.Status = models.SessionActive
	e.session.UpdatedAt = time.Now().UTC()
	close(e.resume)
	s := copySession(e.session)
	g.mu.Unlock()

	g.update(e)
	return s, nil
}

func (g *Guard) Get(id string) (models.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.sessions[id]
	if !ok {
		return models.Session{}, ErrNotFound
	}
	return copySession(e.session), nil
}

// List returns known sessions, oldest first.
func (g *Guard) List() []models.Session {
	g.mu.Lock()
	out := make([]models.Session, 0, len(g.sessions))
	for _, e := range g.sessions {
		out = append(out, copySession(e.session))
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Active returns the id of the session holding key, if any.
func (g *Guard) Active(key string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.byKey[key]
	return id, ok
}

// Wait blocks until the session reaches a terminal state.
func (g *Guard) Wait(ctx context.Context, id string) (models.Session, error) {
	g.mu.Lock()
	e, ok := g.sessions[id]
	g.mu.Unlock()
	if !ok {
		return models.Session{}, ErrNotFound
	}
	select {
	case <-e.done:
		return g.Get(id)
	case <-ctx.Done():
		return models.Session{}, ctx.Err()
	}
}

// StopAll stops every running session; used on shutdown.
func (g *Guard) StopAll(ctx context.Context) {
	g.mu.Lock()
	ids := make([]string, 0, len(g.byKey))
	for _, id := range g.byKey {
		ids = append(ids, id)
	}
	g.mu.Unlock()
	for _, id := range ids {
		if _, err := g.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			g.logger.Error(err, "stop session", "session", id)
		}
	}
}

func (g *Guard) createRecord(ctx context.Context, s models.Session) bool {
	if g.repo == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.persistTimeout)
	defer cancel()
	if err := g.repo.Ping(ctx); err != nil {
		g.logger.Error(err, "repository unhealthy; session will not be persisted", "session", s.ID)
		return false
	}
	if _, err := g.repo.CreateSession(ctx, s); err != nil {
		g.logger.Error(err, "persist session", "session", s.ID)
		return false
	}
	return true
}

func (g *Guard) update(e *entry) {
	if g.repo == nil {
		return
	}
	g.mu.Lock()
	persist := e.persist
	s := copySession(e.session)
	g.mu.Unlock()
	if !persist {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.persistTimeout)
	defer cancel()
	if _, err := g.repo.UpdateSession(ctx, s); err != nil {
		g.logger.V(logging.VERBOSE).Info("update session record failed", "session", s.ID, "err", err.Error())
	}
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

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
