package session

import (
	"context"
	"time"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

// Control is handed to a session's Work to report progress and observe
// pause requests.
type Control struct {
	g *Guard
	e *entry
}

func (c *Control) ID() string { return c.e.session.ID }

// Session returns a snapshot of the running session.
func (c *Control) Session() models.Session {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	return copySession(c.e.session)
}

// SetStep records progress and persists it.
func (c *Control) SetStep(step int) {
	c.g.mu.Lock()
	if c.e.session.TotalSteps > 0 && step > c.e.session.TotalSteps {
		step = c.e.session.TotalSteps
	}
	c.e.session.CurrentStep = step
	c.e.session.UpdatedAt = time.Now().UTC()
	c.g.mu.Unlock()
	c.g.update(c.e)
}

func (c *Control) SetMetadata(key string, value interface{}) {
	c.g.mu.Lock()
	defer c.g.mu.Unlock()
	c.e.session.Metadata[key] = value
}

// WaitIfPaused blocks while the session is PAUSED.
func (c *Control) WaitIfPaused(ctx context.Context) error {
	for {
		c.g.mu.Lock()
		ch := c.e.resume
		c.g.mu.Unlock()
		select {
		case <-ch:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.g.mu.Lock()
			paused := c.e.session.Status == models.SessionPaused
			c.g.mu.Unlock()
			if !paused {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// StepFunc performs step i of a session, counting from zero.
type StepFunc func(ctx context.Context, i int) error

// StepLoop runs step for every remaining step of the session, sleeping
// interval between steps. It honours Pause and returns ctx.Err() once the
// session is stopped.
func StepLoop(ctx context.Context, c *Control, interval time.Duration, step StepFunc) error {
	total := c.Session().TotalSteps
	for i := c.Session().CurrentStep; i < total; i++ {
		if err := c.WaitIfPaused(ctx); err != nil {
			return err
		}
		if err := step(ctx, i); err != nil {
			return err
		}
		c.SetStep(i + 1)
		if interval > 0 && i+1 < total {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	return ctx.Err()
}
