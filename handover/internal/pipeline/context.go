package pipeline

import (
	"sync"
	"time"
)

// StageRecord describes how one stage went during a run.
type StageRecord struct {
	Stage     string        `json:"stage"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Recovered bool          `json:"recovered"`
	Error     string        `json:"error,omitempty"`
}

// Context travels with one Process call. Stages use it to share values
// that are not part of the data being transformed.
type Context struct {
	ExecutionID string
	StageIndex  int
	StageName   string
	StartedAt   time.Time

	mu      sync.Mutex
	values  map[string]interface{}
	history []StageRecord
}

func NewContext() *Context {
	return &Context{values: map[string]interface{}{}}
}

func (c *Context) Set(key string, v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = map[string]interface{}{}
	}
	c.values[key] = v
}

func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// History returns the records of the stages run so far.
func (c *Context) History() []StageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StageRecord(nil), c.history...)
}

func (c *Context) appendRecord(r StageRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, r)
}
