package selector

import (
	"sync"
	"time"

	"github.com/ILLUVRSE/leo-handover/handover/internal/strategy"
)

// Performance counts calls for one strategy. AvgLatency is a running mean
// over every call since the last reset.
type Performance struct {
	Successes  int           `json:"successes"`
	Failures   int           `json:"failures"`
	TotalCalls int           `json:"totalCalls"`
	AvgLatency time.Duration `json:"avgLatency"`
}

// StrategyManager tracks which strategies take part in selection and how
// they have performed.
type StrategyManager struct {
	registry *strategy.Registry

	mu     sync.RWMutex
	active map[string]bool
	perf   map[string]Performance
}

// NewStrategyManager returns a manager with the built-in strategies enabled.
func NewStrategyManager() *StrategyManager {
	m := &StrategyManager{
		registry: strategy.NewBuiltinRegistry(),
		active:   map[string]bool{},
		perf:     map[string]Performance{},
	}
	for _, name := range m.registry.Names() {
		m.active[name] = true
	}
	return m
}

// Register adds s and enables it.
func (m *StrategyManager) Register(s strategy.Strategy) error {
	if err := m.registry.Register(s); err != nil {
		return err
	}
	m.mu.Lock()
	m.active[s.Name()] = true
	m.mu.Unlock()
	return nil
}

func (m *StrategyManager) Get(name string) (strategy.Strategy, bool) {
	return m.registry.Get(name)
}

// Names lists every known strategy in registration order.
func (m *StrategyManager) Names() []string {
	return m.registry.Names()
}

func (m *StrategyManager) Enable(name string) bool {
	if _, ok := m.registry.Get(name); !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[name] = true
	return true
}

func (m *StrategyManager) Disable(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active[name] {
		return false
	}
	delete(m.active, name)
	return true
}

// Active returns the enabled strategies in registration order.
func (m *StrategyManager) Active() []strategy.Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []strategy.Strategy
	for _, name := range m.registry.Names() {
		if !m.active[name] {
			continue
		}
		if s, ok := m.registry.Get(name); ok {
			out = append(out, s)
		}
	}
	return out
}

// ActiveNames is Active reduced to names.
func (m *StrategyManager) ActiveNames() []string {
	active := m.Active()
	names := make([]string, len(active))
	for i, s := range active {
		names[i] = s.Name()
	}
	return names
}

func (m *StrategyManager) record(name string, ok bool, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.perf[name]
	if ok {
		p.Successes++
	} else {
		p.Failures++
	}
	p.TotalCalls++
	p.AvgLatency = (p.AvgLatency*time.Duration(p.TotalCalls-1) + elapsed) / time.Duration(p.TotalCalls)
	m.perf[name] = p
}

// Performance returns a copy of the per-strategy counters.
func (m *StrategyManager) Performance() map[string]Performance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Performance, len(m.perf))
	for k, v := range m.perf {
		out[k] = v
	}
	return out
}

func (m *StrategyManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perf = map[string]Performance{}
}
