package scoring

import "time"

// Stats accumulates engine usage across calls.
type Stats struct {
	TotalScorings         int            `json:"totalScorings"`
	TotalCandidatesScored int            `json:"totalCandidatesScored"`
	AverageDuration       time.Duration  `json:"averageDuration"`
	StrategyUsage         map[string]int `json:"strategyUsage"`
	StrategyFailures      map[string]int `json:"strategyFailures"`
	totalDuration         time.Duration
}

func newStats() Stats {
	return Stats{StrategyUsage: map[string]int{}, StrategyFailures: map[string]int{}}
}

func (e *Engine) recordStats(scored int, elapsed time.Duration, summary StrategySummary) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.TotalScorings++
	e.stats.TotalCandidatesScored += scored
	e.stats.totalDuration += elapsed
	e.stats.AverageDuration = e.stats.totalDuration / time.Duration(e.stats.TotalScorings)
	for _, name := range summary.Succeeded {
		e.stats.StrategyUsage[name]++
	}
	for name := range summary.Failed {
		e.stats.StrategyFailures[name]++
	}
}

// Stats returns a copy of the accumulated statistics.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := e.stats
	out.StrategyUsage = make(map[string]int, len(e.stats.StrategyUsage))
	for k, v := range e.stats.StrategyUsage {
		out.StrategyUsage[k] = v
	}
	out.StrategyFailures = make(map[string]int, len(e.stats.StrategyFailures))
	for k, v := range e.stats.StrategyFailures {
		out.StrategyFailures[k] = v
	}
	return out
}

func (e *Engine) ResetStats() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats = newStats()
}
