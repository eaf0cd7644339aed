package selector

import (
	"math"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

const defaultPoolSize = 50

// CandidatePool is a bounded, id-unique set of candidates. When full, a new
// candidate only gets in by displacing a resident of lower quality. It is not
// safe for concurrent use; the Selector serializes access.
type CandidatePool struct {
	capacity int
	items    []models.Candidate
	index    map[string]int
}

func NewCandidatePool(capacity int) *CandidatePool {
	if capacity <= 0 {
		capacity = defaultPoolSize
	}
	return &CandidatePool{capacity: capacity, index: map[string]int{}}
}

// Quality is the coarse admission score used when the pool is full.
func Quality(c models.Candidate) float64 {
	return c.Elevation/90*0.3 +
		(c.SignalStrength+140)/40*0.3 +
		(1-c.LoadFactor)*0.2 +
		c.VisibilityTime/3600*0.2
}

// quickScore is Quality with the visibility term capped at one hour.
func quickScore(c models.Candidate) float64 {
	return c.Elevation/90*0.3 +
		(c.SignalStrength+140)/40*0.3 +
		(1-c.LoadFactor)*0.2 +
		math.Min(1, c.VisibilityTime/3600)*0.2
}

// Add reports whether c entered the pool. Duplicate ids are ignored.
func (p *CandidatePool) Add(c models.Candidate) bool {
	if _, ok := p.index[c.SatelliteID]; ok {
		return false
	}
	if len(p.items) < p.capacity {
		p.index[c.SatelliteID] = len(p.items)
		p.items = append(p.items, c)
		return true
	}
	lowest, lowestQ := -1, math.Inf(1)
	for i, resident := range p.items {
		if q := Quality(resident); q < lowestQ {
			lowest, lowestQ = i, q
		}
	}
	if lowest < 0 || Quality(c) <= lowestQ {
		return false
	}
	delete(p.index, p.items[lowest].SatelliteID)
	p.items[lowest] = c
	p.index[c.SatelliteID] = lowest
	return true
}

func (p *CandidatePool) AddAll(cands []models.Candidate) int {
	added := 0
	for _, c := range cands {
		if p.Add(c) {
			added++
		}
	}
	return added
}

func (p *CandidatePool) Remove(id string) bool {
	idx, ok := p.index[id]
	if !ok {
		return false
	}
	p.items = append(p.items[:idx], p.items[idx+1:]...)
	p.index = make(map[string]int, len(p.items))
	for i, c := range p.items {
		p.index[c.SatelliteID] = i
	}
	return true
}

func (p *CandidatePool) Clear() {
	p.items = nil
	p.index = map[string]int{}
}

// Candidates returns a copy of the pool contents in admission order.
func (p *CandidatePool) Candidates() []models.Candidate {
	return append([]models.Candidate(nil), p.items...)
}

func (p *CandidatePool) Len() int { return len(p.items) }

func (p *CandidatePool) Capacity() int { return p.capacity }
