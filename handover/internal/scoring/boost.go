package scoring

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ILLUVRSE/leo-handover/handover/internal/models"
)

// boostRule is a parsed "field>threshold" or "field<threshold" condition.
type boostRule struct {
	condition string
	field     string
	greater   bool
	threshold float64
	factor    float64
}

func parseBoost(condition string, factor float64) (boostRule, error) {
	idx := strings.IndexAny(condition, "<>")
	if idx <= 0 || idx == len(condition)-1 {
		return boostRule{}, fmt.Errorf("boost condition %q: expected field>value or field<value", condition)
	}
	field := strings.TrimSpace(condition[:idx])
	if _, ok := (models.Candidate{}).Metric(field); !ok {
		return boostRule{}, fmt.Errorf("boost condition %q: unknown field %q", condition, field)
	}
	threshold, err := strconv.ParseFloat(strings.TrimSpace(condition[idx+1:]), 64)
	if err != nil {
		return boostRule{}, fmt.Errorf("boost condition %q: %w", condition, err)
	}
	if factor < 0 {
		return boostRule{}, fmt.Errorf("boost condition %q: negative factor", condition)
	}
	return boostRule{
		condition: condition,
		field:     field,
		greater:   condition[idx] == '>',
		threshold: threshold,
		factor:    factor,
	}, nil
}

func (r boostRule) matches(c models.Candidate) bool {
	v, _ := c.Metric(r.field)
	if r.greater {
		return v > r.threshold
	}
	return v < r.threshold
}

// parseBoosts returns the valid rules sorted by condition text plus the
// errors for rules that were skipped.
func parseBoosts(factors map[string]float64) ([]boostRule, []error) {
	conds := make([]string, 0, len(factors))
	for cond := range factors {
		conds = append(conds, cond)
	}
	sort.Strings(conds)
	rules := make([]boostRule, 0, len(conds))
	var errs []error
	for _, cond := range conds {
		rule, err := parseBoost(cond, factors[cond])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, errs
}
