package abuse

import (
	"math"

	"github.com/ignite/abuse-guard/internal/config"
	"github.com/ignite/abuse-guard/internal/domain"
)

// ThresholdClassifier maps a cumulative score onto a Level.
//
// Ranges are half-open [min, next.min): a score of exactly 10 is "low". The
// five ranges tile [0, ∞) so every non-negative score has exactly one level.
type ThresholdClassifier struct {
	mins [5]float64 // indexed by domain.Level
}

func newThresholdClassifier(m map[string]config.RangeConfig) (ThresholdClassifier, error) {
	var c ThresholdClassifier
	ranges := make(map[domain.Level]config.RangeConfig, len(m))
	for key, r := range m {
		level, err := domain.ParseLevel(key)
		if err != nil {
			return c, invalid("thresholds: %v", err)
		}
		ranges[level] = r
	}

	for i, level := range domain.Levels {
		r, ok := ranges[level]
		if !ok {
			return c, invalid("thresholds.%s is missing", level)
		}
		if math.IsNaN(r.Min) || math.IsInf(r.Min, 0) {
			return c, invalid("thresholds.%s.min must be finite", level)
		}
		c.mins[level] = r.Min

		if i == 0 {
			if r.Min != 0 {
				return c, invalid("thresholds.%s.min must be 0, got %v", level, r.Min)
			}
			continue
		}
		prev := domain.Levels[i-1]
		if r.Min <= c.mins[prev] {
			return c, invalid("thresholds.%s.min %v overlaps %s", level, r.Min, prev)
		}
		// The previous max, when given, must close the range at this min.
		// Both the exclusive form (max == min) and the inclusive integer
		// form (max == min-1) are accepted; anything else is a gap or an
		// overlap.
		if pm := ranges[prev].Max; pm != nil && (*pm > r.Min || *pm < r.Min-1) {
			return c, invalid("thresholds.%s.max %v does not meet %s.min %v", prev, *pm, level, r.Min)
		}
	}
	if ranges[domain.LevelCritical].Max != nil {
		return c, invalid("thresholds.critical.max must be unset, the top level is unbounded")
	}
	return c, nil
}

// Classify returns the level for score. NaN classifies as critical so a
// corrupt score fails safe; negative scores classify as none.
func (c ThresholdClassifier) Classify(score float64) domain.Level {
	if math.IsNaN(score) {
		return domain.LevelCritical
	}
	for i := len(domain.Levels) - 1; i > 0; i-- {
		level := domain.Levels[i]
		if score >= c.mins[level] {
			return level
		}
	}
	return domain.LevelNone
}

// Min returns the inclusive lower bound of a level.
func (c ThresholdClassifier) Min(level domain.Level) float64 { return c.mins[level] }
