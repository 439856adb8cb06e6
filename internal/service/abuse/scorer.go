package abuse

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ignite/abuse-guard/internal/config"
	"github.com/ignite/abuse-guard/internal/domain"
)

// Rounding selects how a multiplied complaint score becomes whole points.
type Rounding string

const (
	RoundNearest Rounding = "nearest" // half away from zero
	RoundFloor   Rounding = "floor"
	RoundCeil    Rounding = "ceil"
)

// Apply rounds v. Products of decimal multipliers carry binary noise
// (25*1.5*0.8 is 30.000000000000004), so v is snapped to 1e-6 first.
func (r Rounding) Apply(v float64) int {
	v = math.Round(v*1e6) / 1e6
	switch r {
	case RoundFloor:
		return int(math.Floor(v))
	case RoundCeil:
		return int(math.Ceil(v))
	default:
		return int(math.Round(v))
	}
}

// ScoreDelta is the outcome of scoring one complaint.
type ScoreDelta struct {
	RawWeight  int     `json:"raw_weight"`
	Multiplier float64 `json:"multiplier"`
	Effective  int     `json:"effective"`
	Grace      bool    `json:"grace"`
	Whitelist  bool    `json:"whitelist"`
	Critical   bool    `json:"critical"`
}

// ComplaintScorer turns a complaint into a point delta. It is a pure
// function of the complaint, the tenant profile and the clock; dedup is the
// caller's job.
type ComplaintScorer struct {
	weights       map[domain.ComplaintType]int
	severity      map[domain.Severity]float64
	source        map[domain.Source]float64
	provider      map[string]float64
	criticalTypes map[domain.ComplaintType]bool
	rounding      Rounding
	grace         config.GracePeriodConfig
	whitelist     map[string]bool
	whitelistMult float64
}

func newComplaintScorer(cfg config.AbuseConfig) (ComplaintScorer, error) {
	c := cfg.Complaints
	s := ComplaintScorer{
		weights:       make(map[domain.ComplaintType]int),
		severity:      make(map[domain.Severity]float64),
		source:        make(map[domain.Source]float64),
		provider:      make(map[string]float64),
		criticalTypes: make(map[domain.ComplaintType]bool),
		rounding:      Rounding(strings.ToLower(strings.TrimSpace(c.Rounding))),
		grace:         cfg.GracePeriod,
		whitelist:     make(map[string]bool),
		whitelistMult: cfg.Whitelist.Multiplier,
	}

	for key, w := range c.Weights {
		ct := domain.ComplaintType(key)
		if !ct.Valid() {
			return s, invalid("complaints.weights: unknown complaint type %q", key)
		}
		if w < 0 {
			return s, invalid("complaints.weights.%s must not be negative", key)
		}
		s.weights[ct] = w
	}
	for _, ct := range domain.ComplaintTypes {
		if _, ok := s.weights[ct]; !ok {
			return s, invalid("complaints.weights.%s is missing", ct)
		}
	}

	for key, m := range c.SeverityMultipliers {
		sev := domain.Severity(key)
		if !sev.Valid() {
			return s, invalid("complaints.severity_multipliers: unknown severity %q", key)
		}
		if err := checkMultiplier("complaints.severity_multipliers."+key, m); err != nil {
			return s, err
		}
		s.severity[sev] = m
	}
	for _, sev := range domain.Severities {
		if _, ok := s.severity[sev]; !ok {
			return s, invalid("complaints.severity_multipliers.%s is missing", sev)
		}
	}

	for key, m := range c.SourceMultipliers {
		src := domain.Source(key)
		if !src.Valid() {
			return s, invalid("complaints.source_multipliers: unknown source %q", key)
		}
		if err := checkMultiplier("complaints.source_multipliers."+key, m); err != nil {
			return s, err
		}
		s.source[src] = m
	}
	for _, src := range domain.Sources {
		if _, ok := s.source[src]; !ok {
			return s, invalid("complaints.source_multipliers.%s is missing", src)
		}
	}

	for key, m := range c.ProviderMultipliers {
		if err := checkMultiplier("complaints.provider_multipliers."+key, m); err != nil {
			return s, err
		}
		s.provider[strings.ToLower(key)] = m
	}

	for _, key := range c.CriticalTypes {
		ct := domain.ComplaintType(key)
		if !ct.Valid() {
			return s, invalid("complaints.critical_types: unknown complaint type %q", key)
		}
		s.criticalTypes[ct] = true
	}

	switch s.rounding {
	case "":
		s.rounding = RoundNearest
	case RoundNearest, RoundFloor, RoundCeil:
	default:
		return s, invalid("complaints.rounding %q must be nearest, floor or ceil", c.Rounding)
	}

	if err := checkMultiplier("grace_period.multiplier", cfg.GracePeriod.Multiplier); err != nil {
		return s, err
	}
	if cfg.GracePeriod.Days < 0 {
		return s, invalid("grace_period.days must not be negative")
	}
	if err := checkMultiplier("whitelist.multiplier", cfg.Whitelist.Multiplier); err != nil {
		return s, err
	}
	for _, bt := range cfg.Whitelist.BusinessTypes {
		s.whitelist[strings.ToLower(strings.TrimSpace(bt))] = true
	}
	return s, nil
}

func checkMultiplier(name string, m float64) error {
	if m < 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		return invalid("%s must be a finite non-negative number", name)
	}
	return nil
}

// Score computes the effective weight of a complaint:
// weight × severity × source × provider × grace × whitelist, then rounded.
func (s ComplaintScorer) Score(c domain.ComplaintRecord, tenant domain.TenantProfile, now time.Time) (ScoreDelta, error) {
	if err := c.Validate(); err != nil {
		return ScoreDelta{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	d := ScoreDelta{
		RawWeight: s.weights[c.ComplaintType],
		Critical:  s.IsCritical(c.ComplaintType),
	}
	mult := s.severity[c.Severity] * s.source[c.Source] * s.providerMultiplier(c.Provider)

	if s.InGracePeriod(tenant, now) {
		mult *= s.grace.Multiplier
		d.Grace = true
	}
	if s.whitelist[strings.ToLower(strings.TrimSpace(tenant.BusinessType))] {
		mult *= s.whitelistMult
		d.Whitelist = true
	}

	d.Multiplier = mult
	d.Effective = s.rounding.Apply(float64(d.RawWeight) * mult)
	return d, nil
}

// IsCritical reports whether a complaint type forces the critical action.
func (s ComplaintScorer) IsCritical(ct domain.ComplaintType) bool { return s.criticalTypes[ct] }

// InGracePeriod reports whether the tenant registered recently enough for
// reduced scoring.
func (s ComplaintScorer) InGracePeriod(t domain.TenantProfile, now time.Time) bool {
	if !s.grace.ReducedScoring || s.grace.Days <= 0 || t.RegisteredAt.IsZero() {
		return false
	}
	return now.Before(t.RegisteredAt.AddDate(0, 0, s.grace.Days))
}

// Unknown providers score at 1.0.
func (s ComplaintScorer) providerMultiplier(provider string) float64 {
	if m, ok := s.provider[strings.ToLower(strings.TrimSpace(provider))]; ok {
		return m
	}
	return 1.0
}
