package scoring

import (
	"github.com/infermed/backend/pkg/config"
	"github.com/infermed/backend/pkg/fingerprint"
)

// Weights is the additive weight per signal. Weights are expected to be
// non-negative.
type Weights struct {
	Canonical       float64 `json:"canonical"`
	PRRHigh         float64 `json:"prr_high"`
	PRRModerate     float64 `json:"prr_moderate"`
	PRRWeak         float64 `json:"prr_weak"`
	SharedPathway   float64 `json:"shared_pathway"`
	SharedTarget    float64 `json:"shared_target"`
	SharedSubstrate float64 `json:"shared_substrate"`
	Induction       float64 `json:"induction"`
	Inhibition      float64 `json:"inhibition"`
	RiskHigh        float64 `json:"risk_high"`
	RiskModerate    float64 `json:"risk_moderate"`
	DIQTHigh        float64 `json:"diqt_high"`
	DIQTModerate    float64 `json:"diqt_moderate"`
	CountHigh       float64 `json:"count_high"`
	CountModerate   float64 `json:"count_moderate"`
	CountLow        float64 `json:"count_low"`
	PairSpecific    float64 `json:"pair_specific"`
}

// Thresholds are strict lower bounds for the tiered signals.
type Thresholds struct {
	PRRHigh       float64 `json:"prr_high"`
	PRRModerate   float64 `json:"prr_moderate"`
	PRRWeak       float64 `json:"prr_weak"`
	DIQTHigh      float64 `json:"diqt_high"`
	DIQTModerate  float64 `json:"diqt_moderate"`
	CountHigh     int     `json:"count_high"`
	CountModerate int     `json:"count_moderate"`
	CountLow      int     `json:"count_low"`
}

func DefaultWeights() Weights {
	return Weights{
		Canonical:       10,
		PRRHigh:         5,
		PRRModerate:     2,
		PRRWeak:         0.5,
		SharedPathway:   3,
		SharedTarget:    2,
		SharedSubstrate: 1.5,
		Induction:       3,
		Inhibition:      4,
		RiskHigh:        2,
		RiskModerate:    1,
		DIQTHigh:        1.5,
		DIQTModerate:    0.5,
		CountHigh:       2,
		CountModerate:   1,
		CountLow:        0.5,
		PairSpecific:    1,
	}
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		PRRHigh:       2.0,
		PRRModerate:   1.5,
		PRRWeak:       1.0,
		DIQTHigh:      0.7,
		DIQTModerate:  0.4,
		CountHigh:     1000,
		CountModerate: 100,
		CountLow:      10,
	}
}

func FromConfig(c config.ScoringConfig) (Weights, Thresholds) {
	w := Weights{
		Canonical:       c.Canonical,
		PRRHigh:         c.PRRHigh,
		PRRModerate:     c.PRRModerate,
		PRRWeak:         c.PRRWeak,
		SharedPathway:   c.SharedPathway,
		SharedTarget:    c.SharedTarget,
		SharedSubstrate: c.SharedSubstrate,
		Induction:       c.Induction,
		Inhibition:      c.Inhibition,
		RiskHigh:        c.RiskHigh,
		RiskModerate:    c.RiskModerate,
		DIQTHigh:        c.DIQTHigh,
		DIQTModerate:    c.DIQTModerate,
		CountHigh:       c.CountHigh,
		CountModerate:   c.CountModerate,
		CountLow:        c.CountLow,
		PairSpecific:    c.PairSpecific,
	}
	t := Thresholds{
		PRRHigh:       c.PRRHighAbove,
		PRRModerate:   c.PRRModerateAbove,
		PRRWeak:       c.PRRWeakAbove,
		DIQTHigh:      c.DIQTHighAbove,
		DIQTModerate:  c.DIQTModerateAbove,
		CountHigh:     c.CountHighAbove,
		CountModerate: c.CountModAbove,
		CountLow:      c.CountLowAbove,
	}
	return w, t
}

// Fingerprint changes whenever any weight or threshold changes, so it can be
// folded into the cache version tag.
func Fingerprint(w Weights, t Thresholds) string {
	fp, err := fingerprint.Value(struct {
		W Weights    `json:"w"`
		T Thresholds `json:"t"`
	}{w, t})
	if err != nil {
		return "unhashable"
	}
	return fp
}
