package protection

import (
	"fmt"

	"github.com/mbd888/mevguard/internal/threat"
	"github.com/mbd888/mevguard/internal/txn"
)

// Selector maps an assessment to a plan. It is a pure function of its
// configuration and inputs.
type Selector struct {
	// FlashloanSelectors trigger the flashloan shield for FullyShielded
	// transactions.
	FlashloanSelectors threat.SelectorSet
	// DelayCongestionAbove adds the delay measure to Vulnerable plans when
	// the assessed congestion is at or above it. Zero disables delays.
	DelayCongestionAbove float64
}

// NewSelector returns a selector with the default flashloan selectors and
// delays disabled.
func NewSelector() *Selector {
	return &Selector{FlashloanSelectors: threat.DefaultFlashloanSelectors()}
}

// Select returns the plan for assessment. Every level yields a plan; the
// SacredSanctuary plan is empty.
func (s *Selector) Select(assessment *threat.Assessment, tx *txn.Transaction) Plan {
	switch assessment.Level {
	case threat.LevelVulnerable:
		measures := []Measure{MeasurePrivateRouting, MeasureOrderingBarrier}
		if s.DelayCongestionAbove > 0 && assessment.Congestion >= s.DelayCongestionAbove {
			measures = append(measures, MeasureDelay)
		}
		return NewPlan(measures...)
	case threat.LevelPartiallyProtected:
		return NewPlan(MeasurePrivateRouting)
	case threat.LevelFullyShielded:
		if s.FlashloanSelectors.Matches(tx.Payload) {
			return NewPlan(MeasureOrderingBarrier, MeasureFlashloanShield)
		}
		return NewPlan(MeasureOrderingBarrier)
	case threat.LevelSacredSanctuary:
		return NewPlan()
	default:
		panic(fmt.Sprintf("protection: unhandled security level %v", assessment.Level))
	}
}
