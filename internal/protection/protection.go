// Package protection turns a threat assessment into a plan of defensive
// measures and applies that plan to build a submission intent.
package protection

import (
	"fmt"
	"sort"
)

// Measure is a single defensive step.
type Measure string

const (
	MeasurePrivateRouting  Measure = "private_routing"
	MeasureDelay           Measure = "delay"
	MeasureOrderingBarrier Measure = "ordering_barrier"
	MeasureFlashloanShield Measure = "flashloan_shield"
)

// measureOrder is the fixed application order.
var measureOrder = map[Measure]int{
	MeasurePrivateRouting:  0,
	MeasureDelay:           1,
	MeasureOrderingBarrier: 2,
	MeasureFlashloanShield: 3,
}

// Known reports whether the applicator understands m.
func (m Measure) Known() bool {
	_, ok := measureOrder[m]
	return ok
}

// Plan is an ordered, duplicate-free list of measures. The zero Plan is the
// empty plan.
type Plan struct {
	Measures []Measure `json:"measures"`
}

// NewPlan sorts measures into application order and drops duplicates.
// Unknown measures are kept, after the known ones, so Apply can reject them.
func NewPlan(measures ...Measure) Plan {
	seen := make(map[Measure]bool, len(measures))
	out := make([]Measure, 0, len(measures))
	for _, m := range measures {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i]) < rank(out[j])
	})
	return Plan{Measures: out}
}

func rank(m Measure) int {
	if r, ok := measureOrder[m]; ok {
		return r
	}
	return len(measureOrder)
}

// Has reports whether the plan includes m.
func (p Plan) Has(m Measure) bool {
	for _, x := range p.Measures {
		if x == m {
			return true
		}
	}
	return false
}

// Empty reports whether the plan has no measures.
func (p Plan) Empty() bool {
	return len(p.Measures) == 0
}

func (p Plan) String() string {
	return fmt.Sprint(p.Measures)
}
