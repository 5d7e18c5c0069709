// Package journey tracks one transaction from submission to its terminal
// outcome.
//
// A Journey is a small state machine with an append-only history. Only the
// legal edges below are accepted; any other transition is rejected with
// ErrIllegalTransition and leaves the journey untouched.
//
//	Submitted    -> Assessed | Failed(invalid_transaction)
//	Assessed     -> PlanSelected
//	PlanSelected -> Protected | Failed(unsupported_measure)
//	Protected    -> Executing
//	Executing    -> Completed | Failed(execution_timeout, execution_reverted)
//
// Submitted is the initial state and has no history entry of its own.
// A Journey is owned by a single goroutine; use Clone to hand a copy to
// reporters.
package journey

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mbd888/mevguard/internal/faults"
	"github.com/mbd888/mevguard/internal/threat"
)

// State is a journey stage.
type State string

const (
	StateSubmitted    State = "submitted"
	StateAssessed     State = "assessed"
	StatePlanSelected State = "plan_selected"
	StateProtected    State = "protected"
	StateExecuting    State = "executing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// States lists every state in pipeline order.
var States = []State{
	StateSubmitted,
	StateAssessed,
	StatePlanSelected,
	StateProtected,
	StateExecuting,
	StateCompleted,
	StateFailed,
}

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

var (
	// ErrIllegalTransition is returned for any edge not in the state graph.
	ErrIllegalTransition = errors.New("journey: illegal transition")
	// ErrNotFound is returned by stores for unknown journeys.
	ErrNotFound = errors.New("journey: not found")
)

// advances lists the non-failure edges.
var advances = map[State]State{
	StateSubmitted:    StateAssessed,
	StateAssessed:     StatePlanSelected,
	StatePlanSelected: StateProtected,
	StateProtected:    StateExecuting,
	StateExecuting:    StateCompleted,
}

// failures lists the failure kinds each state may fail with.
var failures = map[State][]faults.Kind{
	StateSubmitted:    {faults.KindInvalidTransaction},
	StatePlanSelected: {faults.KindUnsupportedMeasure},
	StateExecuting:    {faults.KindExecutionTimeout, faults.KindExecutionReverted},
}

// Transition is one history entry.
type Transition struct {
	Seq   int         `json:"seq"`
	From  State       `json:"from"`
	To    State       `json:"to"`
	Cause string      `json:"cause"`
	Kind  faults.Kind `json:"kind,omitempty"`
	At    time.Time   `json:"at"`
}

// Journey is the mutable record of one transaction's progress.
type Journey struct {
	TxID      uuid.UUID     `json:"txId"`
	State     State         `json:"state"`
	Level     *threat.Level `json:"level,omitempty"`
	Score     *float64      `json:"score,omitempty"`
	History   []Transition  `json:"history"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`

	now func() time.Time
}

// New starts a journey in Submitted.
func New(txID uuid.UUID) *Journey {
	return NewWithClock(txID, time.Now)
}

// NewWithClock starts a journey that timestamps transitions with now.
func NewWithClock(txID uuid.UUID, now func() time.Time) *Journey {
	at := now()
	return &Journey{
		TxID:      txID,
		State:     StateSubmitted,
		History:   []Transition{},
		CreatedAt: at,
		UpdatedAt: at,
		now:       now,
	}
}

// Advance moves along a non-failure edge.
func (j *Journey) Advance(to State, cause string) error {
	if next, ok := advances[j.State]; !ok || next != to {
		return j.illegal(to)
	}
	j.record(to, cause, "")
	return nil
}

// Assessed advances Submitted -> Assessed and records the classification.
func (j *Journey) Assessed(level threat.Level, score float64, cause string) error {
	if err := j.Advance(StateAssessed, cause); err != nil {
		return err
	}
	j.Level = &level
	j.Score = &score
	return nil
}

// Fail moves to Failed, recording err's kind. err must be a *faults.Error
// whose kind is allowed from the current state.
func (j *Journey) Fail(err error) error {
	kind := faults.KindOf(err)
	allowed := false
	for _, k := range failures[j.State] {
		if k == kind {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s with kind %q", ErrIllegalTransition, j.State, StateFailed, kind)
	}
	j.record(StateFailed, err.Error(), kind)
	return nil
}

// Terminal reports whether the journey reached Completed or Failed.
func (j *Journey) Terminal() bool {
	return j.State.Terminal()
}

// FailureKind returns the kind the journey failed with, or "".
func (j *Journey) FailureKind() faults.Kind {
	if j.State != StateFailed || len(j.History) == 0 {
		return ""
	}
	return j.History[len(j.History)-1].Kind
}

// Last returns the most recent transition.
func (j *Journey) Last() (Transition, bool) {
	if len(j.History) == 0 {
		return Transition{}, false
	}
	return j.History[len(j.History)-1], true
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j *Journey) Clone() *Journey {
	c := *j
	c.History = append([]Transition(nil), j.History...)
	if c.History == nil {
		c.History = []Transition{}
	}
	if j.Level != nil {
		level := *j.Level
		c.Level = &level
	}
	if j.Score != nil {
		score := *j.Score
		c.Score = &score
	}
	return &c
}

func (j *Journey) record(to State, cause string, kind faults.Kind) {
	at := j.clock()
	j.History = append(j.History, Transition{
		Seq:   len(j.History) + 1,
		From:  j.State,
		To:    to,
		Cause: cause,
		Kind:  kind,
		At:    at,
	})
	j.State = to
	j.UpdatedAt = at
}

func (j *Journey) clock() time.Time {
	if j.now == nil {
		return time.Now()
	}
	return j.now()
}

func (j *Journey) illegal(to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, j.State, to)
}
