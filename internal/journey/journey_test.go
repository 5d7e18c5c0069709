package journey

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/mevguard/internal/faults"
	"github.com/mbd888/mevguard/internal/threat"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestJourney() *Journey {
	c := &stepClock{t: time.Unix(1_700_000_000, 0).UTC()}
	return NewWithClock(uuid.New(), c.now)
}

func walkTo(t *testing.T, j *Journey, target State) {
	t.Helper()
	for j.State != target {
		next, ok := advances[j.State]
		require.True(t, ok, "cannot walk from %s to %s", j.State, target)
		if next == StateAssessed {
			require.NoError(t, j.Assessed(threat.LevelFullyShielded, 0.3, "scored"))
			continue
		}
		require.NoError(t, j.Advance(next, "step"))
	}
}

func assertUnchanged(t *testing.T, before, after *Journey) {
	t.Helper()
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.History, after.History)
	assert.Equal(t, before.Level, after.Level)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestJourneyHappyPath(t *testing.T) {
	j := newTestJourney()
	assert.Equal(t, StateSubmitted, j.State)
	assert.Empty(t, j.History)

	require.NoError(t, j.Assessed(threat.LevelVulnerable, 0.85, "score 0.850"))
	require.NoError(t, j.Advance(StatePlanSelected, "private_routing,ordering_barrier"))
	require.NoError(t, j.Advance(StateProtected, "intent built"))
	require.NoError(t, j.Advance(StateExecuting, "handed to executor"))
	require.NoError(t, j.Advance(StateCompleted, "included"))

	assert.True(t, j.Terminal())
	require.Len(t, j.History, 5)
	require.NotNil(t, j.Level)
	assert.Equal(t, threat.LevelVulnerable, *j.Level)
	assert.Equal(t, 0.85, *j.Score)

	for i, tr := range j.History {
		assert.Equal(t, i+1, tr.Seq)
		assert.Empty(t, tr.Kind)
		if i > 0 {
			assert.Equal(t, j.History[i-1].To, tr.From)
			assert.True(t, tr.At.After(j.History[i-1].At))
		}
	}
	assert.Equal(t, j.History[4].At, j.UpdatedAt)
	assert.Empty(t, j.FailureKind())
}

func TestJourneyInvalidTransactionIsSoleEntry(t *testing.T) {
	j := newTestJourney()
	err := j.Fail(faults.New(faults.KindInvalidTransaction, "value is negative: -1"))
	require.NoError(t, err)

	require.Len(t, j.History, 1)
	tr := j.History[0]
	assert.Equal(t, StateSubmitted, tr.From)
	assert.Equal(t, StateFailed, tr.To)
	assert.Equal(t, faults.KindInvalidTransaction, tr.Kind)
	assert.Contains(t, tr.Cause, "value is negative")
	assert.Equal(t, faults.KindInvalidTransaction, j.FailureKind())
	assert.Nil(t, j.Level)
}

func TestJourneyRejectsEveryIllegalEdge(t *testing.T) {
	legal := map[State]map[State]bool{
		StateSubmitted:    {StateAssessed: true, StateFailed: true},
		StateAssessed:     {StatePlanSelected: true},
		StatePlanSelected: {StateProtected: true, StateFailed: true},
		StateProtected:    {StateExecuting: true},
		StateExecuting:    {StateCompleted: true, StateFailed: true},
	}

	for _, from := range States {
		for _, to := range States {
			if legal[from][to] {
				continue
			}
			j := newTestJourney()
			if from == StateFailed {
				require.NoError(t, j.Fail(faults.ErrInvalidTransaction))
			} else {
				walkTo(t, j, from)
			}
			before := j.Clone()

			err := j.Advance(to, "bogus")
			assert.ErrorIs(t, err, ErrIllegalTransition, "%s -> %s", from, to)
			assertUnchanged(t, before, j)
		}
	}
}

func TestJourneyFailKinds(t *testing.T) {
	tests := []struct {
		from  State
		err   error
		legal bool
	}{
		{StateSubmitted, faults.ErrInvalidTransaction, true},
		{StateSubmitted, faults.ErrExecutionTimeout, false},
		{StateAssessed, faults.ErrInvalidTransaction, false},
		{StatePlanSelected, faults.ErrUnsupportedMeasure, true},
		{StatePlanSelected, faults.ErrExecutionReverted, false},
		{StateProtected, faults.ErrExecutionTimeout, false},
		{StateExecuting, faults.ErrExecutionTimeout, true},
		{StateExecuting, faults.ErrExecutionReverted, true},
		{StateExecuting, errors.New("unclassified"), false},
		{StateCompleted, faults.ErrExecutionReverted, false},
	}
	for _, tt := range tests {
		j := newTestJourney()
		walkTo(t, j, tt.from)
		before := j.Clone()

		err := j.Fail(tt.err)
		if tt.legal {
			require.NoError(t, err, "%s with %v", tt.from, tt.err)
			assert.Equal(t, StateFailed, j.State)
			assert.Equal(t, faults.KindOf(tt.err), j.FailureKind())
			continue
		}
		assert.ErrorIs(t, err, ErrIllegalTransition, "%s with %v", tt.from, tt.err)
		assertUnchanged(t, before, j)
	}
}

func TestJourneyTerminalRejectsEverything(t *testing.T) {
	j := newTestJourney()
	walkTo(t, j, StateCompleted)
	for _, to := range States {
		assert.ErrorIs(t, j.Advance(to, "again"), ErrIllegalTransition)
	}
	assert.ErrorIs(t, j.Fail(faults.ErrExecutionReverted), ErrIllegalTransition)
	assert.Len(t, j.History, 5)
}

func TestJourneyAssessedOnlyFromSubmitted(t *testing.T) {
	j := newTestJourney()
	require.NoError(t, j.Assessed(threat.LevelSacredSanctuary, 0, "clean"))
	assert.ErrorIs(t, j.Assessed(threat.LevelVulnerable, 1, "again"), ErrIllegalTransition)
	assert.Equal(t, threat.LevelSacredSanctuary, *j.Level)
}

func TestJourneyCloneIsIndependent(t *testing.T) {
	j := newTestJourney()
	require.NoError(t, j.Assessed(threat.LevelVulnerable, 0.9, "scored"))
	c := j.Clone()

	require.NoError(t, j.Advance(StatePlanSelected, "plan"))
	*j.Level = threat.LevelSacredSanctuary

	assert.Equal(t, StateAssessed, c.State)
	assert.Len(t, c.History, 1)
	assert.Equal(t, threat.LevelVulnerable, *c.Level)
}
