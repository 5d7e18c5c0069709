package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(threshold, time.Minute, WithClock(clock.Now)), clock
}

func TestClosedAllows(t *testing.T) {
	b, _ := newTestBreaker(3)
	assert.True(t, b.Allow("rpc-a"))
	assert.Equal(t, StateClosed, b.State("rpc-a"))
}

func TestTripsAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.Failure("rpc-a")
	b.Failure("rpc-a")
	assert.True(t, b.Allow("rpc-a"), "two failures stay closed")

	b.Failure("rpc-a")
	assert.False(t, b.Allow("rpc-a"))
	assert.Equal(t, StateOpen, b.State("rpc-a"))
	assert.True(t, b.Allow("rpc-b"), "other endpoints unaffected")
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(1)
	b.Failure("rpc-a")

	clock.Advance(59 * time.Second)
	assert.False(t, b.Allow("rpc-a"))

	clock.Advance(time.Second)
	assert.True(t, b.Allow("rpc-a"))
	assert.Equal(t, StateHalfOpen, b.State("rpc-a"))
	assert.False(t, b.Allow("rpc-a"), "second call while probing is rejected")
}

func TestProbeOutcome(t *testing.T) {
	b, clock := newTestBreaker(1)

	b.Failure("rpc-a")
	clock.Advance(time.Minute)
	b.Allow("rpc-a")
	b.Success("rpc-a")
	assert.Equal(t, StateClosed, b.State("rpc-a"))

	b.Failure("rpc-a")
	clock.Advance(time.Minute)
	b.Allow("rpc-a")
	b.Failure("rpc-a")
	assert.Equal(t, StateOpen, b.State("rpc-a"))
	assert.False(t, b.Allow("rpc-a"))
}

func TestDo(t *testing.T) {
	b, _ := newTestBreaker(2)
	boom := errors.New("dial tcp: refused")

	assert.ErrorIs(t, b.Do("rpc-a", func() error { return boom }), boom)
	assert.ErrorIs(t, b.Do("rpc-a", func() error { return boom }), boom)

	called := false
	err := b.Do("rpc-a", func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestOnChangeCallback(t *testing.T) {
	var got []string
	b := New(1, time.Minute, WithOnChange(func(endpoint string, from, to State) {
		got = append(got, endpoint+":"+from.String()+"->"+to.String())
	}))

	b.Failure("rpc-a")
	assert.Equal(t, []string{"rpc-a:closed->open"}, got)
}
