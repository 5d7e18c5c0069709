// Package circuitbreaker guards upstream endpoints (RPC nodes, relays) with
// a closed -> open -> half-open breaker per endpoint.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Do when the endpoint's circuit rejects the call.
var ErrOpen = errors.New("circuit open")

// State of a single endpoint circuit.
type State int

const (
	StateClosed   State = iota // calls flow
	StateOpen                  // calls rejected until the cool-down elapses
	StateHalfOpen              // one probe in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mevguard",
	Subsystem: "upstream_breaker",
	Name:      "transitions_total",
	Help:      "Upstream circuit transitions by endpoint and target state.",
}, []string{"endpoint", "to_state"})

func init() {
	prometheus.MustRegister(transitionsTotal)
}

type circuit struct {
	state     State
	failures  int
	trippedAt time.Time
}

// Breaker tracks one circuit per endpoint key.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	coolDown  time.Duration
	now       func() time.Time
	onChange  func(endpoint string, from, to State)
}

// Option tweaks a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithOnChange registers a synchronous callback for state changes.
// It runs with the breaker lock held and must not call back into the breaker.
func WithOnChange(fn func(endpoint string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// New creates a breaker that opens after threshold consecutive failures and
// probes again after coolDown.
func New(threshold int, coolDown time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	b := &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		coolDown:  coolDown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call to endpoint may proceed. An open circuit whose
// cool-down has elapsed moves to half-open and admits exactly one probe.
func (b *Breaker) Allow(endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[endpoint]
	if !ok {
		return true
	}
	switch c.state {
	case StateOpen:
		if b.now().Sub(c.trippedAt) < b.coolDown {
			return false
		}
		b.move(endpoint, c, StateHalfOpen)
		return true
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

// Success closes a half-open circuit and clears the failure streak.
func (b *Breaker) Success(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[endpoint]
	if !ok {
		return
	}
	c.failures = 0
	if c.state == StateHalfOpen {
		b.move(endpoint, c, StateClosed)
	}
}

// Failure extends the failure streak and trips the circuit when the
// threshold is reached or a half-open probe fails.
func (b *Breaker) Failure(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[endpoint]
	if !ok {
		c = &circuit{}
		b.circuits[endpoint] = c
	}
	c.failures++

	switch {
	case c.state == StateHalfOpen:
		c.trippedAt = b.now()
		b.move(endpoint, c, StateOpen)
	case c.state == StateClosed && c.failures >= b.threshold:
		c.trippedAt = b.now()
		b.move(endpoint, c, StateOpen)
	}
}

// State returns the endpoint's current state; unknown endpoints are closed.
func (b *Breaker) State(endpoint string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[endpoint]; ok {
		return c.state
	}
	return StateClosed
}

// Do runs fn when the circuit allows it and records the outcome.
func (b *Breaker) Do(endpoint string, fn func() error) error {
	if !b.Allow(endpoint) {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.Failure(endpoint)
		return err
	}
	b.Success(endpoint)
	return nil
}

// caller holds b.mu
func (b *Breaker) move(endpoint string, c *circuit, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	transitionsTotal.WithLabelValues(endpoint, to.String()).Inc()
	if b.onChange != nil {
		b.onChange(endpoint, from, to)
	}
}
