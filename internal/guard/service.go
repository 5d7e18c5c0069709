// Package guard runs the protection pipeline for pending transactions.
//
// A submission is assessed against the current pool snapshot, given a plan,
// turned into a submission intent, and handed to the execution collaborator.
// Every step is recorded on the transaction's journey, and the terminal
// journey is reported to the registered reporters.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mbd888/mevguard/internal/execution"
	"github.com/mbd888/mevguard/internal/faults"
	"github.com/mbd888/mevguard/internal/journey"
	"github.com/mbd888/mevguard/internal/logging"
	"github.com/mbd888/mevguard/internal/metrics"
	"github.com/mbd888/mevguard/internal/pool"
	"github.com/mbd888/mevguard/internal/protection"
	"github.com/mbd888/mevguard/internal/retry"
	"github.com/mbd888/mevguard/internal/syncutil"
	"github.com/mbd888/mevguard/internal/threat"
	"github.com/mbd888/mevguard/internal/traces"
	"github.com/mbd888/mevguard/internal/tuning"
	"github.com/mbd888/mevguard/internal/txn"
)

// ErrDuplicateTransaction is returned when an identifier already had a
// journey. Nothing is recorded for the rejected submission.
var ErrDuplicateTransaction = errors.New("guard: duplicate transaction identifier")

const (
	DefaultExecutionTimeout = 30 * time.Second
	DefaultReportTimeout    = 5 * time.Second
	DefaultBatchConcurrency = 8
	DefaultSeenCapacity     = 100_000
)

// Reporter receives terminal journeys. Reporters get their own copy.
type Reporter interface {
	Report(ctx context.Context, j *journey.Journey) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, j *journey.Journey) error

func (f ReporterFunc) Report(ctx context.Context, j *journey.Journey) error {
	return f(ctx, j)
}

// TransitionListener is told about every transition as it happens.
// Implementations must not block.
type TransitionListener interface {
	OnTransition(ctx context.Context, j *journey.Journey, tr journey.Transition)
}

// Outcome is the result of one protected submission. Failure is set when the
// journey ended in Failed.
type Outcome struct {
	Journey    *journey.Journey             `json:"journey"`
	Assessment *threat.Assessment           `json:"assessment,omitempty"`
	Plan       *protection.Plan             `json:"plan,omitempty"`
	Intent     *protection.SubmissionIntent `json:"intent,omitempty"`
	Result     *execution.Result            `json:"result,omitempty"`
	Failure    *faults.Error                `json:"failure,omitempty"`
}

// Preview is an assessment and the plan it would get, without a journey.
type Preview struct {
	Assessment *threat.Assessment `json:"assessment"`
	Plan       protection.Plan    `json:"plan"`
}

// BatchItem is one entry of a batch result. Err carries the same errors
// Protect returns; domain failures are in Outcome.Failure.
type BatchItem struct {
	Outcome *Outcome
	Err     error
}

type namedReporter struct {
	name string
	Reporter
}

// engine bundles the pure stages built from one tuning.
type engine struct {
	assessor   *threat.Assessor
	selector   *protection.Selector
	applicator *protection.Applicator
}

// Service runs protection journeys. Safe for concurrent use.
type Service struct {
	pool     *pool.Holder
	executor execution.Executor
	engine   atomic.Pointer[engine]

	relayURL      string
	execTimeout   time.Duration
	reportTimeout time.Duration
	retryPolicy   retry.Policy
	batchLimit    int
	seenCapacity  int

	locks     *syncutil.KeyedMutex
	seen      *seenSet
	store     journey.Store
	reporters []namedReporter
	listeners []TransitionListener

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRelayURL sets the private relay the private routing measure targets.
func WithRelayURL(url string) Option {
	return func(s *Service) { s.relayURL = url }
}

// WithExecutionTimeout bounds the execution handoff.
func WithExecutionTimeout(d time.Duration) Option {
	return func(s *Service) { s.execTimeout = d }
}

// WithReportTimeout bounds each reporter call, retries included.
func WithReportTimeout(d time.Duration) Option {
	return func(s *Service) { s.reportTimeout = d }
}

// WithRetryPolicy overrides the reporter retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.retryPolicy = p }
}

// WithBatchConcurrency caps how many journeys of one batch run at once.
func WithBatchConcurrency(n int) Option {
	return func(s *Service) { s.batchLimit = n }
}

// WithSeenCapacity sets how many recent identifiers are remembered in
// memory for duplicate detection.
func WithSeenCapacity(n int) Option {
	return func(s *Service) { s.seenCapacity = n }
}

// WithStore archives terminal journeys in store and consults it when
// checking for duplicate identifiers.
func WithStore(store journey.Store) Option {
	return func(s *Service) {
		s.store = store
		s.reporters = append(s.reporters, namedReporter{name: "store", Reporter: ReporterFunc(store.Save)})
	}
}

// WithReporter registers a reporter under name, used in logs and metrics.
func WithReporter(name string, r Reporter) Option {
	return func(s *Service) { s.reporters = append(s.reporters, namedReporter{name: name, Reporter: r}) }
}

// WithTransitionListener registers a listener for individual transitions.
func WithTransitionListener(l TransitionListener) Option {
	return func(s *Service) { s.listeners = append(s.listeners, l) }
}

// WithClock sets the clock used for journey timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a service reading snapshots from holder and handing intents
// to executor. A nil tuning means the built-in defaults.
func New(holder *pool.Holder, executor execution.Executor, t *tuning.Tuning, opts ...Option) (*Service, error) {
	if holder == nil {
		holder = pool.NewHolder()
	}
	if executor == nil {
		return nil, errors.New("guard: executor is required")
	}
	s := &Service{
		pool:          holder,
		executor:      executor,
		execTimeout:   DefaultExecutionTimeout,
		reportTimeout: DefaultReportTimeout,
		retryPolicy:   retry.DefaultPolicy,
		batchLimit:    DefaultBatchConcurrency,
		seenCapacity:  DefaultSeenCapacity,
		locks:         syncutil.NewKeyedMutex(),
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.seen = newSeenSet(s.seenCapacity)
	if t == nil {
		t = tuning.Default()
	}
	if err := s.Retune(t); err != nil {
		return nil, err
	}
	return s, nil
}

// Retune swaps the scoring and selection configuration. Journeys already
// running keep the configuration they started with.
func (s *Service) Retune(t *tuning.Tuning) error {
	assessor, err := threat.NewAssessor(t.Threat)
	if err != nil {
		return fmt.Errorf("guard: retune: %w", err)
	}
	selector := t.Selector
	s.engine.Store(&engine{
		assessor:   assessor,
		selector:   &selector,
		applicator: protection.NewApplicator(s.relayURL).WithDelayBlocks(t.DelayBlocks),
	})
	return nil
}

// Pool returns the snapshot holder the service assesses against.
func (s *Service) Pool() *pool.Holder {
	return s.pool
}

// Assess scores tx and selects its plan without starting a journey.
func (s *Service) Assess(ctx context.Context, tx *txn.Transaction) (*Preview, error) {
	eng := s.engine.Load()
	ctx, span := traces.StartSpan(ctx, "guard.preview")
	defer span.End()

	a, err := s.assessStage(ctx, eng, tx)
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(traces.TxID(a.TxID))
	return &Preview{Assessment: a, Plan: eng.selector.Select(a, tx)}, nil
}

// Protect runs the full pipeline for tx and returns its terminal outcome.
// Domain failures end the journey in Failed and are reported through
// Outcome.Failure with a nil error. The error is reserved for submissions
// that never get a journey: missing identifiers, duplicates, and ctx ending
// while waiting for the identifier's lock.
func (s *Service) Protect(ctx context.Context, tx *txn.Transaction) (*Outcome, error) {
	if tx == nil || tx.ID == uuid.Nil {
		return nil, faults.New(faults.KindInvalidTransaction, "transaction identifier is missing")
	}
	ctx = logging.WithTxID(logging.WithLogger(ctx, s.logger), tx.ID)

	unlock, err := s.locks.LockContext(ctx, tx.ID.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.claim(ctx, tx.ID); err != nil {
		return nil, err
	}

	ctx, span := traces.StartSpan(ctx, "guard.protect", traces.TxID(tx.ID), traces.Target(tx.To))
	defer span.End()

	metrics.ActiveJourneys.Inc()
	defer metrics.ActiveJourneys.Dec()

	eng := s.engine.Load()
	out := &Outcome{Journey: journey.NewWithClock(tx.ID, s.now)}
	if err := s.run(ctx, eng, tx, out); err != nil {
		traces.Fail(span, err)
		return nil, err
	}

	j := out.Journey
	span.SetAttributes(traces.State(string(j.State)))
	if out.Failure != nil {
		span.SetAttributes(traces.FailureKind(string(out.Failure.Kind)))
	}
	metrics.JourneysTotal.WithLabelValues(string(j.State), string(j.FailureKind())).Inc()
	s.report(ctx, j)
	return out, nil
}

// ProtectBatch protects txs in parallel and returns results in input order.
// Identifiers repeated within the batch are rejected after the first.
func (s *Service) ProtectBatch(ctx context.Context, txs []*txn.Transaction) []BatchItem {
	items := make([]BatchItem, len(txs))
	var g errgroup.Group
	g.SetLimit(max(s.batchLimit, 1))
	for i, tx := range txs {
		g.Go(func() error {
			out, err := s.Protect(ctx, tx)
			items[i] = BatchItem{Outcome: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// claim records id as used, failing when it already had a journey.
func (s *Service) claim(ctx context.Context, id uuid.UUID) error {
	if s.seen.contains(id) {
		return ErrDuplicateTransaction
	}
	if s.store != nil {
		_, err := s.store.Get(ctx, id)
		switch {
		case err == nil:
			s.seen.add(id)
			return ErrDuplicateTransaction
		case !errors.Is(err, journey.ErrNotFound):
			return fmt.Errorf("guard: duplicate check: %w", err)
		}
	}
	s.seen.add(id)
	return nil
}

// run drives the journey to a terminal state. A returned error means the
// journey graph rejected one of the pipeline's own transitions.
func (s *Service) run(ctx context.Context, eng *engine, tx *txn.Transaction, out *Outcome) error {
	j := out.Journey

	a, err := s.assessStage(ctx, eng, tx)
	if err != nil {
		return s.fail(ctx, out, err)
	}
	out.Assessment = a
	cause := fmt.Sprintf("score %.3f, margin %.3f", a.Score, a.Margin)
	if err := s.step(ctx, j, func() error { return j.Assessed(a.Level, a.Score, cause) }); err != nil {
		return err
	}

	plan := eng.selector.Select(a, tx)
	out.Plan = &plan
	if err := s.step(ctx, j, func() error { return j.Advance(journey.StatePlanSelected, "plan "+plan.String()) }); err != nil {
		return err
	}

	intent, err := s.applyStage(ctx, eng, plan, tx)
	if err != nil {
		return s.fail(ctx, out, err)
	}
	out.Intent = intent
	if err := s.step(ctx, j, func() error { return j.Advance(journey.StateProtected, "intent built, route "+string(intent.Route)) }); err != nil {
		return err
	}

	if err := s.step(ctx, j, func() error { return j.Advance(journey.StateExecuting, "handed to executor") }); err != nil {
		return err
	}
	res, err := s.executeStage(ctx, tx, intent)
	if err != nil {
		return s.fail(ctx, out, err)
	}
	out.Result = res
	return s.step(ctx, j, func() error {
		return j.Advance(journey.StateCompleted, fmt.Sprintf("included in block %d", res.BlockNumber))
	})
}

func (s *Service) assessStage(ctx context.Context, eng *engine, tx *txn.Transaction) (*threat.Assessment, error) {
	_, span := traces.StartSpan(ctx, "guard.assess")
	defer span.End()

	a, err := eng.assessor.Assess(tx, s.pool.Load())
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(traces.Score(a.Score), traces.Level(a.Level.String()))
	metrics.AssessmentsTotal.WithLabelValues(a.Level.String()).Inc()
	metrics.VulnerabilityScore.Observe(a.Score)
	return a, nil
}

func (s *Service) applyStage(ctx context.Context, eng *engine, plan protection.Plan, tx *txn.Transaction) (*protection.SubmissionIntent, error) {
	_, span := traces.StartSpan(ctx, "guard.apply")
	defer span.End()

	measures := make([]string, len(plan.Measures))
	for i, m := range plan.Measures {
		measures[i] = string(m)
	}
	span.SetAttributes(traces.Measures(measures))

	intent, err := eng.applicator.Apply(plan, tx)
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	for _, m := range intent.Applied {
		metrics.MeasuresAppliedTotal.WithLabelValues(string(m)).Inc()
	}
	return intent, nil
}

// executeStage hands the intent over and waits at most execTimeout. An
// executor that ignores ctx is abandoned when the deadline passes.
func (s *Service) executeStage(ctx context.Context, tx *txn.Transaction, intent *protection.SubmissionIntent) (*execution.Result, error) {
	ctx, span := traces.StartSpan(ctx, "guard.execute")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.execTimeout)
	defer cancel()

	type reply struct {
		res *execution.Result
		err error
	}
	done := make(chan reply, 1)
	start := time.Now()
	go func() {
		res, err := s.executor.Execute(ctx, tx, intent)
		done <- reply{res: res, err: err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-ctx.Done():
		r = reply{err: ctx.Err()}
	}
	metrics.ExecutionDuration.Observe(time.Since(start).Seconds())

	err := classifyExecution(r.res, r.err)
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	return r.res, nil
}

// classifyExecution maps an executor reply onto the two execution kinds.
func classifyExecution(res *execution.Result, err error) error {
	switch kind := faults.KindOf(err); {
	case err == nil && res == nil:
		return faults.New(faults.KindExecutionReverted, "executor returned no result")
	case err == nil:
		return nil
	case kind == faults.KindExecutionTimeout || kind == faults.KindExecutionReverted:
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return faults.Wrap(faults.KindExecutionTimeout, err, "no execution result before deadline")
	default:
		return faults.Wrap(faults.KindExecutionReverted, err, "execution failed")
	}
}

// fail ends the journey with err, which must be a *faults.Error.
func (s *Service) fail(ctx context.Context, out *Outcome, err error) error {
	var fe *faults.Error
	if !errors.As(err, &fe) {
		return fmt.Errorf("guard: unclassified failure: %w", err)
	}
	out.Failure = fe
	return s.step(ctx, out.Journey, func() error { return out.Journey.Fail(fe) })
}

// step applies one transition, then logs and publishes it.
func (s *Service) step(ctx context.Context, j *journey.Journey, transition func() error) error {
	if err := transition(); err != nil {
		return err
	}
	tr, _ := j.Last()

	attrs := []any{"from", tr.From, "state", tr.To, "cause", tr.Cause}
	if j.Level != nil {
		attrs = append(attrs, "level", j.Level.String())
	}
	if tr.Kind != "" {
		logging.L(ctx).Warn("journey failed", append(attrs, "kind", tr.Kind)...)
	} else {
		logging.L(ctx).Info("journey transition", attrs...)
	}

	for _, l := range s.listeners {
		l.OnTransition(ctx, j.Clone(), tr)
	}
	return nil
}

// report delivers the terminal journey to every reporter. Failures are
// logged and counted; they never change the outcome.
func (s *Service) report(ctx context.Context, j *journey.Journey) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range s.reporters {
		rctx, cancel := context.WithTimeout(ctx, s.reportTimeout)
		err := retry.Do(rctx, s.retryPolicy, func(ctx context.Context) error {
			return r.Report(ctx, j.Clone())
		})
		cancel()
		if err != nil {
			metrics.ReportFailuresTotal.WithLabelValues(r.name).Inc()
			logging.L(ctx).Warn("journey report failed", "reporter", r.name, "error", err)
		}
	}
}
