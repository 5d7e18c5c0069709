package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/mbd888/mevguard/internal/circuitbreaker"
	"github.com/mbd888/mevguard/internal/metrics"
)

// ChainReader is the slice of an Ethereum client the observer needs.
// *ethclient.Client satisfies it.
type ChainReader interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
}

// PatternMatcher reports whether a payload looks like a swap or arbitrage call.
type PatternMatcher func(payload []byte) bool

// Publisher is told about every snapshot the observer stores.
type Publisher interface {
	PublishPool(s *Snapshot)
}

// ObserverOption configures an Observer.
type ObserverOption func(*Observer)

// WithPublisher streams refreshed snapshots to p.
func WithPublisher(p Publisher) ObserverOption {
	return func(o *Observer) { o.publisher = p }
}

// ObserverConfig configures the RPC pool observer.
type ObserverConfig struct {
	RPCURL       string
	PollInterval time.Duration
	Window       time.Duration
}

// DefaultObserverConfig returns polling defaults suitable for a 2s-12s chain.
func DefaultObserverConfig() ObserverConfig {
	return ObserverConfig{
		PollInterval: 5 * time.Second,
		Window:       2 * time.Minute,
	}
}

// Observer polls a node's pending block and publishes snapshots.
type Observer struct {
	client  ChainReader
	cfg     ObserverConfig
	holder  *Holder
	window  *Window
	matches PatternMatcher
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
	now     func() time.Time

	publisher Publisher

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// DialObserver connects to cfg.RPCURL and builds an observer.
func DialObserver(cfg ObserverConfig, holder *Holder, matches PatternMatcher, logger *slog.Logger, opts ...ObserverOption) (*Observer, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return NewObserver(client, cfg, holder, matches, logger, opts...), nil
}

// NewObserver builds an observer over an existing chain reader.
func NewObserver(client ChainReader, cfg ObserverConfig, holder *Holder, matches PatternMatcher, logger *slog.Logger, opts ...ObserverOption) *Observer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultObserverConfig().PollInterval
	}
	if matches == nil {
		matches = func([]byte) bool { return false }
	}
	o := &Observer{
		client:  client,
		cfg:     cfg,
		holder:  holder,
		window:  NewWindow(cfg.Window),
		matches: matches,
		breaker: circuitbreaker.New(3, 30*time.Second),
		logger:  logger,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches the polling loop.
func (o *Observer) Start(ctx context.Context) {
	o.logger.Info("pool observer started", "rpc", o.cfg.RPCURL, "interval", o.cfg.PollInterval)
	go o.loop(ctx)
}

// Stop ends the polling loop and waits for it to exit.
func (o *Observer) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
	<-o.done
}

// Healthy reports whether the RPC circuit is closed.
func (o *Observer) Healthy() bool {
	return o.breaker.State(o.cfg.RPCURL) == circuitbreaker.StateClosed
}

func (o *Observer) loop(ctx context.Context) {
	defer close(o.done)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		case <-ticker.C:
			err := o.breaker.Do(o.cfg.RPCURL, func() error { return o.Refresh(ctx) })
			switch {
			case errors.Is(err, circuitbreaker.ErrOpen):
				o.logger.Debug("pool refresh skipped, rpc circuit open")
			case err != nil:
				o.logger.Warn("pool refresh failed", "error", err)
			}
		}
	}
}

// Refresh reads the pending block once and publishes a new snapshot.
func (o *Observer) Refresh(ctx context.Context) error {
	block, err := o.client.BlockByNumber(ctx, big.NewInt(int64(rpc.PendingBlockNumber)))
	if err != nil {
		return fmt.Errorf("failed to fetch pending block: %w", err)
	}

	now := o.now()
	txs := block.Transactions()
	sum := new(big.Int)
	priced := 0
	for _, tx := range txs {
		if price := tx.GasPrice(); price != nil {
			sum.Add(sum, price)
			priced++
		}
		if to := tx.To(); to != nil && o.matches(tx.Data()) {
			o.window.Record(to.Hex(), tx.Hash().Hex(), now)
		}
	}

	var avg *big.Int
	if priced > 0 {
		avg = sum.Div(sum, big.NewInt(int64(priced)))
	} else {
		avg, err = o.client.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("failed to get gas price suggestion: %w", err)
		}
	}

	congestion := 0.0
	if limit := block.GasLimit(); limit > 0 {
		congestion = float64(block.GasUsed()) / float64(limit)
		if congestion > 1 {
			congestion = 1
		}
	}

	snap := NewSnapshot(congestion, avg, o.window.Counts(now), now)
	o.holder.Store(snap)
	metrics.PoolCongestion.Set(congestion)
	if o.publisher != nil {
		o.publisher.PublishPool(snap)
	}

	o.logger.Debug("pool snapshot refreshed",
		"pending_txs", len(txs),
		"congestion", congestion,
		"avg_gas_price", avg.String(),
	)
	return nil
}
