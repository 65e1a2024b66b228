// Package exitmanager implements the exit manager: a background
// loop that batch-fetches prices for open positions and evaluates the
// take-profit ladder, stop-loss, time-limit and trailing-stop rules,
// initiating sells through the quote cache and race submitter.
package exitmanager

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/obsrvr-systems/solana-copytrader/internal/events"
	"github.com/obsrvr-systems/solana-copytrader/internal/metrics"
	"github.com/obsrvr-systems/solana-copytrader/internal/model"
	"github.com/obsrvr-systems/solana-copytrader/internal/quote"
)

// TakeProfitTarget is one rung of the profit-pct : sell-pct ladder
// (`exit.take_profit_targets`).
type TakeProfitTarget struct {
	ProfitPct decimal.Decimal
	SellPct   decimal.Decimal
}

// Config holds the exit rule parameters (`exit.*` keys).
// TrailingStopPct and TrailingActivationPct are nil when unset,
// disabling the trailing-stop rule entirely.
type Config struct {
	TakeProfitTargets     []TakeProfitTarget
	StopLossPct           decimal.Decimal
	MaxHold               time.Duration
	TrailingStopPct       *decimal.Decimal
	TrailingActivationPct *decimal.Decimal
	CheckInterval         time.Duration
}

// PositionSource is the narrow position-ledger surface the exit
// manager reads.
type PositionSource interface {
	Positions() []model.Position
}

// SellRecorder is the narrow position-ledger surface the exit manager
// writes through after a successful sell.
type SellRecorder interface {
	RecordSell(mint solana.PublicKey, tokenAmountRaw uint64, usdcReceived decimal.Decimal, signature solana.Signature) (decimal.Decimal, bool, error)
}

// PriceFetcher batch-fetches current spot prices, one request for the
// whole set of open mints.
type PriceFetcher interface {
	BatchPrices(ctx context.Context, mints []solana.PublicKey) (map[solana.PublicKey]decimal.Decimal, error)
}

// QuoteSource is the narrow quote-cache surface the exit manager
// depends on to size and build sells.
type QuoteSource interface {
	GetWithCache(ctx context.Context, inputMint, outputMint solana.PublicKey, amountRaw uint64, mode model.QuoteMode) (model.Quote, error)
}

// Submitter is the narrow submission surface the exit manager depends on.
type Submitter interface {
	Submit(ctx context.Context, signedTx []byte, blockhash solana.Hash) (solana.Signature, error)
}

// mintState is the per-mint exit state: which
// take-profit rungs have already fired, and the position's
// high-water-mark price for the trailing stop.
type mintState struct {
	tpHit         map[string]struct{}
	highWaterMark decimal.Decimal
}

// Manager drives the background exit loop.
type Manager struct {
	cfg       Config
	positions PositionSource
	ledger    SellRecorder
	prices    PriceFetcher
	quotes    QuoteSource
	submit    Submitter
	build     quote.BuildFunc
	bus       *events.Bus
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu    sync.Mutex
	state map[solana.PublicKey]*mintState
}

// New constructs a Manager. m may be nil in tests.
func New(cfg Config, positions PositionSource, ledger SellRecorder, prices PriceFetcher, quotes QuoteSource, submitter Submitter, build quote.BuildFunc, bus *events.Bus, logger *zap.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		cfg:       cfg,
		positions: positions,
		ledger:    ledger,
		prices:    prices,
		quotes:    quotes,
		submit:    submitter,
		build:     build,
		bus:       bus,
		logger:    logger,
		metrics:   m,
		state:     make(map[solana.PublicKey]*mintState),
	}
}

// Run drives the exit loop at cfg.CheckInterval until ctx is
// cancelled. Exit evaluation never blocks the ingestion/detection
// pipeline.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	positions := m.positions.Positions()
	if len(positions) == 0 {
		return
	}

	mints := make([]solana.PublicKey, len(positions))
	for i, p := range positions {
		mints[i] = p.TokenMint
	}

	prices, err := m.prices.BatchPrices(ctx, mints)
	if err != nil {
		m.logger.Warn("exitmanager: batch price fetch failed", zap.Error(err))
		return
	}

	for _, pos := range positions {
		price, ok := prices[pos.TokenMint]
		if !ok || !price.IsPositive() {
			continue
		}
		m.evaluate(ctx, pos, price)
	}
}

// evaluate runs the ordered exit-rule cascade for one position at its
// current price.
func (m *Manager) evaluate(ctx context.Context, pos model.Position, price decimal.Decimal) {
	st := m.stateFor(pos.TokenMint)

	st.highWaterMark = decimal.Max(st.highWaterMark, price)
	profitPct := decimal.Zero
	if pos.AvgEntryPriceUsd.IsPositive() {
		profitPct = price.Div(pos.AvgEntryPriceUsd).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
	}

	if sellPct, ok := m.dueTakeProfit(st, profitPct); ok {
		m.triggerExit(ctx, pos, sellPct, "take_profit")
		return
	}
	if profitPct.LessThanOrEqual(m.cfg.StopLossPct) {
		m.triggerExit(ctx, pos, decimal.NewFromInt(100), "stop_loss")
		return
	}
	if m.cfg.MaxHold > 0 && time.Since(pos.EntryTime) >= m.cfg.MaxHold {
		m.triggerExit(ctx, pos, decimal.NewFromInt(100), "time_limit")
		return
	}
	if m.trailingTriggered(st, profitPct, price) {
		m.triggerExit(ctx, pos, decimal.NewFromInt(100), "trailing_stop")
	}
}

// dueTakeProfit returns the sell percentage of the first un-triggered
// ladder rung whose target is met, marking it hit immediately so the
// rung cannot re-trigger even if execution later fails.
func (m *Manager) dueTakeProfit(st *mintState, profitPct decimal.Decimal) (decimal.Decimal, bool) {
	for _, target := range m.cfg.TakeProfitTargets {
		key := target.ProfitPct.String()
		if _, hit := st.tpHit[key]; hit {
			continue
		}
		if profitPct.GreaterThanOrEqual(target.ProfitPct) {
			st.tpHit[key] = struct{}{}
			return target.SellPct, true
		}
	}
	return decimal.Zero, false
}

// trailingTriggered reports whether the trailing stop fires: active
// only once profit has crossed the activation threshold, then firing
// when the drawdown from the high-water mark reaches the trail
// percentage.
func (m *Manager) trailingTriggered(st *mintState, profitPct, price decimal.Decimal) bool {
	if m.cfg.TrailingActivationPct == nil || m.cfg.TrailingStopPct == nil {
		return false
	}
	if profitPct.LessThan(*m.cfg.TrailingActivationPct) {
		return false
	}
	if !st.highWaterMark.IsPositive() {
		return false
	}
	drawdownPct := st.highWaterMark.Sub(price).Div(st.highWaterMark).Mul(decimal.NewFromInt(100))
	return drawdownPct.GreaterThanOrEqual(*m.cfg.TrailingStopPct)
}

func (m *Manager) stateFor(mint solana.PublicKey) *mintState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[mint]
	if !ok {
		st = &mintState{tpHit: make(map[string]struct{})}
		m.state[mint] = st
	}
	return st
}

// triggerExit submits a sell of sellPct of the position's current raw
// amount through the quote cache and race submitter and records it
// against the ledger.
func (m *Manager) triggerExit(ctx context.Context, pos model.Position, sellPct decimal.Decimal, reason string) {
	amountRaw := decimal.NewFromInt(int64(pos.AmountRaw)).Mul(sellPct).Div(decimal.NewFromInt(100))
	sellRaw := amountRaw.IntPart()
	if sellRaw <= 0 {
		return
	}

	m.publish(events.Event{Kind: events.ExitTriggered, Position: &pos, Reason: reason})
	if m.metrics != nil {
		m.metrics.ExitTriggered.WithLabelValues(reason).Inc()
	}

	q, err := m.quotes.GetWithCache(ctx, pos.TokenMint, model.USDCMint, uint64(sellRaw), model.ExactIn)
	if err != nil {
		m.publish(events.Event{Kind: events.ExitFailed, Position: &pos, Reason: reason, Err: err})
		m.recordExitFailed(reason)
		m.logger.Warn("exitmanager: quote failed, exit not executed", zap.String("mint", pos.TokenMint.String()), zap.String("reason", reason), zap.Error(err))
		return
	}
	signedTx, _, blockhash, err := m.build(ctx, q)
	if err != nil {
		m.publish(events.Event{Kind: events.ExitFailed, Position: &pos, Reason: reason, Err: err})
		m.recordExitFailed(reason)
		m.logger.Warn("exitmanager: build failed, exit not executed", zap.String("mint", pos.TokenMint.String()), zap.String("reason", reason), zap.Error(err))
		return
	}
	sig, err := m.submit.Submit(ctx, signedTx, blockhash)
	if err != nil {
		m.publish(events.Event{Kind: events.ExitFailed, Position: &pos, Reason: reason, Err: err})
		m.recordExitFailed(reason)
		m.logger.Warn("exitmanager: submit failed, exit not executed", zap.String("mint", pos.TokenMint.String()), zap.String("reason", reason), zap.Error(err))
		return
	}

	usdcReceived := decimal.NewFromInt(int64(q.OutAmountRaw)).Shift(-6)
	if _, _, err := m.ledger.RecordSell(pos.TokenMint, uint64(sellRaw), usdcReceived, sig); err != nil {
		m.logger.Warn("exitmanager: record sell failed", zap.Error(err))
	}
	m.publish(events.Event{Kind: events.ExitExecuted, Position: &pos, Signature: sig, Reason: reason})
}

func (m *Manager) recordExitFailed(reason string) {
	if m.metrics == nil {
		return
	}
	m.metrics.ExitFailed.WithLabelValues(reason).Inc()
}

func (m *Manager) publish(e events.Event) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(e)
}
