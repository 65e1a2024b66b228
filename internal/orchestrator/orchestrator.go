// Package orchestrator implements the copy orchestrator: a
// fail-fast filter chain gating whether a detected trade is mirrored,
// dispatch to the quote/pre-built cache and race submitter, and
// position-ledger updates on success.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/obsrvr-systems/solana-copytrader/internal/events"
	"github.com/obsrvr-systems/solana-copytrader/internal/ledger"
	"github.com/obsrvr-systems/solana-copytrader/internal/metrics"
	"github.com/obsrvr-systems/solana-copytrader/internal/model"
	"github.com/obsrvr-systems/solana-copytrader/internal/quality"
	"github.com/obsrvr-systems/solana-copytrader/internal/quote"
)

// QuoteSource is the narrow quote-cache surface the orchestrator
// depends on.
type QuoteSource interface {
	GetWithCache(ctx context.Context, inputMint, outputMint solana.PublicKey, amountRaw uint64, mode model.QuoteMode) (model.Quote, error)
	Take(mint solana.PublicKey, now time.Time) (model.PreBuilt, bool)
	RefreshMint(ctx context.Context, mint solana.PublicKey, build quote.BuildFunc)
}

// Submitter is the narrow submission surface the orchestrator depends on.
type Submitter interface {
	Submit(ctx context.Context, signedTx []byte, blockhash solana.Hash) (solana.Signature, error)
}

// Ledger is the narrow position-ledger surface the orchestrator
// depends on.
type Ledger interface {
	CanTrade(mint solana.PublicKey, direction model.Direction, amountUsdc, currentUsdcBalance decimal.Decimal) ledger.Decision
	RecordBuy(mint solana.PublicKey, tokenAmountRaw uint64, decimals uint8, usdcSpent decimal.Decimal, signature solana.Signature) model.Position
	RecordSell(mint solana.PublicKey, tokenAmountRaw uint64, usdcReceived decimal.Decimal, signature solana.Signature) (decimal.Decimal, bool, error)
	TotalExposureUsdc() decimal.Decimal
	OpenPositionCount() int
}

// QualityFilter is the narrow quality-gate surface the orchestrator
// depends on.
type QualityFilter interface {
	ShouldCopy(ctx context.Context, trade *model.DetectedTrade, amountUsdc decimal.Decimal) quality.Decision
}

// Config holds the orchestrator's filter-chain and sizing parameters.
type Config struct {
	CopyBuysOnly             bool
	AllowedTokens            map[solana.PublicKey]struct{} // empty = allow all
	MinTradeUsdc             decimal.Decimal
	TradeAmountUsdc          decimal.Decimal
	SlippageBps              int
	PriorityFeeMicroLamports uint64
	UserPubkey               solana.PublicKey
}

// BalanceSource supplies the current USDC balance of the controlled
// wallet for risk gating.
type BalanceSource interface {
	UsdcBalance(ctx context.Context) (decimal.Decimal, error)
}

// Orchestrator wires the quote cache, race submitter, position ledger
// and quality filter together behind the fail-fast filter chain.
type Orchestrator struct {
	cfg     Config
	quotes  QuoteSource
	submit  Submitter
	ledger  Ledger
	quality QualityFilter
	balance BalanceSource
	build   quote.BuildFunc
	bus     *events.Bus
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	inFlight map[solana.Signature]struct{}
}

// New constructs an Orchestrator. m may be nil in tests.
func New(cfg Config, quotes QuoteSource, submitter Submitter, led Ledger, qf QualityFilter, balance BalanceSource, build quote.BuildFunc, bus *events.Bus, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		quotes:   quotes,
		submit:   submitter,
		ledger:   led,
		quality:  qf,
		balance:  balance,
		build:    build,
		bus:      bus,
		logger:   logger,
		metrics:  m,
		inFlight: make(map[solana.Signature]struct{}),
	}
}

// Outcome is the terminal state of one HandleTrade call:
// `Received -> Filtered|Dedup'd|Accepted -> Sent|Failed`.
type Outcome struct {
	State  string // "sent", "filtered", "dedup", "failed"
	Reason string
	Err    error
}

// HandleTrade runs the fail-fast filter chain for trade and, on pass,
// dispatches a copy through the quote cache and race submitter,
// updating the ledger on success.
func (o *Orchestrator) HandleTrade(ctx context.Context, trade *model.DetectedTrade) Outcome {
	tStart := time.Now()

	if o.cfg.CopyBuysOnly && trade.Direction == model.Sell {
		return o.skip(trade, "direction_filter", "sells disabled by copy_buys_only")
	}
	if len(o.cfg.AllowedTokens) > 0 {
		if _, ok := o.cfg.AllowedTokens[trade.TokenMint]; !ok {
			return o.skip(trade, "allowlist", "token not in allowed_tokens")
		}
	}
	if trade.UsdcAmount.LessThan(o.cfg.MinTradeUsdc) {
		return o.skip(trade, "min_size", fmt.Sprintf("trade size %s below minimum %s", trade.UsdcAmount, o.cfg.MinTradeUsdc))
	}
	if !o.markInFlight(trade.Signature) {
		o.publish(events.Event{Kind: events.CopySkipped, Trade: trade, Reason: "dedup", Detail: "already being processed"})
		o.recordOutcome("dedup", "dedup")
		return Outcome{State: "dedup"}
	}
	defer o.clearInFlight(trade.Signature)

	qd := o.quality.ShouldCopy(ctx, trade, o.cfg.TradeAmountUsdc)
	if !qd.Allow {
		return o.skip(trade, "quality_filter", qd.Reason)
	}

	usdcBalance := decimal.Zero
	if o.balance != nil {
		b, err := o.balance.UsdcBalance(ctx)
		if err != nil {
			o.logger.Warn("orchestrator: balance fetch failed, treating as zero", zap.Error(err))
		} else {
			usdcBalance = b
		}
	}
	risk := o.ledger.CanTrade(trade.TokenMint, trade.Direction, o.cfg.TradeAmountUsdc, usdcBalance)
	if !risk.Allow {
		return o.skip(trade, "risk_rejected", risk.Reason)
	}

	o.publish(events.Event{Kind: events.CopyInitiated, Trade: trade})

	var sig solana.Signature
	var err error
	if trade.Direction == model.Buy {
		sig, err = o.sendBuy(ctx, trade)
	} else {
		sig, err = o.sendSell(ctx, trade)
	}
	if err != nil {
		o.publish(events.Event{Kind: events.CopyFailed, Trade: trade, Err: err})
		o.recordOutcome("failed", "submit_error")
		return Outcome{State: "failed", Err: err}
	}

	copyLatency := time.Since(tStart)
	e2eLatency := time.Since(trade.DetectedAt)
	o.publish(events.Event{
		Kind:              events.CopyComplete,
		Trade:             trade,
		Signature:         sig,
		OriginalSignature: trade.Signature,
		CopyLatencyMs:     copyLatency.Milliseconds(),
		E2ELatencyMs:      e2eLatency.Milliseconds(),
	})
	if o.metrics != nil {
		o.metrics.CopyLatency.Observe(float64(copyLatency.Milliseconds()))
		o.metrics.E2ELatency.Observe(float64(e2eLatency.Milliseconds()))
	}
	o.recordOutcome("sent", "")
	o.updatePositionGauges()
	return Outcome{State: "sent"}
}

// recordOutcome increments the terminal-outcome counter for a
// HandleTrade call. reason is empty on the success path.
func (o *Orchestrator) recordOutcome(state, reason string) {
	if o.metrics == nil {
		return
	}
	o.metrics.CopyOutcomes.WithLabelValues(state, reason).Inc()
}

// updatePositionGauges refreshes the open-position-count and
// total-exposure gauges from the ledger after a fill.
func (o *Orchestrator) updatePositionGauges() {
	if o.metrics == nil || o.ledger == nil {
		return
	}
	o.metrics.OpenPositions.Set(float64(o.ledger.OpenPositionCount()))
	exposure, _ := o.ledger.TotalExposureUsdc().Float64()
	o.metrics.TotalExposureUsdc.Set(exposure)
}

func (o *Orchestrator) sendBuy(ctx context.Context, trade *model.DetectedTrade) (solana.Signature, error) {
	if pb, ok := o.quotes.Take(trade.TokenMint, time.Now()); ok {
		sig, err := o.submit.Submit(ctx, pb.SignedTxBytes, pb.Blockhash)
		go o.quotes.RefreshMint(context.Background(), trade.TokenMint, o.build)
		if err != nil {
			return solana.Signature{}, fmt.Errorf("orchestrator: submit pre-built buy: %w", err)
		}
		o.recordBuyFill(trade, pb.QuoteSnapshot, sig)
		return sig, nil
	}

	q, err := o.quotes.GetWithCache(ctx, model.USDCMint, trade.TokenMint, usdcRaw(o.cfg.TradeAmountUsdc), model.ExactIn)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("orchestrator: fetch buy quote: %w", err)
	}
	signedTx, _, blockhash, err := o.build(ctx, q)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("orchestrator: build buy tx: %w", err)
	}
	sentSig, err := o.submit.Submit(ctx, signedTx, blockhash)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("orchestrator: submit buy: %w", err)
	}
	o.recordBuyFill(trade, q, sentSig)
	return sentSig, nil
}

func (o *Orchestrator) sendSell(ctx context.Context, trade *model.DetectedTrade) (solana.Signature, error) {
	q, err := o.quotes.GetWithCache(ctx, trade.TokenMint, model.USDCMint, usdcRaw(o.cfg.TradeAmountUsdc), model.ExactOut)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("orchestrator: fetch sell quote: %w", err)
	}
	signedTx, _, blockhash, err := o.build(ctx, q)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("orchestrator: build sell tx: %w", err)
	}
	sentSig, err := o.submit.Submit(ctx, signedTx, blockhash)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("orchestrator: submit sell: %w", err)
	}
	o.recordSellFill(trade, q, sentSig)
	return sentSig, nil
}

// recordBuyFill updates the ledger from the quote's out-amount (the
// token-side fill).
func (o *Orchestrator) recordBuyFill(trade *model.DetectedTrade, q model.Quote, sig solana.Signature) {
	if o.ledger == nil {
		return
	}
	o.ledger.RecordBuy(trade.TokenMint, q.OutAmountRaw, trade.TokenDecimals, o.cfg.TradeAmountUsdc, sig)
}

// recordSellFill updates the ledger from the quote's in-amount (the
// token-side sold), crediting the USDC actually quoted out.
func (o *Orchestrator) recordSellFill(trade *model.DetectedTrade, q model.Quote, sig solana.Signature) {
	if o.ledger == nil {
		return
	}
	if _, _, err := o.ledger.RecordSell(trade.TokenMint, q.InAmountRaw, o.cfg.TradeAmountUsdc, sig); err != nil {
		o.logger.Warn("orchestrator: record sell failed", zap.Error(err))
	}
}

func usdcRaw(amountUsdc decimal.Decimal) uint64 {
	// USDC has 6 decimals on-chain.
	return uint64(amountUsdc.Shift(6).IntPart())
}

func (o *Orchestrator) skip(trade *model.DetectedTrade, reason, detail string) Outcome {
	o.publish(events.Event{Kind: events.CopySkipped, Trade: trade, Reason: reason, Detail: detail})
	o.recordOutcome("filtered", reason)
	return Outcome{State: "filtered", Reason: reason}
}

func (o *Orchestrator) publish(e events.Event) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(e)
}

func (o *Orchestrator) markInFlight(sig solana.Signature) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inFlight[sig]; ok {
		return false
	}
	o.inFlight[sig] = struct{}{}
	return true
}

func (o *Orchestrator) clearInFlight(sig solana.Signature) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, sig)
}
