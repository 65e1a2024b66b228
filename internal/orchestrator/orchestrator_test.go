package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/obsrvr-systems/solana-copytrader/internal/ledger"
	"github.com/obsrvr-systems/solana-copytrader/internal/model"
	"github.com/obsrvr-systems/solana-copytrader/internal/quality"
	"github.com/obsrvr-systems/solana-copytrader/internal/quote"
)

func pk(b byte) solana.PublicKey {
	var p solana.PublicKey
	p[0] = b
	return p
}

func sigOf(b byte) solana.Signature {
	var s solana.Signature
	s[0] = b
	return s
}

type fakeQuotes struct {
	prebuilt map[solana.PublicKey]model.PreBuilt
	quote    model.Quote
	quoteErr error
	lastMode model.QuoteMode
}

func (f *fakeQuotes) GetWithCache(ctx context.Context, inputMint, outputMint solana.PublicKey, amountRaw uint64, mode model.QuoteMode) (model.Quote, error) {
	f.lastMode = mode
	return f.quote, f.quoteErr
}

func (f *fakeQuotes) Take(mint solana.PublicKey, now time.Time) (model.PreBuilt, bool) {
	pb, ok := f.prebuilt[mint]
	if ok {
		delete(f.prebuilt, mint)
	}
	return pb, ok
}

func (f *fakeQuotes) RefreshMint(ctx context.Context, mint solana.PublicKey, build quote.BuildFunc) {}

type fakeSubmitter struct {
	sig solana.Signature
	err error
}

func (f *fakeSubmitter) Submit(ctx context.Context, signedTx []byte, blockhash solana.Hash) (solana.Signature, error) {
	return f.sig, f.err
}

type fakeLedger struct {
	decision ledger.Decision
	buys     int
	sells    int
}

func (f *fakeLedger) CanTrade(mint solana.PublicKey, direction model.Direction, amountUsdc, currentUsdcBalance decimal.Decimal) ledger.Decision {
	return f.decision
}
func (f *fakeLedger) RecordBuy(mint solana.PublicKey, tokenAmountRaw uint64, decimals uint8, usdcSpent decimal.Decimal, signature solana.Signature) model.Position {
	f.buys++
	return model.Position{}
}
func (f *fakeLedger) RecordSell(mint solana.PublicKey, tokenAmountRaw uint64, usdcReceived decimal.Decimal, signature solana.Signature) (decimal.Decimal, bool, error) {
	f.sells++
	return decimal.Zero, true, nil
}
func (f *fakeLedger) TotalExposureUsdc() decimal.Decimal {
	return decimal.Zero
}
func (f *fakeLedger) OpenPositionCount() int {
	return 0
}

type fakeQuality struct {
	decision quality.Decision
}

func (f *fakeQuality) ShouldCopy(ctx context.Context, trade *model.DetectedTrade, amountUsdc decimal.Decimal) quality.Decision {
	return f.decision
}

func baseCfg() Config {
	return Config{
		MinTradeUsdc:    decimal.NewFromFloat(0.5),
		TradeAmountUsdc: decimal.NewFromInt(2),
	}
}

func buildFunc(signedTx []byte, sig solana.Signature, err error) quote.BuildFunc {
	return func(ctx context.Context, q model.Quote) ([]byte, solana.Signature, solana.Hash, error) {
		return signedTx, sig, solana.Hash{}, err
	}
}

func TestHandleTradeRejectsSellsWhenBuysOnly(t *testing.T) {
	cfg := baseCfg()
	cfg.CopyBuysOnly = true
	o := New(cfg, &fakeQuotes{}, &fakeSubmitter{}, &fakeLedger{decision: ledger.Decision{Allow: true}}, &fakeQuality{decision: quality.Decision{Allow: true}}, nil, buildFunc(nil, solana.Signature{}, nil), nil, zap.NewNop(), nil)

	trade := &model.DetectedTrade{Direction: model.Sell, UsdcAmount: decimal.NewFromInt(2), Signature: sigOf(1)}
	out := o.HandleTrade(context.Background(), trade)
	require.Equal(t, "filtered", out.State)
	require.Equal(t, "direction_filter", out.Reason)
}

func TestHandleTradeRejectsBelowMinSize(t *testing.T) {
	o := New(baseCfg(), &fakeQuotes{}, &fakeSubmitter{}, &fakeLedger{decision: ledger.Decision{Allow: true}}, &fakeQuality{decision: quality.Decision{Allow: true}}, nil, buildFunc(nil, solana.Signature{}, nil), nil, zap.NewNop(), nil)

	trade := &model.DetectedTrade{Direction: model.Buy, UsdcAmount: decimal.NewFromFloat(0.1), Signature: sigOf(2)}
	out := o.HandleTrade(context.Background(), trade)
	require.Equal(t, "filtered", out.State)
	require.Equal(t, "min_size", out.Reason)
}

func TestHandleTradeDedupsInFlightSignature(t *testing.T) {
	q := &fakeQuotes{quote: model.Quote{OutAmountRaw: 100}}
	sub := &fakeSubmitter{sig: sigOf(9)}
	led := &fakeLedger{decision: ledger.Decision{Allow: true}}
	qual := &fakeQuality{decision: quality.Decision{Allow: true}}
	o := New(baseCfg(), q, sub, led, qual, nil, buildFunc([]byte("tx"), sigOf(9), nil), nil, zap.NewNop(), nil)

	sig := sigOf(3)
	o.mu.Lock()
	o.inFlight[sig] = struct{}{}
	o.mu.Unlock()

	trade := &model.DetectedTrade{Direction: model.Buy, UsdcAmount: decimal.NewFromInt(2), Signature: sig}
	out := o.HandleTrade(context.Background(), trade)
	require.Equal(t, "dedup", out.State)
}

func TestHandleTradeRejectsOnQualityFilter(t *testing.T) {
	o := New(baseCfg(), &fakeQuotes{}, &fakeSubmitter{}, &fakeLedger{decision: ledger.Decision{Allow: true}}, &fakeQuality{decision: quality.Decision{Allow: false, Reason: "low liquidity"}}, nil, buildFunc(nil, solana.Signature{}, nil), nil, zap.NewNop(), nil)

	trade := &model.DetectedTrade{Direction: model.Buy, UsdcAmount: decimal.NewFromInt(2), Signature: sigOf(4)}
	out := o.HandleTrade(context.Background(), trade)
	require.Equal(t, "filtered", out.State)
	require.Equal(t, "quality_filter", out.Reason)
}

func TestHandleTradeRejectsOnRiskCheck(t *testing.T) {
	o := New(baseCfg(), &fakeQuotes{}, &fakeSubmitter{}, &fakeLedger{decision: ledger.Decision{Allow: false, Reason: "too much exposure"}}, &fakeQuality{decision: quality.Decision{Allow: true}}, nil, buildFunc(nil, solana.Signature{}, nil), nil, zap.NewNop(), nil)

	trade := &model.DetectedTrade{Direction: model.Buy, UsdcAmount: decimal.NewFromInt(2), Signature: sigOf(5)}
	out := o.HandleTrade(context.Background(), trade)
	require.Equal(t, "filtered", out.State)
	require.Equal(t, "risk_rejected", out.Reason)
}

func TestHandleTradeBuySendsViaPreBuiltAndRecordsLedger(t *testing.T) {
	mint := pk(1)
	q := &fakeQuotes{prebuilt: map[solana.PublicKey]model.PreBuilt{
		mint: {TokenMint: mint, SignedTxBytes: []byte("prebuilt"), ExpiresAt: time.Now().Add(time.Minute), QuoteSnapshot: model.Quote{OutAmountRaw: 500}},
	}}
	sub := &fakeSubmitter{sig: sigOf(6)}
	led := &fakeLedger{decision: ledger.Decision{Allow: true}}
	qual := &fakeQuality{decision: quality.Decision{Allow: true}}
	o := New(baseCfg(), q, sub, led, qual, nil, buildFunc(nil, solana.Signature{}, nil), nil, zap.NewNop(), nil)

	trade := &model.DetectedTrade{Direction: model.Buy, TokenMint: mint, UsdcAmount: decimal.NewFromInt(2), Signature: sigOf(7), DetectedAt: time.Now()}
	out := o.HandleTrade(context.Background(), trade)
	require.Equal(t, "sent", out.State)
	require.Equal(t, 1, led.buys)
	require.Empty(t, q.prebuilt)
}

func TestHandleTradeBuyFallsBackToQuoteWhenNoPreBuilt(t *testing.T) {
	mint := pk(2)
	q := &fakeQuotes{quote: model.Quote{OutAmountRaw: 300}}
	sub := &fakeSubmitter{sig: sigOf(8)}
	led := &fakeLedger{decision: ledger.Decision{Allow: true}}
	qual := &fakeQuality{decision: quality.Decision{Allow: true}}
	o := New(baseCfg(), q, sub, led, qual, nil, buildFunc([]byte("tx"), sigOf(8), nil), nil, zap.NewNop(), nil)

	trade := &model.DetectedTrade{Direction: model.Buy, TokenMint: mint, UsdcAmount: decimal.NewFromInt(2), Signature: sigOf(9), DetectedAt: time.Now()}
	out := o.HandleTrade(context.Background(), trade)
	require.Equal(t, "sent", out.State)
	require.Equal(t, 1, led.buys)
}

func TestHandleTradeSellUsesExactOutQuote(t *testing.T) {
	mint := pk(3)
	q := &fakeQuotes{quote: model.Quote{InAmountRaw: 400}}
	sub := &fakeSubmitter{sig: sigOf(10)}
	led := &fakeLedger{decision: ledger.Decision{Allow: true}}
	qual := &fakeQuality{decision: quality.Decision{Allow: true}}
	o := New(baseCfg(), q, sub, led, qual, nil, buildFunc([]byte("tx"), sigOf(10), nil), nil, zap.NewNop(), nil)

	trade := &model.DetectedTrade{Direction: model.Sell, TokenMint: mint, UsdcAmount: decimal.NewFromInt(2), Signature: sigOf(11), DetectedAt: time.Now()}
	out := o.HandleTrade(context.Background(), trade)
	require.Equal(t, "sent", out.State)
	require.Equal(t, 1, led.sells)
	require.Equal(t, model.ExactOut, q.lastMode)
}

func TestHandleTradeFailsWhenSubmitErrors(t *testing.T) {
	mint := pk(4)
	q := &fakeQuotes{quote: model.Quote{OutAmountRaw: 1}}
	sub := &fakeSubmitter{err: errors.New("both transports failed")}
	led := &fakeLedger{decision: ledger.Decision{Allow: true}}
	qual := &fakeQuality{decision: quality.Decision{Allow: true}}
	o := New(baseCfg(), q, sub, led, qual, nil, buildFunc([]byte("tx"), sigOf(1), nil), nil, zap.NewNop(), nil)

	trade := &model.DetectedTrade{Direction: model.Buy, TokenMint: mint, UsdcAmount: decimal.NewFromInt(2), Signature: sigOf(12), DetectedAt: time.Now()}
	out := o.HandleTrade(context.Background(), trade)
	require.Equal(t, "failed", out.State)
	require.Error(t, out.Err)
	require.Equal(t, 0, led.buys)
}

func TestHandleTradeClearsInFlightOnTerminalPaths(t *testing.T) {
	mint := pk(5)
	q := &fakeQuotes{quote: model.Quote{OutAmountRaw: 1}}
	sub := &fakeSubmitter{err: errors.New("fail")}
	led := &fakeLedger{decision: ledger.Decision{Allow: true}}
	qual := &fakeQuality{decision: quality.Decision{Allow: true}}
	o := New(baseCfg(), q, sub, led, qual, nil, buildFunc([]byte("tx"), sigOf(1), nil), nil, zap.NewNop(), nil)

	sig := sigOf(13)
	trade := &model.DetectedTrade{Direction: model.Buy, TokenMint: mint, UsdcAmount: decimal.NewFromInt(2), Signature: sig, DetectedAt: time.Now()}
	o.HandleTrade(context.Background(), trade)

	o.mu.Lock()
	_, stillInFlight := o.inFlight[sig]
	o.mu.Unlock()
	require.False(t, stillInFlight)
}
