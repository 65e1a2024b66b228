// Package tradedetect implements the balance-delta trade
// reconstructor: given a classified signature and the suspected user address, it
// fetches executed-transaction metadata and reduces the user's pre/post
// token balances to a single normalized trade.
package tradedetect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/obsrvr-systems/solana-copytrader/internal/chainrpc"
	"github.com/obsrvr-systems/solana-copytrader/internal/model"
)

// minUsdcDelta is the threshold at or below which a USDC delta is
// treated as noise (fees, rent) rather than a trade leg.
var minUsdcDelta = decimal.New(1, -6)

// seenTTL bounds how long a (signature, user) pair is remembered to
// enforce single evaluation; executed transactions are
// evaluated at most once shortly after detection, so a short window is
// sufficient and keeps the set from growing unbounded.
const seenTTL = 2 * time.Minute

// Detector reconstructs trades from executed-transaction balance
// deltas and deduplicates repeated evaluation of the same signature.
type Detector struct {
	provider chainrpc.Provider
	logger   *zap.Logger

	mu   sync.Mutex
	seen map[seenKey]time.Time
}

type seenKey struct {
	signature solana.Signature
	user      solana.PublicKey
}

// NewDetector constructs a Detector.
func NewDetector(provider chainrpc.Provider, logger *zap.Logger) *Detector {
	return &Detector{
		provider: provider,
		logger:   logger,
		seen:     make(map[seenKey]time.Time),
	}
}

// Detect fetches signature's parsed metadata and reduces user's balance
// deltas to a DetectedTrade. It returns (nil, nil) when the transaction
// does not represent a reconstructable trade, and (nil, nil) without a
// fetch when (signature, user) was already evaluated.
func (d *Detector) Detect(ctx context.Context, signature solana.Signature, slot uint64, tag model.Aggregator, user solana.PublicKey) (*model.DetectedTrade, error) {
	if !d.markSeen(signature, user) {
		return nil, nil
	}

	meta, err := d.provider.GetParsedTransaction(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("tradedetect: fetch parsed transaction %s: %w", signature, err)
	}

	deltas := deltasForOwner(meta, user)

	usdcDelta, hasUsdc := deltas[model.USDCMint]
	var tokenMint solana.PublicKey
	var tokenDelta model.TokenBalanceDelta
	tokenCount := 0
	for mint, delta := range deltas {
		if mint == model.USDCMint {
			continue
		}
		tokenMint = mint
		tokenDelta = delta
		tokenCount++
	}

	if !hasUsdc || tokenCount != 1 {
		return nil, nil
	}
	usdcDeltaAbs := rawDeltaToDecimal(usdcDelta.RawDelta, usdcDelta.Decimals).Abs()
	if usdcDeltaAbs.LessThanOrEqual(minUsdcDelta) {
		return nil, nil
	}

	direction := model.Buy
	if usdcDelta.RawDelta > 0 {
		direction = model.Sell
	}

	usdcAmount := usdcDeltaAbs
	tokenAmountRaw := tokenDelta.RawDelta
	if tokenAmountRaw < 0 {
		tokenAmountRaw = -tokenAmountRaw
	}

	return &model.DetectedTrade{
		Signature:      signature,
		Slot:           slot,
		Direction:      direction,
		TokenMint:      tokenMint,
		TokenDecimals:  tokenDelta.Decimals,
		UsdcAmount:     usdcAmount,
		TokenAmountRaw: uint64(tokenAmountRaw),
		User:           user,
		Aggregator:     tag,
		DetectedAt:     time.Now(),
	}, nil
}

// markSeen records (signature, user) and reports whether this is the
// first time it has been observed within seenTTL. It also opportunistically
// evicts expired entries.
func (d *Detector) markSeen(signature solana.Signature, user solana.PublicKey) bool {
	key := seenKey{signature: signature, user: user}
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[key]; ok && now.Sub(at) < seenTTL {
		return false
	}
	d.seen[key] = now

	if len(d.seen) > 4096 {
		for k, at := range d.seen {
			if now.Sub(at) >= seenTTL {
				delete(d.seen, k)
			}
		}
	}
	return true
}

// deltasForOwner reduces meta's pre/post token-balance lists to one
// raw delta per mint, restricted to entries owned by user. The mint's
// decimal count is carried from whichever list provides it, preferring
// post.
func deltasForOwner(meta *chainrpc.ParsedTransactionMeta, user solana.PublicKey) map[solana.PublicKey]model.TokenBalanceDelta {
	deltas := make(map[solana.PublicKey]model.TokenBalanceDelta)

	for _, b := range meta.PreTokenBalances {
		if !b.Owner.Equals(user) {
			continue
		}
		d := deltas[b.Mint]
		d.Mint = b.Mint
		d.Owner = user
		d.Decimals = b.Decimals
		d.RawDelta -= parseAmount(b.AmountRaw)
		deltas[b.Mint] = d
	}
	for _, b := range meta.PostTokenBalances {
		if !b.Owner.Equals(user) {
			continue
		}
		d := deltas[b.Mint]
		d.Mint = b.Mint
		d.Owner = user
		d.Decimals = b.Decimals
		d.RawDelta += parseAmount(b.AmountRaw)
		deltas[b.Mint] = d
	}

	return deltas
}

// parseAmount parses a base-10 decimal-string raw token amount. A
// malformed amount is treated as zero; the RPC provider is trusted to
// supply well-formed uiTokenAmount.amount strings.
func parseAmount(s string) int64 {
	if s == "" {
		return 0
	}
	var v int64
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return 0
		}
		v = v*10 + int64(c-'0')
	}
	if neg {
		v = -v
	}
	return v
}

// rawDeltaToDecimal converts a raw integer delta to a decimal.Decimal
// via exact digit placement (decimal.New with the token's decimal
// exponent), never through a binary float division.
func rawDeltaToDecimal(raw int64, decimals uint8) decimal.Decimal {
	return decimal.New(raw, -int32(decimals))
}
