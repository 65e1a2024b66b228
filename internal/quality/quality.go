// Package quality implements the pre-trade token-quality filter:
// a whitelist bypass followed by five ordered checks against cached
// external metadata, failing open on metadata-fetch error.
package quality

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/obsrvr-systems/solana-copytrader/internal/model"
)

// cacheTTL is the metadata cache's freshness window; entries older
// than this are refreshed in the background.
const cacheTTL = 60 * time.Second

// recentWindow bounds the price-history slice used for the pump check
// to the trailing 300s.
const recentWindow = 300 * time.Second

// Decision is should_copy's outcome: an allow/reject verdict with a
// reason; a rejection is an ordinary outcome, not an error.
type Decision struct {
	Allow       bool
	Reason      string
	FilterError bool
}

// MetadataFetcher retrieves a mint's current metadata snapshot from
// the external metadata API.
type MetadataFetcher interface {
	Fetch(ctx context.Context, mint solana.PublicKey) (model.TokenMetadata, error)
}

// Filter holds the quality limits and the metadata cache they are
// evaluated against.
type Filter struct {
	limits  model.QualityLimits
	fetcher MetadataFetcher
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[solana.PublicKey]model.TokenMetadata
}

// NewFilter constructs a Filter.
func NewFilter(limits model.QualityLimits, fetcher MetadataFetcher, logger *zap.Logger) *Filter {
	return &Filter{
		limits:  limits,
		fetcher: fetcher,
		logger:  logger,
		cache:   make(map[solana.PublicKey]model.TokenMetadata),
	}
}

// ShouldCopy evaluates whether trade.TokenMint passes the quality
// gate for a copy of size amountUsdc.
func (f *Filter) ShouldCopy(ctx context.Context, trade *model.DetectedTrade, amountUsdc decimal.Decimal) Decision {
	if _, whitelisted := f.limits.Whitelist[trade.TokenMint]; whitelisted {
		return Decision{Allow: true}
	}

	meta, err := f.getOrRefresh(ctx, trade.TokenMint)
	if err != nil {
		f.logger.Warn("quality: metadata fetch failed, failing open",
			zap.String("mint", trade.TokenMint.String()), zap.Error(err))
		return Decision{Allow: true, FilterError: true, Reason: "metadata unavailable, fail-open"}
	}

	if meta.LiquidityUsdc.LessThan(f.limits.MinLiquidityUsdc) {
		return Decision{Allow: false, Reason: fmt.Sprintf("liquidity %s below minimum %s", meta.LiquidityUsdc, f.limits.MinLiquidityUsdc)}
	}
	if meta.TokenAgeSeconds < f.limits.MinTokenAgeSeconds {
		return Decision{Allow: false, Reason: fmt.Sprintf("token age %ds below minimum %ds", meta.TokenAgeSeconds, f.limits.MinTokenAgeSeconds)}
	}
	if meta.Volume24hUsdc.LessThan(f.limits.Min24hVolumeUsdc) {
		return Decision{Allow: false, Reason: fmt.Sprintf("24h volume %s below minimum %s", meta.Volume24hUsdc, f.limits.Min24hVolumeUsdc)}
	}

	if meta.LiquidityUsdc.IsPositive() {
		priceImpact := amountUsdc.Div(meta.LiquidityUsdc).Mul(decimal.NewFromInt(100))
		if priceImpact.GreaterThan(f.limits.MaxPriceImpactPct) {
			return Decision{Allow: false, Reason: fmt.Sprintf("estimated price impact %s%% exceeds max %s%%", priceImpact, f.limits.MaxPriceImpactPct)}
		}
	}

	if pump, ok := recentPumpPct(meta.PriceHistory, time.Now()); ok && pump.GreaterThan(f.limits.MaxRecentPumpPct) {
		return Decision{Allow: false, Reason: fmt.Sprintf("recent pump %s%% exceeds max %s%%", pump, f.limits.MaxRecentPumpPct)}
	}

	return Decision{Allow: true}
}

// recentPumpPct computes the percentage price change across the
// trailing 300s of history. It requires at
// least 2 samples in the window and a positive oldest price.
func recentPumpPct(history []model.PricePoint, now time.Time) (decimal.Decimal, bool) {
	var recent []model.PricePoint
	cutoff := now.Add(-recentWindow)
	for _, p := range history {
		if p.At.After(cutoff) {
			recent = append(recent, p)
		}
	}
	if len(recent) < 2 {
		return decimal.Zero, false
	}
	oldest, newest := recent[0], recent[0]
	for _, p := range recent {
		if p.At.Before(oldest.At) {
			oldest = p
		}
		if p.At.After(newest.At) {
			newest = p
		}
	}
	if !oldest.Price.IsPositive() {
		return decimal.Zero, false
	}
	return newest.Price.Div(oldest.Price).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)), true
}

// getOrRefresh returns the cached metadata for mint if fresh, else
// fetches, caches and returns it.
func (f *Filter) getOrRefresh(ctx context.Context, mint solana.PublicKey) (model.TokenMetadata, error) {
	f.mu.Lock()
	meta, ok := f.cache[mint]
	f.mu.Unlock()
	if ok && time.Since(meta.LastUpdated) < cacheTTL {
		return meta, nil
	}

	// A stale entry is not served in place of a failed fetch: every
	// fetch failure surfaces to ShouldCopy, which fails open with
	// FilterError set rather than judging the trade on old numbers.
	fresh, err := f.fetcher.Fetch(ctx, mint)
	if err != nil {
		return model.TokenMetadata{}, err
	}

	f.mu.Lock()
	f.cache[mint] = fresh
	f.mu.Unlock()
	return fresh, nil
}

// RunRefresh runs the background metadata refresher at its 60s
// cadence: any cache entry older than cacheTTL is refetched.
func (f *Filter) RunRefresh(ctx context.Context) {
	ticker := time.NewTicker(cacheTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.refreshStale(ctx)
		}
	}
}

func (f *Filter) refreshStale(ctx context.Context) {
	f.mu.Lock()
	stale := make([]solana.PublicKey, 0, len(f.cache))
	now := time.Now()
	for mint, meta := range f.cache {
		if now.Sub(meta.LastUpdated) >= cacheTTL {
			stale = append(stale, mint)
		}
	}
	f.mu.Unlock()

	for _, mint := range stale {
		fresh, err := f.fetcher.Fetch(ctx, mint)
		if err != nil {
			f.logger.Warn("quality: background metadata refresh failed", zap.String("mint", mint.String()), zap.Error(err))
			continue
		}
		f.mu.Lock()
		f.cache[mint] = fresh
		f.mu.Unlock()
	}
}
