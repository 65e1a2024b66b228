package quality

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/obsrvr-systems/solana-copytrader/internal/model"
)

func pk(b byte) solana.PublicKey {
	var p solana.PublicKey
	p[0] = b
	return p
}

type stubFetcher struct {
	meta model.TokenMetadata
	err  error
}

func (s stubFetcher) Fetch(ctx context.Context, mint solana.PublicKey) (model.TokenMetadata, error) {
	return s.meta, s.err
}

func defaultLimits() model.QualityLimits {
	return model.QualityLimits{
		MinLiquidityUsdc:   decimal.NewFromInt(50000),
		MaxPriceImpactPct:  decimal.NewFromInt(2),
		MinTokenAgeSeconds: 3600,
		Min24hVolumeUsdc:   decimal.NewFromInt(10000),
		MaxRecentPumpPct:   decimal.NewFromInt(50),
		Whitelist:          map[solana.PublicKey]struct{}{},
	}
}

func passingMeta(mint solana.PublicKey) model.TokenMetadata {
	return model.TokenMetadata{
		Mint:            mint,
		LiquidityUsdc:   decimal.NewFromInt(100000),
		Volume24hUsdc:   decimal.NewFromInt(20000),
		TokenAgeSeconds: 7200,
		LastUpdated:     time.Now(),
	}
}

func TestShouldCopyWhitelistBypasses(t *testing.T) {
	mint := pk(1)
	limits := defaultLimits()
	limits.Whitelist[mint] = struct{}{}
	f := NewFilter(limits, stubFetcher{err: errors.New("should never be called")}, zap.NewNop())

	trade := &model.DetectedTrade{TokenMint: mint}
	d := f.ShouldCopy(context.Background(), trade, decimal.NewFromInt(2))
	require.True(t, d.Allow)
}

func TestShouldCopyFailsOpenOnFetchError(t *testing.T) {
	mint := pk(2)
	f := NewFilter(defaultLimits(), stubFetcher{err: errors.New("api down")}, zap.NewNop())

	trade := &model.DetectedTrade{TokenMint: mint}
	d := f.ShouldCopy(context.Background(), trade, decimal.NewFromInt(2))
	require.True(t, d.Allow)
	require.True(t, d.FilterError)
}

func TestShouldCopyFailsOpenWhenStaleEntryRefreshFails(t *testing.T) {
	mint := pk(9)
	f := NewFilter(defaultLimits(), stubFetcher{err: errors.New("api down")}, zap.NewNop())
	stale := passingMeta(mint)
	stale.LiquidityUsdc = decimal.NewFromInt(1) // would reject if evaluated
	stale.LastUpdated = time.Now().Add(-2 * cacheTTL)
	f.cache[mint] = stale

	trade := &model.DetectedTrade{TokenMint: mint}
	d := f.ShouldCopy(context.Background(), trade, decimal.NewFromInt(2))
	require.True(t, d.Allow)
	require.True(t, d.FilterError)
}

func TestShouldCopyRejectsLowLiquidity(t *testing.T) {
	mint := pk(3)
	meta := passingMeta(mint)
	meta.LiquidityUsdc = decimal.NewFromInt(100)
	f := NewFilter(defaultLimits(), stubFetcher{meta: meta}, zap.NewNop())

	trade := &model.DetectedTrade{TokenMint: mint}
	d := f.ShouldCopy(context.Background(), trade, decimal.NewFromInt(2))
	require.False(t, d.Allow)
	require.Contains(t, d.Reason, "liquidity")
}

func TestShouldCopyRejectsHighPriceImpact(t *testing.T) {
	mint := pk(4)
	meta := passingMeta(mint)
	meta.LiquidityUsdc = decimal.NewFromInt(100)
	meta.LiquidityUsdc = decimal.NewFromInt(50000)
	f := NewFilter(defaultLimits(), stubFetcher{meta: meta}, zap.NewNop())

	trade := &model.DetectedTrade{TokenMint: mint}
	// amount_usdc / liquidity * 100 = 5000/50000*100 = 10% > 2% max
	d := f.ShouldCopy(context.Background(), trade, decimal.NewFromInt(5000))
	require.False(t, d.Allow)
	require.Contains(t, d.Reason, "price impact")
}

func TestShouldCopyRejectsRecentPump(t *testing.T) {
	mint := pk(5)
	meta := passingMeta(mint)
	now := time.Now()
	meta.PriceHistory = []model.PricePoint{
		{At: now.Add(-200 * time.Second), Price: decimal.NewFromFloat(1.0)},
		{At: now, Price: decimal.NewFromFloat(2.0)},
	}
	f := NewFilter(defaultLimits(), stubFetcher{meta: meta}, zap.NewNop())

	trade := &model.DetectedTrade{TokenMint: mint}
	d := f.ShouldCopy(context.Background(), trade, decimal.NewFromInt(2))
	require.False(t, d.Allow)
	require.Contains(t, d.Reason, "pump")
}

func TestShouldCopyIgnoresPumpSamplesOutsideWindow(t *testing.T) {
	mint := pk(6)
	meta := passingMeta(mint)
	now := time.Now()
	meta.PriceHistory = []model.PricePoint{
		{At: now.Add(-400 * time.Second), Price: decimal.NewFromFloat(1.0)},
		{At: now, Price: decimal.NewFromFloat(2.0)},
	}
	f := NewFilter(defaultLimits(), stubFetcher{meta: meta}, zap.NewNop())

	trade := &model.DetectedTrade{TokenMint: mint}
	d := f.ShouldCopy(context.Background(), trade, decimal.NewFromInt(2))
	require.True(t, d.Allow)
}

func TestShouldCopyAllowsWhenAllChecksPass(t *testing.T) {
	mint := pk(7)
	f := NewFilter(defaultLimits(), stubFetcher{meta: passingMeta(mint)}, zap.NewNop())

	trade := &model.DetectedTrade{TokenMint: mint}
	d := f.ShouldCopy(context.Background(), trade, decimal.NewFromInt(2))
	require.True(t, d.Allow)
}

func TestGetOrRefreshUsesCacheWithinTTL(t *testing.T) {
	mint := pk(8)
	calls := 0
	meta := passingMeta(mint)
	f := NewFilter(defaultLimits(), countingFetcher{meta: meta, calls: &calls}, zap.NewNop())

	ctx := context.Background()
	_, err := f.getOrRefresh(ctx, mint)
	require.NoError(t, err)
	_, err = f.getOrRefresh(ctx, mint)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

type countingFetcher struct {
	meta  model.TokenMetadata
	calls *int
}

func (c countingFetcher) Fetch(ctx context.Context, mint solana.PublicKey) (model.TokenMetadata, error) {
	*c.calls++
	m := c.meta
	m.LastUpdated = time.Now()
	return m, nil
}
