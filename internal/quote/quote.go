// Package quote implements the quote cache & pre-builder: a
// short-TTL swap-quote cache and a longer-TTL cache of pre-signed Buy
// transactions, each with a background refresher.
package quote

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/obsrvr-systems/solana-copytrader/internal/model"
	"github.com/obsrvr-systems/solana-copytrader/internal/swapapi"
)

const (
	quoteTTL              = 5 * time.Second
	quoteRefresh          = 3 * time.Second
	prebuiltTTL           = 45 * time.Second
	prebuiltRefresh       = 30 * time.Second
	prebuiltRefreshWindow = 15 * time.Second
)

// quoteKey identifies one cached quote.
type quoteKey struct {
	inputMint  solana.PublicKey
	outputMint solana.PublicKey
	amountRaw  uint64
	mode       model.QuoteMode
}

// Cache is the quote cache and pre-built cache. Both are guarded
// by one mutex; contention is expected to be low relative to the
// caches' refresh cadence.
type Cache struct {
	client *swapapi.Client
	logger *zap.Logger

	mu       sync.Mutex
	quotes   map[quoteKey]model.Quote
	prebuilt map[solana.PublicKey]model.PreBuilt

	userPubkey               string
	slippageBps              int
	priorityFeeMicroLamports uint64

	whitelist []solana.PublicKey
	tradeSize uint64
}

// NewCache constructs a Cache. whitelist and tradeSize drive the
// background pre-fetch and pre-build loops.
func NewCache(client *swapapi.Client, logger *zap.Logger, userPubkey string, slippageBps int, priorityFeeMicroLamports uint64, whitelist []solana.PublicKey, tradeSizeRaw uint64) *Cache {
	return &Cache{
		client:                   client,
		logger:                   logger,
		quotes:                   make(map[quoteKey]model.Quote),
		prebuilt:                 make(map[solana.PublicKey]model.PreBuilt),
		userPubkey:               userPubkey,
		slippageBps:              slippageBps,
		priorityFeeMicroLamports: priorityFeeMicroLamports,
		whitelist:                whitelist,
		tradeSize:                tradeSizeRaw,
	}
}

// GetWithCache returns a cached quote if its age is below the 5s TTL,
// else fetches, caches and returns a fresh one.
func (c *Cache) GetWithCache(ctx context.Context, inputMint, outputMint solana.PublicKey, amountRaw uint64, mode model.QuoteMode) (model.Quote, error) {
	key := quoteKey{inputMint: inputMint, outputMint: outputMint, amountRaw: amountRaw, mode: mode}

	c.mu.Lock()
	if q, ok := c.quotes[key]; ok && time.Since(q.FetchedAt) < quoteTTL {
		c.mu.Unlock()
		return q, nil
	}
	c.mu.Unlock()

	q, err := c.client.Quote(ctx, inputMint.String(), outputMint.String(), amountRaw, c.slippageBps, mode)
	if err != nil {
		return model.Quote{}, err
	}
	q.InputMint, q.OutputMint = inputMint, outputMint

	c.mu.Lock()
	c.quotes[key] = q
	c.mu.Unlock()
	return q, nil
}

// Take atomically removes and returns a non-expired pre-built entry
// for mint; a concurrent second caller observes ok=false.
func (c *Cache) Take(mint solana.PublicKey, now time.Time) (model.PreBuilt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pb, ok := c.prebuilt[mint]
	if !ok {
		return model.PreBuilt{}, false
	}
	delete(c.prebuilt, mint)
	if pb.Expired(now) {
		return model.PreBuilt{}, false
	}
	return pb, true
}

// Put inserts or replaces the pre-built entry for mint.
func (c *Cache) Put(mint solana.PublicKey, pb model.PreBuilt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prebuilt[mint] = pb
}

// RunQuoteRefresh runs the background USDC -> whitelisted-token quote
// refresher at its 3s cadence until ctx is cancelled.
func (c *Cache) RunQuoteRefresh(ctx context.Context) {
	ticker := time.NewTicker(quoteRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, mint := range c.whitelist {
				if _, err := c.GetWithCache(ctx, model.USDCMint, mint, c.tradeSize, model.ExactIn); err != nil {
					c.logger.Warn("background quote refresh failed", zap.String("mint", mint.String()), zap.Error(err))
				}
			}
		}
	}
}

// BuildFunc builds, signs and serializes a swap transaction for quote,
// returning the signed bytes and the transaction's own signature. It
// is supplied by the caller (orchestrator wiring) since signing keys
// and blockhash sourcing live outside this package.
type BuildFunc func(ctx context.Context, quote model.Quote) ([]byte, solana.Signature, solana.Hash, error)

// RunPrebuiltRefresh runs the background pre-built refresher at its
// 30s cadence: for each whitelisted mint whose entry is absent or
// expiring within 15s, fetch a fresh quote and rebuild.
func (c *Cache) RunPrebuiltRefresh(ctx context.Context, build BuildFunc) {
	ticker := time.NewTicker(prebuiltRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshDueMints(ctx, build)
		}
	}
}

// RefreshMint immediately rebuilds the pre-built entry for one mint,
// used after a successful Take to schedule a background rebuild
// without making the caller wait.
func (c *Cache) RefreshMint(ctx context.Context, mint solana.PublicKey, build BuildFunc) {
	if err := c.refreshOne(ctx, mint, build); err != nil {
		c.logger.Warn("pre-built rebuild failed", zap.String("mint", mint.String()), zap.Error(err))
	}
}

func (c *Cache) refreshDueMints(ctx context.Context, build BuildFunc) {
	now := time.Now()
	for _, mint := range c.whitelist {
		c.mu.Lock()
		pb, ok := c.prebuilt[mint]
		c.mu.Unlock()
		if ok && pb.ExpiresAt.Sub(now) > prebuiltRefreshWindow {
			continue
		}
		if err := c.refreshOne(ctx, mint, build); err != nil {
			c.logger.Warn("pre-built refresh failed", zap.String("mint", mint.String()), zap.Error(err))
		}
	}
}

func (c *Cache) refreshOne(ctx context.Context, mint solana.PublicKey, build BuildFunc) error {
	q, err := c.GetWithCache(ctx, model.USDCMint, mint, c.tradeSize, model.ExactIn)
	if err != nil {
		return err
	}
	signedTx, sig, blockhash, err := build(ctx, q)
	if err != nil {
		return err
	}
	now := time.Now()
	c.Put(mint, model.PreBuilt{
		TokenMint:     mint,
		SignedTxBytes: signedTx,
		Signature:     sig,
		QuoteSnapshot: q,
		Blockhash:     blockhash,
		CreatedAt:     now,
		ExpiresAt:     now.Add(prebuiltTTL),
	})
	return nil
}
