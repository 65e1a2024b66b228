// Package lookup implements the address-lookup-table resolver:
// expanding a versioned transaction's static key vector with the
// writable/readonly keys referenced through its lookup tables, using
// a coalesced, rate-limited, no-TTL cache.
package lookup

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/obsrvr-systems/solana-copytrader/internal/model"
)

// TableFetcher fetches an address-lookup-table account's key vector
// from the chain RPC provider.
type TableFetcher interface {
	GetAddressLookupTable(ctx context.Context, table solana.PublicKey) ([]solana.PublicKey, error)
}

// Resolver resolves a decoded transaction's full account-key vector,
// fetching and caching lookup tables as needed. Tables are assumed
// immutable for this use and are cached without expiry; concurrent
// fetches of the same table are coalesced via singleflight, and all
// fetches share a global rate limiter (at most 2/s).
type Resolver struct {
	fetcher TableFetcher
	logger  *zap.Logger
	limiter *rate.Limiter
	group   singleflight.Group

	mu    sync.RWMutex
	cache map[solana.PublicKey][]solana.PublicKey
}

// NewResolver constructs a Resolver. The rate limiter is configured at
// 2 requests/second globally (minimum spacing 500ms).
func NewResolver(fetcher TableFetcher, logger *zap.Logger) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(2), 1),
		cache:   make(map[solana.PublicKey][]solana.PublicKey),
	}
}

// Resolve expands decoded's static keys with the keys referenced by
// its lookup tables, preserving order:
// static ++ writable(t1) ++ readonly(t1) ++ writable(t2) ++ ...
//
// On a per-table fetch error, Resolve proceeds with whichever tables
// it did manage to fetch: callers must
// tolerate partial resolution. It never returns an error itself.
func (r *Resolver) Resolve(ctx context.Context, decoded model.DecodedTransaction) model.ResolvedTransaction {
	if decoded.Version == model.VersionLegacy || len(decoded.LookupRefs) == 0 {
		full := append([]solana.PublicKey(nil), decoded.AccountKeysStatic...)
		return model.ResolvedTransaction{DecodedTransaction: decoded, AccountKeysFull: full}
	}

	full := append([]solana.PublicKey(nil), decoded.AccountKeysStatic...)
	for _, ref := range decoded.LookupRefs {
		keys, err := r.tableKeys(ctx, ref.Table)
		if err != nil {
			r.logger.Warn("lookup table fetch failed, proceeding with partial resolution",
				zap.String("table", ref.Table.String()),
				zap.Error(err),
			)
			continue
		}
		for _, idx := range ref.WritableIxs {
			if int(idx) < len(keys) {
				full = append(full, keys[idx])
			}
		}
		for _, idx := range ref.ReadonlyIxs {
			if int(idx) < len(keys) {
				full = append(full, keys[idx])
			}
		}
	}

	return model.ResolvedTransaction{DecodedTransaction: decoded, AccountKeysFull: full}
}

func (r *Resolver) tableKeys(ctx context.Context, table solana.PublicKey) ([]solana.PublicKey, error) {
	if keys, ok := r.cacheGet(table); ok {
		return keys, nil
	}

	v, err, _ := r.group.Do(table.String(), func() (interface{}, error) {
		if keys, ok := r.cacheGet(table); ok {
			return keys, nil
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("lookup: rate limiter wait: %w", err)
		}
		keys, err := r.fetcher.GetAddressLookupTable(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("lookup: fetch table %s: %w", table.String(), err)
		}
		r.cachePut(table, keys)
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]solana.PublicKey), nil
}

func (r *Resolver) cacheGet(table solana.PublicKey) ([]solana.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys, ok := r.cache[table]
	return keys, ok
}

func (r *Resolver) cachePut(table solana.PublicKey, keys []solana.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[table] = keys
}
