package quote

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/obsrvr-systems/solana-copytrader/internal/model"
)

func pk(b byte) solana.PublicKey {
	var p solana.PublicKey
	p[0] = b
	return p
}

func TestTakeIsAtomicAcrossConcurrentCallers(t *testing.T) {
	c := &Cache{prebuilt: make(map[solana.PublicKey]model.PreBuilt), quotes: make(map[quoteKey]model.Quote)}
	mint := pk(1)
	now := time.Now()
	c.Put(mint, model.PreBuilt{TokenMint: mint, ExpiresAt: now.Add(time.Minute)})

	var successes int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.Take(mint, time.Now()); ok {
				atomic.AddInt32(&successes, 1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), successes)
}

func TestTakeExpiredEntryReturnsFalseAndEvicts(t *testing.T) {
	c := &Cache{prebuilt: make(map[solana.PublicKey]model.PreBuilt), quotes: make(map[quoteKey]model.Quote)}
	mint := pk(2)
	now := time.Now()
	c.Put(mint, model.PreBuilt{TokenMint: mint, ExpiresAt: now.Add(-time.Second)})

	_, ok := c.Take(mint, now)
	require.False(t, ok)
	_, present := c.prebuilt[mint]
	require.False(t, present)

	_, ok = c.Take(mint, now)
	require.False(t, ok)
}

func TestTakeMissingMintReturnsFalse(t *testing.T) {
	c := &Cache{prebuilt: make(map[solana.PublicKey]model.PreBuilt), quotes: make(map[quoteKey]model.Quote)}
	_, ok := c.Take(pk(3), time.Now())
	require.False(t, ok)
}
