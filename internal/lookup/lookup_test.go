package lookup

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/obsrvr-systems/solana-copytrader/internal/model"
	"github.com/stretchr/testify/require"
)

func pk(b byte) solana.PublicKey {
	var p solana.PublicKey
	p[0] = b
	return p
}

type countingFetcher struct {
	calls atomic.Int32
	keys  []solana.PublicKey
}

func (f *countingFetcher) GetAddressLookupTable(ctx context.Context, table solana.PublicKey) ([]solana.PublicKey, error) {
	f.calls.Add(1)
	return f.keys, nil
}

func TestResolveLegacyPassthrough(t *testing.T) {
	r := NewResolver(&countingFetcher{}, zap.NewNop())
	decoded := model.DecodedTransaction{
		AccountKeysStatic: []solana.PublicKey{pk(1), pk(2)},
		Version:           model.VersionLegacy,
	}
	resolved := r.Resolve(context.Background(), decoded)
	require.Equal(t, decoded.AccountKeysStatic, resolved.AccountKeysFull)
}

func TestResolveOrdersWritableThenReadonly(t *testing.T) {
	fetcher := &countingFetcher{keys: []solana.PublicKey{pk(10), pk(11), pk(12), pk(13)}}
	r := NewResolver(fetcher, zap.NewNop())
	decoded := model.DecodedTransaction{
		AccountKeysStatic: []solana.PublicKey{pk(1)},
		Version:           model.VersionV0,
		LookupRefs: []model.LookupRef{
			{Table: pk(99), WritableIxs: []uint8{0, 1}, ReadonlyIxs: []uint8{2, 3}},
		},
	}
	resolved := r.Resolve(context.Background(), decoded)
	require.Equal(t, []solana.PublicKey{pk(1), pk(10), pk(11), pk(12), pk(13)}, resolved.AccountKeysFull)
	require.GreaterOrEqual(t, len(resolved.AccountKeysFull), len(decoded.AccountKeysStatic))
}

func TestResolveCoalescesConcurrentFetches(t *testing.T) {
	fetcher := &countingFetcher{keys: []solana.PublicKey{pk(10)}}
	r := NewResolver(fetcher, zap.NewNop())
	decoded := model.DecodedTransaction{
		AccountKeysStatic: []solana.PublicKey{pk(1)},
		Version:           model.VersionV0,
		LookupRefs: []model.LookupRef{
			{Table: pk(99), WritableIxs: []uint8{0}},
		},
	}

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			r.Resolve(context.Background(), decoded)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int32(1), fetcher.calls.Load())
}
