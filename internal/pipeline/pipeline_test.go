package pipeline

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/obsrvr-systems/solana-copytrader/internal/chainrpc"
	"github.com/obsrvr-systems/solana-copytrader/internal/classify"
	"github.com/obsrvr-systems/solana-copytrader/internal/events"
	"github.com/obsrvr-systems/solana-copytrader/internal/lookup"
	"github.com/obsrvr-systems/solana-copytrader/internal/model"
	"github.com/obsrvr-systems/solana-copytrader/internal/streamsource"
	"github.com/obsrvr-systems/solana-copytrader/internal/tradedetect"
	"github.com/obsrvr-systems/solana-copytrader/internal/watchlist"
	"github.com/obsrvr-systems/solana-copytrader/internal/wire"
)

func pk(b byte) solana.PublicKey {
	var p solana.PublicKey
	p[0] = b
	return p
}

type stubProvider struct {
	meta *chainrpc.ParsedTransactionMeta
}

func (s *stubProvider) GetAddressLookupTable(ctx context.Context, table solana.PublicKey) (*chainrpc.AddressLookupTable, error) {
	return nil, nil
}

func (s *stubProvider) GetParsedTransaction(ctx context.Context, signature solana.Signature) (*chainrpc.ParsedTransactionMeta, error) {
	return s.meta, nil
}

func (s *stubProvider) SendTransaction(ctx context.Context, signedTx []byte) (solana.Signature, error) {
	return solana.Signature{}, nil
}

func (s *stubProvider) ConfirmTransaction(ctx context.Context, signature solana.Signature) error {
	return nil
}

func (s *stubProvider) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return solana.Hash{}, nil
}

func appendU64(buf []byte, v uint64) []byte {
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, v)
	return append(buf, tmp...)
}

// buildLegacyTx encodes a minimal legacy transaction with two static
// keys (signerKey, programKey) and one top-level instruction invoking
// programKey with the given 8-byte discriminator as its data.
func buildLegacyTx(signerKey, programKey solana.PublicKey, discriminator [8]byte) []byte {
	buf := wire.PutCompactU16(nil, 1)
	buf = append(buf, make([]byte, 64)...) // signature
	buf = append(buf, 0x01, 0x00, 0x00)    // message header
	buf = wire.PutCompactU16(buf, 2)       // 2 static keys
	buf = append(buf, signerKey[:]...)
	buf = append(buf, programKey[:]...)
	buf = append(buf, make([]byte, 32)...) // blockhash
	buf = wire.PutCompactU16(buf, 1)       // 1 instruction
	buf = append(buf, 0x01)                // programIdx = 1 (programKey)
	buf = wire.PutCompactU16(buf, 1)       // 1 account
	buf = append(buf, 0x00)                // account idx 0 = signerKey
	buf = wire.PutCompactU16(buf, 8)       // data len
	buf = append(buf, discriminator[:]...)
	return buf
}

// buildSlotPayload wraps txs into a single shred-stream entry.
func buildSlotPayload(txs ...[]byte) []byte {
	payload := appendU64(nil, 1) // 1 entry
	payload = appendU64(payload, 0)
	payload = append(payload, make([]byte, 32)...) // poh hash
	payload = appendU64(payload, uint64(len(txs)))
	for _, tx := range txs {
		payload = append(payload, tx...)
	}
	return payload
}

func TestPipelineDetectsWatchedTrade(t *testing.T) {
	user := pk(1)
	program := pk(2)
	var disc [8]byte
	disc[0] = 0xAA

	payload := buildSlotPayload(buildLegacyTx(user, program, disc))

	watch := watchlist.NewSet(user)
	registry := classify.NewRegistry(program, [][8]byte{disc}, pk(3), nil)
	resolver := lookup.NewResolver(chainrpc.TableFetcher{Provider: &stubProvider{}}, zap.NewNop())

	token := pk(9)
	meta := &chainrpc.ParsedTransactionMeta{
		PreTokenBalances: []chainrpc.TokenBalance{
			{Mint: model.USDCMint, Owner: user, AmountRaw: "1000000000", Decimals: 6},
			{Mint: token, Owner: user, AmountRaw: "0", Decimals: 9},
		},
		PostTokenBalances: []chainrpc.TokenBalance{
			{Mint: model.USDCMint, Owner: user, AmountRaw: "900000000", Decimals: 6},
			{Mint: token, Owner: user, AmountRaw: "5000000000", Decimals: 9},
		},
	}
	detector := tradedetect.NewDetector(&stubProvider{meta: meta}, zap.NewNop())

	bus := events.NewBus()
	stop := make(chan struct{})
	go bus.Run(stop)
	defer close(stop)
	sub := bus.Subscribe(4)

	handleCh := make(chan *model.DetectedTrade, 4)
	handle := func(ctx context.Context, trade *model.DetectedTrade) {
		handleCh <- trade
	}

	p := New(registry, resolver, watch, detector, bus, nil, zap.NewNop(), handle, 2)

	in := make(chan streamsource.SlotEntries, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, in)

	in <- streamsource.SlotEntries{Slot: 42, Entries: payload}

	select {
	case trade := <-handleCh:
		require.Equal(t, model.Buy, trade.Direction)
		require.Equal(t, user, trade.User)
		require.Equal(t, model.AggregatorA, trade.Aggregator)
		require.Equal(t, token, trade.TokenMint)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trade to reach the copy-orchestrator handoff")
	}

	select {
	case e := <-sub:
		require.Equal(t, events.TradeDetected, e.Kind)
		require.NotNil(t, e.Trade)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trade_detected event")
	}
}

func TestPipelineSkipsUnwatchedTransaction(t *testing.T) {
	watched := pk(1)
	other := pk(5)
	program := pk(2)
	var disc [8]byte
	disc[0] = 0xAA

	payload := buildSlotPayload(buildLegacyTx(other, program, disc))

	watch := watchlist.NewSet(watched)
	registry := classify.NewRegistry(program, [][8]byte{disc}, pk(3), nil)
	resolver := lookup.NewResolver(chainrpc.TableFetcher{Provider: &stubProvider{}}, zap.NewNop())
	detector := tradedetect.NewDetector(&stubProvider{}, zap.NewNop())

	handleCh := make(chan *model.DetectedTrade, 1)
	handle := func(ctx context.Context, trade *model.DetectedTrade) {
		handleCh <- trade
	}

	p := New(registry, resolver, watch, detector, nil, nil, zap.NewNop(), handle, 2)

	in := make(chan streamsource.SlotEntries, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, in)

	in <- streamsource.SlotEntries{Slot: 1, Entries: payload}

	select {
	case <-handleCh:
		t.Fatal("unexpected trade dispatched for an unwatched signer")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPipelineSkipsUnclassifiedTransaction(t *testing.T) {
	user := pk(1)
	program := pk(2)
	var disc [8]byte
	disc[0] = 0xAA
	var otherDisc [8]byte
	otherDisc[0] = 0xFF // not in the registry's prefix set

	payload := buildSlotPayload(buildLegacyTx(user, program, otherDisc))

	watch := watchlist.NewSet(user)
	registry := classify.NewRegistry(program, [][8]byte{disc}, pk(3), nil)
	resolver := lookup.NewResolver(chainrpc.TableFetcher{Provider: &stubProvider{}}, zap.NewNop())
	detector := tradedetect.NewDetector(&stubProvider{}, zap.NewNop())

	handleCh := make(chan *model.DetectedTrade, 1)
	handle := func(ctx context.Context, trade *model.DetectedTrade) {
		handleCh <- trade
	}

	p := New(registry, resolver, watch, detector, nil, nil, zap.NewNop(), handle, 2)

	in := make(chan streamsource.SlotEntries, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, in)

	in <- streamsource.SlotEntries{Slot: 1, Entries: payload}

	select {
	case <-handleCh:
		t.Fatal("unexpected trade dispatched for an unrecognized instruction discriminator")
	case <-time.After(200 * time.Millisecond):
	}
}
