// Package relay is the boundary to the bundle-submission relay's
// searcher interface: tip-account discovery and bundle
// submission, implemented by the hand-encoded proto/relay client.
package relay

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// Client is the relay surface this core calls.
type Client interface {
	GetTipAccounts(ctx context.Context) ([]solana.PublicKey, error)
	SendBundle(ctx context.Context, transactions [][]byte) (string, error)
}

// BundleBuilder assembles a tip-transfer-then-swap bundle given the
// already-signed swap transaction bytes. It depends on chain state
// (blockhash, signer) supplied by the caller, since this package has no
// chain access of its own.
type BundleBuilder struct {
	client      Client
	tipLamports uint64
	signer      solana.PrivateKey
}

// NewBundleBuilder constructs a BundleBuilder.
func NewBundleBuilder(client Client, tipLamports uint64, signer solana.PrivateKey) *BundleBuilder {
	return &BundleBuilder{client: client, tipLamports: tipLamports, signer: signer}
}

// Build fetches the relay's tip accounts, picks one at random, signs a
// fixed-lamport transfer to it, and returns the two-transaction bundle
// (tip transfer, then the caller's already-signed swap bytes).
//
// Bundle construction failures are non-fatal to the caller: the
// submitter falls back to RPC-only on error.
func (b *BundleBuilder) Build(ctx context.Context, blockhash solana.Hash, signedSwapTx []byte) ([][]byte, error) {
	tipAccounts, err := b.client.GetTipAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("relay: get tip accounts: %w", err)
	}
	if len(tipAccounts) == 0 {
		return nil, fmt.Errorf("relay: no tip accounts available")
	}
	tipAccount := tipAccounts[rand.Intn(len(tipAccounts))]

	transferIx := system.NewTransferInstruction(b.tipLamports, b.signer.PublicKey(), tipAccount).Build()
	tipTx, err := solana.NewTransaction([]solana.Instruction{transferIx}, blockhash, solana.TransactionPayer(b.signer.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("relay: build tip transaction: %w", err)
	}
	if _, err := tipTx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(b.signer.PublicKey()) {
			return &b.signer
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("relay: sign tip transaction: %w", err)
	}

	tipBytes, err := tipTx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("relay: marshal tip transaction: %w", err)
	}

	return [][]byte{tipBytes, signedSwapTx}, nil
}

// SendBundle submits the bundle and returns its relay-assigned id.
func (b *BundleBuilder) SendBundle(ctx context.Context, bundle [][]byte) (string, error) {
	id, err := b.client.SendBundle(ctx, bundle)
	if err != nil {
		return "", fmt.Errorf("relay: send bundle: %w", err)
	}
	return id, nil
}
