// Package chainrpc is the boundary to the chain's JSON-RPC provider:
// the interface and wire types the core consumes, plus the solana-go
// backed client implementing them.
package chainrpc

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/obsrvr-systems/solana-copytrader/internal/model"
)

// TokenBalance is one entry of a getParsedTransaction response's
// pre/post token-balance list.
type TokenBalance struct {
	Mint      solana.PublicKey
	Owner     solana.PublicKey
	AmountRaw string // decimal-string, per uiTokenAmount.amount
	Decimals  uint8
}

// ParsedTransactionMeta is the subset of getParsedTransaction's
// response this core depends on.
type ParsedTransactionMeta struct {
	Slot              uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// AddressLookupTable is the decoded account contents of one
// address-lookup-table account.
type AddressLookupTable struct {
	Addresses []solana.PublicKey
}

// Provider is the chain RPC surface this core calls. JSONRPCClient is
// this package's implementation against a live endpoint.
type Provider interface {
	// GetAddressLookupTable fetches one lookup table's address vector.
	GetAddressLookupTable(ctx context.Context, table solana.PublicKey) (*AddressLookupTable, error)
	// GetParsedTransaction fetches executed-transaction metadata by
	// signature at "confirmed" commitment with
	// max_supported_transaction_version=0.
	GetParsedTransaction(ctx context.Context, signature solana.Signature) (*ParsedTransactionMeta, error)
	// SendTransaction submits signed bytes with skip_preflight=true,
	// preflight_commitment="processed", max_retries=2.
	SendTransaction(ctx context.Context, signedTx []byte) (solana.Signature, error)
	// ConfirmTransaction polls for confirmation at "confirmed"
	// commitment. Callers must treat this as best-effort and must not
	// block critical-path logic on it.
	ConfirmTransaction(ctx context.Context, signature solana.Signature) error
	// GetLatestBlockhash fetches a recent blockhash at "confirmed"
	// commitment, used when building swap transactions.
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// TableFetcher adapts a Provider to the narrower interface the lookup
// resolver depends on.
type TableFetcher struct {
	Provider Provider
}

// GetAddressLookupTable implements lookup.TableFetcher.
func (f TableFetcher) GetAddressLookupTable(ctx context.Context, table solana.PublicKey) ([]solana.PublicKey, error) {
	t, err := f.Provider.GetAddressLookupTable(ctx, table)
	if err != nil {
		return nil, err
	}
	return t.Addresses, nil
}

// TokenAccountBalanceFetcher is the narrow provider surface
// BalanceChecker depends on.
type TokenAccountBalanceFetcher interface {
	GetTokenAccountsBalance(ctx context.Context, owner, mint solana.PublicKey) (string, error)
}

// BalanceChecker adapts a Provider's token-account balance lookup to
// the orchestrator's BalanceSource contract (risk gating needs the
// controlled wallet's current USDC balance).
type BalanceChecker struct {
	provider TokenAccountBalanceFetcher
	owner    solana.PublicKey
}

// NewBalanceChecker constructs a BalanceChecker for owner's USDC
// holdings.
func NewBalanceChecker(provider TokenAccountBalanceFetcher, owner solana.PublicKey) *BalanceChecker {
	return &BalanceChecker{provider: provider, owner: owner}
}

// UsdcBalance returns the owner's current USDC balance in UI units,
// scaling the provider's raw integer amount by USDC's 6 decimals.
func (b *BalanceChecker) UsdcBalance(ctx context.Context) (decimal.Decimal, error) {
	raw, err := b.provider.GetTokenAccountsBalance(ctx, b.owner, model.USDCMint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chainrpc: usdc balance: %w", err)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chainrpc: parse usdc balance %q: %w", raw, err)
	}
	return amount.Shift(-6), nil
}
