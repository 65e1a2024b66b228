package chainrpc

import (
	"context"
	"fmt"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
)

// JSONRPCClient implements Provider against a standard Solana JSON-RPC
// endpoint via solana-go's own typed rpc.Client, the same dependency
// internal/txdecode and internal/model already use for key, signature
// and hash types.
type JSONRPCClient struct {
	rpc *rpc.Client
}

// NewJSONRPCClient constructs a JSONRPCClient.
func NewJSONRPCClient(endpoint string) *JSONRPCClient {
	return &JSONRPCClient{rpc: rpc.New(endpoint)}
}

// maxSupportedTxVersion pins getTransaction's
// maxSupportedTransactionVersion to 0.
var maxSupportedTxVersion uint64 = 0

// GetAddressLookupTable implements Provider. parseLookupTableAddresses
// skips the account data's header before the address vector: a 4-byte
// type discriminator, an 8-byte deactivation slot, an 8-byte
// last-extended slot, a 1-byte last-extended-slot start index, a 1-byte
// authority presence flag plus 32-byte authority when present, and a
// 2-byte padding field.
func (c *JSONRPCClient) GetAddressLookupTable(ctx context.Context, table solana.PublicKey) (*AddressLookupTable, error) {
	info, err := c.rpc.GetAccountInfoWithOpts(ctx, table, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("chainrpc: get lookup table %s: %w", table.String(), err)
	}
	if info == nil || info.Value == nil {
		return nil, fmt.Errorf("chainrpc: lookup table %s not found", table.String())
	}
	return &AddressLookupTable{Addresses: parseLookupTableAddresses(info.Value.Data.GetBinary())}, nil
}

func parseLookupTableAddresses(raw []byte) []solana.PublicKey {
	offset := 4 + 8 + 8 + 1
	if offset >= len(raw) {
		return nil
	}
	hasAuthority := raw[offset]
	offset++
	if hasAuthority != 0 {
		offset += 32
	}
	offset += 2 // padding
	if offset > len(raw) {
		return nil
	}

	var addrs []solana.PublicKey
	for offset+32 <= len(raw) {
		var pk solana.PublicKey
		copy(pk[:], raw[offset:offset+32])
		addrs = append(addrs, pk)
		offset += 32
	}
	return addrs
}

// GetParsedTransaction implements Provider.
func (c *JSONRPCClient) GetParsedTransaction(ctx context.Context, signature solana.Signature) (*ParsedTransactionMeta, error) {
	result, err := c.rpc.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxSupportedTxVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("chainrpc: get transaction %s: %w", signature.String(), err)
	}
	if result == nil || result.Meta == nil {
		return nil, fmt.Errorf("chainrpc: transaction %s has no metadata", signature.String())
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("chainrpc: decode transaction %s envelope: %w", signature.String(), err)
	}

	// A versioned transaction's static account-key vector doesn't
	// include lookup-table-resolved accounts; getTransaction's
	// tokenBalance entries index into the static keys followed by all
	// loaded writable addresses and then all loaded readonly addresses.
	accountKeys := append(append(solana.PublicKeySlice{}, tx.Message.AccountKeys...), result.Meta.LoadedAddresses.Writable...)
	accountKeys = append(accountKeys, result.Meta.LoadedAddresses.ReadOnly...)

	meta := &ParsedTransactionMeta{
		Slot:              result.Slot,
		PreTokenBalances:  toTokenBalances(result.Meta.PreTokenBalances, accountKeys),
		PostTokenBalances: toTokenBalances(result.Meta.PostTokenBalances, accountKeys),
	}
	return meta, nil
}

func toTokenBalances(in []rpc.TokenBalance, accountKeys []solana.PublicKey) []TokenBalance {
	out := make([]TokenBalance, 0, len(in))
	for _, b := range in {
		if b.UiTokenAmount == nil || int(b.AccountIndex) >= len(accountKeys) {
			continue
		}
		out = append(out, TokenBalance{
			Mint:      b.Mint,
			Owner:     accountKeys[b.AccountIndex],
			AmountRaw: b.UiTokenAmount.Amount,
			Decimals:  b.UiTokenAmount.Decimals,
		})
	}
	return out
}

// SendTransaction implements Provider, submitting with
// skip_preflight=true, preflight_commitment=processed, max_retries=2.
func (c *JSONRPCClient) SendTransaction(ctx context.Context, signedTx []byte) (solana.Signature, error) {
	tx, err := solana.TransactionFromBytes(signedTx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("chainrpc: decode signed tx: %w", err)
	}
	maxRetries := uint(2)
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentProcessed,
		MaxRetries:          &maxRetries,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("chainrpc: send transaction: %w", err)
	}
	return sig, nil
}

// ConfirmTransaction implements Provider, polling getSignatureStatuses
// at "confirmed" commitment until confirmed, failed, or ctx expires.
// Callers must not block critical-path logic on this.
func (c *JSONRPCClient) ConfirmTransaction(ctx context.Context, signature solana.Signature) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := c.rpc.GetSignatureStatuses(ctx, false, signature)
			if err != nil {
				return fmt.Errorf("chainrpc: get signature statuses: %w", err)
			}
			if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("chainrpc: transaction %s failed on-chain", signature.String())
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

// GetLatestBlockhash implements Provider.
func (c *JSONRPCClient) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	result, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("chainrpc: get latest blockhash: %w", err)
	}
	return result.Value.Blockhash, nil
}

// GetTokenAccountsBalance sums the raw balance across every token
// account an owner holds for a given mint (an owner may have more than
// one open account for the same mint, though this core only ever
// creates one), decoding each account's raw SPL token-account bytes
// rather than depending on the RPC's "jsonParsed" encoding.
func (c *JSONRPCClient) GetTokenAccountsBalance(ctx context.Context, owner, mint solana.PublicKey) (string, error) {
	result, err := c.rpc.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{Mint: &mint},
		&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64, Commitment: rpc.CommitmentConfirmed},
	)
	if err != nil {
		return "", fmt.Errorf("chainrpc: get token accounts by owner: %w", err)
	}
	if result == nil || len(result.Value) == 0 {
		return "0", nil
	}

	var total uint64
	for _, acc := range result.Value {
		var decoded token.Account
		if err := decoded.UnmarshalWithDecoder(bin.NewBinDecoder(acc.Account.Data.GetBinary())); err != nil {
			continue
		}
		total += decoded.Amount
	}
	return strconv.FormatUint(total, 10), nil
}

var _ Provider = (*JSONRPCClient)(nil)
