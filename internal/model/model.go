// Package model holds the data types shared across the ingestion,
// detection and copy-execution pipeline.
package model

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// USDCMint is the canonical USDC mint address on Solana mainnet-beta.
var USDCMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

// Aggregator identifies which of the two recognized swap aggregators
// routed a transaction.
type Aggregator int

const (
	AggregatorNone Aggregator = iota
	AggregatorA
	AggregatorB
)

func (a Aggregator) String() string {
	switch a {
	case AggregatorA:
		return "A"
	case AggregatorB:
		return "B"
	default:
		return "none"
	}
}

// TxVersion distinguishes legacy transactions from versioned (v0) ones.
type TxVersion int

const (
	VersionLegacy TxVersion = iota
	VersionV0
)

// LookupRef is a single address-lookup-table reference carried by a
// versioned message: the table account plus the indices of the
// writable and readonly keys it contributes.
type LookupRef struct {
	Table       solana.PublicKey
	WritableIxs []uint8
	ReadonlyIxs []uint8
}

// CompiledInstruction is a single top-level instruction as compiled
// into the transaction message: the index of its program id in the
// account-key vector, the indices of its accounts, and its raw data.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	AccountIdxs    []uint8
	Data           []byte
}

// DecodedTransaction is the output of the transaction decoder:
// a structurally parsed transaction before lookup-table expansion.
type DecodedTransaction struct {
	Signature         solana.Signature
	AccountKeysStatic []solana.PublicKey
	Version           TxVersion
	Instructions      []CompiledInstruction
	LookupRefs        []LookupRef
}

// ResolvedTransaction is a DecodedTransaction plus the fully expanded
// account-key vector (static ++ writable-lookup ++ readonly-lookup).
type ResolvedTransaction struct {
	DecodedTransaction
	AccountKeysFull []solana.PublicKey
}

// Direction is the side of a detected or copied trade.
type Direction int

const (
	Buy Direction = iota
	Sell
)

func (d Direction) String() string {
	if d == Sell {
		return "sell"
	}
	return "buy"
}

// DetectedTrade is a normalized trade reconstructed from balance
// deltas.
type DetectedTrade struct {
	Signature      solana.Signature
	Slot           uint64
	Direction      Direction
	TokenMint      solana.PublicKey
	TokenDecimals  uint8
	UsdcAmount     decimal.Decimal
	TokenAmountRaw uint64
	User           solana.PublicKey
	Aggregator     Aggregator
	DetectedAt     time.Time
}

// TokenBalanceDelta is the change in one owner's holding of one mint
// between a transaction's pre- and post-execution state.
type TokenBalanceDelta struct {
	Mint     solana.PublicKey
	Owner    solana.PublicKey
	RawDelta int64
	Decimals uint8
}

// Position is an open, in-memory copy-trading position for one mint.
type Position struct {
	TokenMint        solana.PublicKey
	AmountRaw        uint64
	Decimals         uint8
	AvgEntryPriceUsd decimal.Decimal
	TotalCostUsdc    decimal.Decimal
	EntryTime        time.Time
	Signatures       []solana.Signature
	BuyCount         uint32
	SellCount        uint32
}

// RiskLimits bounds the size and concurrency of copy-trading exposure.
type RiskLimits struct {
	MaxPositionUsdc      decimal.Decimal
	MaxTotalExposureUsdc decimal.Decimal
	MaxOpenPositions     int
	MinUsdcReserve       decimal.Decimal
}

// QualityLimits configures the pre-trade token-quality gate.
type QualityLimits struct {
	MinLiquidityUsdc   decimal.Decimal
	MaxPriceImpactPct  decimal.Decimal
	MinTokenAgeSeconds int64
	Min24hVolumeUsdc   decimal.Decimal
	MaxRecentPumpPct   decimal.Decimal
	Whitelist          map[solana.PublicKey]struct{}
}

// PricePoint is one (timestamp, price) sample in a metadata cache
// entry's recent price history.
type PricePoint struct {
	At    time.Time
	Price decimal.Decimal
}

// TokenMetadata is a cached external-metadata snapshot for one mint.
type TokenMetadata struct {
	Mint            solana.PublicKey
	LiquidityUsdc   decimal.Decimal
	Volume24hUsdc   decimal.Decimal
	TokenAgeSeconds int64
	PriceHistory    []PricePoint
	LastUpdated     time.Time
}

// QuoteMode selects whether an amount is fixed on the input or output
// side of a swap quote.
type QuoteMode int

const (
	ExactIn QuoteMode = iota
	ExactOut
)

// Quote is a swap-quote snapshot from the external quote API.
type Quote struct {
	InputMint            solana.PublicKey
	OutputMint           solana.PublicKey
	InAmountRaw          uint64
	OutAmountRaw         uint64
	OtherAmountThreshold uint64
	PriceImpactPct       decimal.Decimal
	Mode                 QuoteMode
	FetchedAt            time.Time
}

// PreBuilt is a pre-signed, cached Buy-direction swap transaction.
type PreBuilt struct {
	TokenMint     solana.PublicKey
	SignedTxBytes []byte
	Signature     solana.Signature
	QuoteSnapshot Quote
	Blockhash     solana.Hash
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the pre-built entry is past its 45s TTL as
// of the given instant.
func (p *PreBuilt) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
