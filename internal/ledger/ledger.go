// Package ledger implements the position ledger: per-mint
// weighted-average-cost accounting, realized P&L, and risk-limit
// checks, serialized per mint.
package ledger

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/obsrvr-systems/solana-copytrader/internal/events"
	"github.com/obsrvr-systems/solana-copytrader/internal/model"
)

// limitWarningThreshold is the 80% fraction of a risk limit at which
// CanTrade emits a warning alongside its Allow decision.
var limitWarningThreshold = decimal.NewFromFloat(0.8)

// Decision is CanTrade's outcome: an allow/reject verdict with a
// human-readable reason on reject; a rejection is an ordinary
// outcome, not an error.
type Decision struct {
	Allow  bool
	Reason string
}

// Ledger holds all open positions, one mutex per mint to let
// independent mints mutate concurrently while serializing operations
// on the same mint.
type Ledger struct {
	limits model.RiskLimits
	bus    *events.Bus

	mu        sync.RWMutex
	positions map[solana.PublicKey]*model.Position
	mintLocks map[solana.PublicKey]*sync.Mutex
}

// NewLedger constructs a Ledger.
func NewLedger(limits model.RiskLimits, bus *events.Bus) *Ledger {
	return &Ledger{
		limits:    limits,
		bus:       bus,
		positions: make(map[solana.PublicKey]*model.Position),
		mintLocks: make(map[solana.PublicKey]*sync.Mutex),
	}
}

func (l *Ledger) lockFor(mint solana.PublicKey) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.mintLocks[mint]
	if !ok {
		m = &sync.Mutex{}
		l.mintLocks[mint] = m
	}
	return m
}

// positionFor fetches or creates the position for mint, taking l.mu
// only long enough to touch the map. Callers must already hold the
// per-mint guard from lockFor, and must take l.mu again while mutating
// the returned pointer's fields, since Positions and snapshot copy
// those fields under l.mu.
func (l *Ledger) positionFor(mint solana.PublicKey, decimals uint8) *model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[mint]
	if !ok {
		p = &model.Position{TokenMint: mint, Decimals: decimals, EntryTime: time.Now()}
		l.positions[mint] = p
	}
	return p
}

// snapshot returns a read-only copy of the position for mint, if any.
func (l *Ledger) snapshot(mint solana.PublicKey) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[mint]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// TotalExposureUsdc sums total_cost_usdc across all open positions.
func (l *Ledger) TotalExposureUsdc() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, p := range l.positions {
		total = total.Add(p.TotalCostUsdc)
	}
	return total
}

// OpenPositionCount reports the number of distinct open mints.
func (l *Ledger) OpenPositionCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// CanTrade evaluates whether a proposed trade is permitted under the
// configured risk limits.
func (l *Ledger) CanTrade(mint solana.PublicKey, direction model.Direction, amountUsdc, currentUsdcBalance decimal.Decimal) Decision {
	guard := l.lockFor(mint)
	guard.Lock()
	defer guard.Unlock()

	position, hasPosition := l.snapshot(mint)

	if direction == model.Sell {
		if !hasPosition {
			return Decision{Allow: false, Reason: "no open position to sell"}
		}
		return Decision{Allow: true}
	}

	if currentUsdcBalance.Sub(amountUsdc).LessThan(l.limits.MinUsdcReserve) {
		return Decision{Allow: false, Reason: fmt.Sprintf("would leave USDC below minimum reserve %s", l.limits.MinUsdcReserve.String())}
	}

	newPositionCost := amountUsdc
	if hasPosition {
		newPositionCost = position.TotalCostUsdc.Add(amountUsdc)
	}
	if newPositionCost.GreaterThan(l.limits.MaxPositionUsdc) {
		return Decision{Allow: false, Reason: fmt.Sprintf("new position cost %s exceeds max position %s", newPositionCost.String(), l.limits.MaxPositionUsdc.String())}
	}

	newTotalExposure := l.TotalExposureUsdc().Add(amountUsdc)
	if newTotalExposure.GreaterThan(l.limits.MaxTotalExposureUsdc) {
		return Decision{Allow: false, Reason: fmt.Sprintf("new total exposure %s exceeds max exposure %s", newTotalExposure.String(), l.limits.MaxTotalExposureUsdc.String())}
	}

	if !hasPosition && l.OpenPositionCount() >= l.limits.MaxOpenPositions {
		return Decision{Allow: false, Reason: fmt.Sprintf("opening mint would exceed max open positions %d", l.limits.MaxOpenPositions)}
	}

	if newPositionCost.GreaterThanOrEqual(l.limits.MaxPositionUsdc.Mul(limitWarningThreshold)) ||
		newTotalExposure.GreaterThanOrEqual(l.limits.MaxTotalExposureUsdc.Mul(limitWarningThreshold)) {
		l.publishWarning(newPositionCost, newTotalExposure)
	}

	return Decision{Allow: true}
}

func (l *Ledger) publishWarning(newPositionCost, newTotalExposure decimal.Decimal) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(events.Event{
		Kind:         events.LimitWarning,
		LimitType:    "position_or_exposure",
		CurrentValue: newPositionCost,
		MaxValue:     l.limits.MaxPositionUsdc,
		Percent:      newPositionCost.Div(l.limits.MaxPositionUsdc).Mul(decimal.NewFromInt(100)),
	})
}

// RecordBuy creates or updates the position for mint, recomputing its
// weighted-average entry price as
// avg_entry_price_usdc = total_cost_usdc / (amount_raw / 10^decimals).
func (l *Ledger) RecordBuy(mint solana.PublicKey, tokenAmountRaw uint64, decimals uint8, usdcSpent decimal.Decimal, signature solana.Signature) model.Position {
	guard := l.lockFor(mint)
	guard.Lock()
	defer guard.Unlock()

	p := l.positionFor(mint, decimals)

	l.mu.Lock()
	opened := p.BuyCount == 0
	p.TotalCostUsdc = p.TotalCostUsdc.Add(usdcSpent)
	p.AmountRaw += tokenAmountRaw
	p.AvgEntryPriceUsd = avgEntryPrice(p.TotalCostUsdc, p.AmountRaw, p.Decimals)
	p.Signatures = append(p.Signatures, signature)
	p.BuyCount++
	out := *p
	l.mu.Unlock()

	if l.bus != nil {
		kind := events.PositionUpdated
		if opened {
			kind = events.PositionOpened
		}
		l.bus.Publish(events.Event{Kind: kind, Position: &out})
	}
	return out
}

// RecordSell reduces the position for mint by the sold fraction and
// returns the realized P&L; it removes the position when fully closed.
func (l *Ledger) RecordSell(mint solana.PublicKey, tokenAmountRaw uint64, usdcReceived decimal.Decimal, signature solana.Signature) (decimal.Decimal, bool, error) {
	guard := l.lockFor(mint)
	guard.Lock()
	defer guard.Unlock()

	l.mu.RLock()
	p, ok := l.positions[mint]
	l.mu.RUnlock()
	if !ok || p.AmountRaw == 0 {
		return decimal.Zero, false, fmt.Errorf("ledger: no open position for mint %s", mint.String())
	}

	sellFraction := decimal.NewFromBigInt(new(big.Int).SetUint64(tokenAmountRaw), 0).
		Div(decimal.NewFromBigInt(new(big.Int).SetUint64(p.AmountRaw), 0))
	costBasis := p.TotalCostUsdc.Mul(sellFraction)
	realizedPnl := usdcReceived.Sub(costBasis)

	l.mu.Lock()
	if tokenAmountRaw >= p.AmountRaw {
		p.AmountRaw = 0
	} else {
		p.AmountRaw -= tokenAmountRaw
	}
	p.TotalCostUsdc = p.TotalCostUsdc.Sub(costBasis)
	if p.AmountRaw == 0 {
		p.TotalCostUsdc = decimal.Zero
	}
	p.Signatures = append(p.Signatures, signature)
	p.SellCount++

	closed := p.AmountRaw == 0
	out := *p
	if closed {
		delete(l.positions, mint)
		delete(l.mintLocks, mint)
	}
	l.mu.Unlock()

	if l.bus != nil {
		if closed {
			pct := decimal.Zero
			if !costBasis.IsZero() {
				pct = realizedPnl.Div(costBasis).Mul(decimal.NewFromInt(100))
			}
			l.bus.Publish(events.Event{Kind: events.PositionClosed, Position: &out, RealizedPnlUsdc: realizedPnl, RealizedPnlPct: pct})
		} else {
			l.bus.Publish(events.Event{Kind: events.PositionUpdated, Position: &out})
		}
	}

	return realizedPnl, closed, nil
}

// Position returns a snapshot of the open position for mint, if any.
func (l *Ledger) Position(mint solana.PublicKey) (model.Position, bool) {
	return l.snapshot(mint)
}

// Positions returns a consistent snapshot of all currently open
// positions, used by the exit manager's periodic scan.
func (l *Ledger) Positions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

func avgEntryPrice(totalCostUsdc decimal.Decimal, amountRaw uint64, decimals uint8) decimal.Decimal {
	if amountRaw == 0 {
		return decimal.Zero
	}
	uiAmount := decimal.NewFromBigInt(new(big.Int).SetUint64(amountRaw), -int32(decimals))
	if uiAmount.IsZero() {
		return decimal.Zero
	}
	return totalCostUsdc.Div(uiAmount)
}
