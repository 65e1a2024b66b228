// Package events is the outbound event bus: components publish
// events; the external notification sink subscribes. Publishers never
// block on slow subscribers.
package events

import (
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/obsrvr-systems/solana-copytrader/internal/model"
)

// Kind names one published event type.
type Kind string

const (
	TradeDetected   Kind = "trade_detected"
	CopyInitiated   Kind = "copy_initiated"
	CopyComplete    Kind = "copy_complete"
	CopySkipped     Kind = "copy_skipped"
	CopyFailed      Kind = "copy_failed"
	PositionOpened  Kind = "position_opened"
	PositionUpdated Kind = "position_updated"
	PositionClosed  Kind = "position_closed"
	LimitWarning    Kind = "limit_warning"
	ExitTriggered   Kind = "exit_triggered"
	ExitExecuted    Kind = "exit_executed"
	ExitFailed      Kind = "exit_failed"
)

// Event is one published occurrence. Only the fields relevant to Kind
// are populated; consumers switch on Kind.
type Event struct {
	Kind Kind

	Trade             *model.DetectedTrade
	Position          *model.Position
	Signature         solana.Signature
	OriginalSignature solana.Signature
	CopyLatencyMs     int64
	E2ELatencyMs      int64
	Reason            string
	Detail            string
	Err               error
	RealizedPnlUsdc   decimal.Decimal
	RealizedPnlPct    decimal.Decimal

	LimitType    string
	CurrentValue decimal.Decimal
	MaxValue     decimal.Decimal
	Percent      decimal.Decimal
}

// Bus fans published events out to subscribers over bounded,
// per-subscriber channels. A subscriber that falls behind has events
// dropped for it rather than blocking publishers.
type Bus struct {
	subscribe   chan chan Event
	unsubscribe chan chan Event
	publish     chan Event
	done        chan struct{}
}

// NewBus constructs a Bus. It does not start the dispatch loop:
// callers start Run themselves and close its stop channel at shutdown.
func NewBus() *Bus {
	return &Bus{
		subscribe:   make(chan chan Event),
		unsubscribe: make(chan chan Event),
		publish:     make(chan Event, 256),
		done:        make(chan struct{}),
	}
}

// Subscribe registers a new subscriber channel of the given buffer
// size and returns it.
func (b *Bus) Subscribe(bufferSize int) chan Event {
	ch := make(chan Event, bufferSize)
	select {
	case b.subscribe <- ch:
	case <-b.done:
	}
	return ch
}

// Unsubscribe removes a previously subscribed channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	select {
	case b.unsubscribe <- ch:
	case <-b.done:
	}
}

// Publish enqueues an event for dispatch. It never blocks callers
// beyond the bus's own internal queue.
func (b *Bus) Publish(e Event) {
	select {
	case b.publish <- e:
	default:
		// internal queue saturated: drop rather than block the
		// producing stage.
	}
}

// Run dispatches published events to all current subscribers until
// stop is closed. Each subscriber receives on a best-effort basis: a
// full subscriber channel drops the event for that subscriber only.
func (b *Bus) Run(stop <-chan struct{}) {
	defer close(b.done)
	subscribers := make(map[chan Event]struct{})
	for {
		select {
		case <-stop:
			return
		case ch := <-b.subscribe:
			subscribers[ch] = struct{}{}
		case ch := <-b.unsubscribe:
			delete(subscribers, ch)
		case e := <-b.publish:
			for ch := range subscribers {
				select {
				case ch <- e:
				default:
				}
			}
		}
	}
}
