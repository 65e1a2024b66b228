// Package streamsource consumes the upstream shred-entry stream: a
// unidirectional server-streaming RPC of per-slot entry
// payloads, reconnecting with a fixed delay and surfacing connection
// state to callers.
package streamsource

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
)

// SlotEntries is one message of the upstream stream: a slot's
// shred-assembled entry bytes, as returned by the hand-encoded
// proto/shredstream client.
type SlotEntries struct {
	Slot    uint64
	Entries []byte
}

// EntryStream is the receive half of one StreamEntries call, satisfied
// by the proto/shredstream client's stream adapter.
type EntryStream interface {
	Recv() (SlotEntries, error)
}

// Transport opens the upstream stream starting at startSlot. It is
// implemented by the hand-encoded proto/shredstream client; this package
// only pins the contract and the reconnect state machine around it.
type Transport interface {
	StreamEntries(ctx context.Context, startSlot uint64) (EntryStream, error)
}

// ConnState is a connection-state surfaced to callers.
type ConnState int

const (
	Connected ConnState = iota
	Disconnected
	ConnError
	MaxReconnectAttemptsReached
)

func (s ConnState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case ConnError:
		return "error"
	case MaxReconnectAttemptsReached:
		return "max_reconnect_attempts_reached"
	default:
		return "unknown"
	}
}

// StateChange is one connection-state transition, with the error that
// caused it when applicable.
type StateChange struct {
	State ConnState
	Err   error
	At    time.Time
}

// Source wraps a Transport with reconnect-with-fixed-delay semantics.
type Source struct {
	transport      Transport
	logger         *zap.Logger
	reconnectDelay time.Duration
	maxAttempts    int // 0 = unbounded

	states chan StateChange
}

// NewSource constructs a Source. maxAttempts of 0 means unbounded
// reconnection attempts.
func NewSource(transport Transport, reconnectDelay time.Duration, maxAttempts int, logger *zap.Logger) *Source {
	return &Source{
		transport:      transport,
		logger:         logger,
		reconnectDelay: reconnectDelay,
		maxAttempts:    maxAttempts,
		states:         make(chan StateChange, 16),
	}
}

// States returns the channel of connection-state transitions. Run never
// blocks on it: a transition is dropped when its 16-slot buffer is full,
// so callers drain it concurrently with Run to see every transition.
func (s *Source) States() <-chan StateChange {
	return s.states
}

// Run streams SlotEntries into out until ctx is cancelled or the
// reconnect budget is exhausted. It never returns a transport error to
// the caller directly; failures are surfaced only through States().
func (s *Source) Run(ctx context.Context, startSlot uint64, out chan<- SlotEntries) {
	attempts := 0
	slot := startSlot

	for {
		if ctx.Err() != nil {
			s.emit(StateChange{State: Disconnected, At: time.Now()})
			return
		}

		stream, err := s.transport.StreamEntries(ctx, slot)
		if err != nil {
			attempts++
			s.emit(StateChange{State: ConnError, Err: err, At: time.Now()})
			if s.maxAttempts > 0 && attempts >= s.maxAttempts {
				s.emit(StateChange{State: MaxReconnectAttemptsReached, At: time.Now()})
				return
			}
			if !s.sleep(ctx) {
				return
			}
			continue
		}

		attempts = 0
		s.emit(StateChange{State: Connected, At: time.Now()})
		slot, err = s.drain(ctx, stream, out, slot)
		if err == nil {
			// context cancelled
			return
		}

		s.logger.Warn("shred stream disconnected, reconnecting",
			zap.Error(err),
			zap.Duration("delay", s.reconnectDelay),
		)
		s.emit(StateChange{State: Disconnected, Err: err, At: time.Now()})
		if !s.sleep(ctx) {
			return
		}
	}
}

// drain receives from stream until it errors or ctx is cancelled,
// forwarding each entry batch to out and tracking the last-seen slot
// so reconnection can resume close to where it left off.
func (s *Source) drain(ctx context.Context, stream EntryStream, out chan<- SlotEntries, lastSlot uint64) (uint64, error) {
	for {
		select {
		case <-ctx.Done():
			return lastSlot, nil
		default:
		}

		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return lastSlot, errors.New("stream closed by upstream")
		}
		if err != nil {
			return lastSlot, err
		}
		lastSlot = msg.Slot

		select {
		case out <- msg:
		case <-ctx.Done():
			return lastSlot, nil
		}
	}
}

func (s *Source) sleep(ctx context.Context) bool {
	select {
	case <-time.After(s.reconnectDelay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Source) emit(sc StateChange) {
	select {
	case s.states <- sc:
	default:
		// states channel full: callers falling behind on a stalled
		// consumer must not block the stream loop.
	}
}
