// Package pipeline wires the ingestion, decoding and detection stages
// into the copy-execution subsystem: slot batches arrive on one
// channel, each entry's transactions are decoded, matched, resolved,
// classified and reconstructed in a bounded worker group, and detected
// trades reach the copy orchestrator over a queue of
// detectedTradeQueueDepth. A send that finds that queue full waits at
// most 1s and then drops the trade with a warning, so the queue holds
// back ingestion for no longer than that.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/obsrvr-systems/solana-copytrader/internal/classify"
	"github.com/obsrvr-systems/solana-copytrader/internal/events"
	"github.com/obsrvr-systems/solana-copytrader/internal/lookup"
	"github.com/obsrvr-systems/solana-copytrader/internal/metrics"
	"github.com/obsrvr-systems/solana-copytrader/internal/model"
	"github.com/obsrvr-systems/solana-copytrader/internal/shred"
	"github.com/obsrvr-systems/solana-copytrader/internal/streamsource"
	"github.com/obsrvr-systems/solana-copytrader/internal/tradedetect"
	"github.com/obsrvr-systems/solana-copytrader/internal/txdecode"
	"github.com/obsrvr-systems/solana-copytrader/internal/watchlist"
)

// detectedTradeQueueDepth is the copy-orchestrator-facing channel's
// capacity.
const detectedTradeQueueDepth = 16

// HandleTradeFunc adapts *orchestrator.Orchestrator.HandleTrade (whose
// concrete Outcome return type this package doesn't need to know) to
// the one method the pipeline actually calls.
type HandleTradeFunc func(ctx context.Context, trade *model.DetectedTrade)

// Pipeline runs decode, watchlist, resolve, classify and detect for
// each slot and dispatches normalized trades to the notification bus
// and, via handleTrade, to the copy orchestrator.
type Pipeline struct {
	registry *classify.Registry
	resolver *lookup.Resolver
	watch    *watchlist.Set
	detector *tradedetect.Detector
	bus      *events.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger

	handleTrade HandleTradeFunc

	workersPerSlot int
}

// New constructs a Pipeline. workersPerSlot bounds how many
// transactions within one entry are analyzed concurrently.
func New(registry *classify.Registry, resolver *lookup.Resolver, watch *watchlist.Set, detector *tradedetect.Detector, bus *events.Bus, m *metrics.Metrics, logger *zap.Logger, handleTrade HandleTradeFunc, workersPerSlot int) *Pipeline {
	if workersPerSlot <= 0 {
		workersPerSlot = 8
	}
	return &Pipeline{
		registry:       registry,
		resolver:       resolver,
		watch:          watch,
		detector:       detector,
		bus:            bus,
		metrics:        m,
		logger:         logger,
		handleTrade:    handleTrade,
		workersPerSlot: workersPerSlot,
	}
}

// Run consumes slot-entry batches from in until ctx is cancelled,
// decoding, resolving, classifying and detecting trades. Entries
// within one slot are processed in order; transactions within one
// entry are analyzed concurrently.
func (p *Pipeline) Run(ctx context.Context, in <-chan streamsource.SlotEntries) {
	tradeQueue := make(chan *model.DetectedTrade, detectedTradeQueueDepth)
	go p.drainTrades(ctx, tradeQueue)
	defer close(tradeQueue)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			p.processSlot(ctx, msg, tradeQueue)
		}
	}
}

func (p *Pipeline) processSlot(ctx context.Context, msg streamsource.SlotEntries, tradeQueue chan<- *model.DetectedTrade) {
	entries, err := shred.DecodeEntries(msg.Slot, msg.Entries)
	if err != nil {
		p.logger.Debug("pipeline: malformed entry, slot skipped", zap.Uint64("slot", msg.Slot), zap.Error(err))
		return
	}
	if p.metrics != nil {
		p.metrics.EntriesDecoded.Add(float64(len(entries)))
	}

	for _, entry := range entries {
		p.processEntry(ctx, msg.Slot, entry, tradeQueue)
	}
}

func (p *Pipeline) processEntry(ctx context.Context, slot uint64, entry shred.Entry, tradeQueue chan<- *model.DetectedTrade) {
	group, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.workersPerSlot)

	for _, txBytes := range entry.Transactions {
		txBytes := txBytes
		sem <- struct{}{}
		group.Go(func() error {
			defer func() { <-sem }()
			p.processTransaction(gctx, slot, txBytes, tradeQueue)
			return nil
		})
	}
	_ = group.Wait()
}

func (p *Pipeline) processTransaction(ctx context.Context, slot uint64, txBytes []byte, tradeQueue chan<- *model.DetectedTrade) {
	decoded, err := txdecode.Decode(txBytes)
	if err != nil {
		p.logger.Debug("pipeline: transaction decode failed, skipped", zap.Error(err))
		return
	}
	if p.metrics != nil {
		p.metrics.TransactionsSeen.Inc()
	}

	// The watchlist check runs against the static key set: a watched
	// address always
	// signs its own trades, so it is present in the static keys even
	// on a versioned transaction whose program references
	// live entirely in lookup tables. This lets the short-circuit run
	// before paying for lookup-table resolution.
	user, matched := p.watch.Match(decoded.AccountKeysStatic)
	if !matched {
		return
	}

	resolved := p.resolver.Resolve(ctx, decoded)
	tag := p.registry.Classify(resolved)
	if tag == model.AggregatorNone {
		return
	}

	trade, err := p.detector.Detect(ctx, decoded.Signature, slot, tag, user)
	if err != nil {
		p.logger.Warn("pipeline: trade reconstruction failed", zap.String("signature", decoded.Signature.String()), zap.Error(err))
		return
	}
	if trade == nil {
		return
	}

	if p.metrics != nil {
		p.metrics.TradesDetected.WithLabelValues(trade.Aggregator.String(), trade.Direction.String()).Inc()
	}
	if p.bus != nil {
		p.bus.Publish(events.Event{Kind: events.TradeDetected, Trade: trade})
	}

	select {
	case tradeQueue <- trade:
		if p.metrics != nil {
			p.metrics.QueueDepth.WithLabelValues("copy_orchestrator").Set(float64(len(tradeQueue)))
		}
	case <-ctx.Done():
	case <-time.After(time.Second):
		p.logger.Warn("pipeline: copy-orchestrator queue saturated, dropping trade",
			zap.String("signature", trade.Signature.String()))
	}
}

func (p *Pipeline) drainTrades(ctx context.Context, tradeQueue <-chan *model.DetectedTrade) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade, ok := <-tradeQueue:
			if !ok {
				return
			}
			if p.handleTrade != nil {
				p.handleTrade(ctx, trade)
			}
		}
	}
}
