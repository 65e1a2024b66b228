// Package submit implements the race submitter: dispatching an
// identical signed transaction to the chain RPC provider and, when
// enabled, a bundle relay, returning as soon as either transport
// succeeds.
package submit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/obsrvr-systems/solana-copytrader/internal/chainrpc"
	"github.com/obsrvr-systems/solana-copytrader/internal/relay"
)

// relayBackoff is the fixed retry schedule for bundle-relay
// initialization.
var relayBackoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// Submitter races the RPC and bundle-relay transports for one signed
// transaction.
type Submitter struct {
	provider chainrpc.Provider
	bundler  *relay.BundleBuilder
	logger   *zap.Logger

	mu            sync.Mutex
	relayDisabled bool
}

// transportResult is one transport's terminal outcome for a single
// Submit call.
type transportResult struct {
	transport string
	err       error
}

// NewSubmitter constructs a Submitter. bundler may be nil to run
// RPC-only (the `trade.use_bundle_relay = false` default).
func NewSubmitter(provider chainrpc.Provider, bundler *relay.BundleBuilder, logger *zap.Logger) *Submitter {
	return &Submitter{provider: provider, bundler: bundler, logger: logger}
}

// Submit dispatches signedTx to both transports concurrently and
// returns the transaction's own signature as soon as either transport
// succeeds. It awaits the slower path only to log its outcome, and
// propagates the RPC error if both transports fail.
func (s *Submitter) Submit(ctx context.Context, signedTx []byte, blockhash solana.Hash) (solana.Signature, error) {
	if len(signedTx) < 64 {
		return solana.Signature{}, fmt.Errorf("submit: signed tx too short to carry a signature")
	}
	var sig solana.Signature
	copy(sig[:], signedTx[:64])

	results := make(chan transportResult, 2)
	inFlight := 0

	inFlight++
	go func() {
		_, err := s.provider.SendTransaction(ctx, signedTx)
		results <- transportResult{transport: "rpc", err: err}
	}()

	if s.bundleEnabled() {
		inFlight++
		go func() {
			err := s.sendBundle(ctx, signedTx, blockhash)
			results <- transportResult{transport: "relay", err: err}
		}()
	}

	var rpcErr, relayErr error
	haveRPC, haveRelay := false, false
	for i := 0; i < inFlight; i++ {
		r := <-results
		switch r.transport {
		case "rpc":
			rpcErr = r.err
			haveRPC = true
		case "relay":
			relayErr = r.err
			haveRelay = true
		}
		if r.err == nil {
			s.logger.Info("submit: transport won race",
				zap.String("transport", r.transport),
				zap.String("signature", sig.String()),
			)
			go s.drainRemaining(results, inFlight-i-1, sig)
			return sig, nil
		}
	}

	s.logger.Warn("both submission transports failed",
		zap.String("signature", sig.String()),
		zap.Bool("rpc_attempted", haveRPC),
		zap.Bool("relay_attempted", haveRelay),
		zap.Error(rpcErr),
		zap.NamedError("relay_error", relayErr),
	)
	if rpcErr != nil {
		return solana.Signature{}, fmt.Errorf("submit: %w", rpcErr)
	}
	return solana.Signature{}, fmt.Errorf("submit: relay: %w", relayErr)
}

// drainRemaining awaits and logs the outstanding transport results
// after the caller has already returned, so the slower path's outcome
// is recorded and its goroutine doesn't leak blocked on results.
func (s *Submitter) drainRemaining(results chan transportResult, n int, sig solana.Signature) {
	for i := 0; i < n; i++ {
		r := <-results
		s.logger.Info("submit: slower transport finished",
			zap.String("transport", r.transport),
			zap.String("signature", sig.String()),
			zap.Error(r.err),
		)
	}
}

func (s *Submitter) bundleEnabled() bool {
	if s.bundler == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.relayDisabled
}

func (s *Submitter) sendBundle(ctx context.Context, signedTx []byte, blockhash solana.Hash) error {
	bundle, err := s.bundler.Build(ctx, blockhash, signedTx)
	if err != nil {
		s.logger.Warn("bundle construction failed, falling back to RPC-only for this send", zap.Error(err))
		return err
	}
	if _, err := s.bundler.SendBundle(ctx, bundle); err != nil {
		return err
	}
	return nil
}

// DisableRelayPermanently demotes the submitter to RPC-only after the
// relay has exhausted its initialization retry budget.
func (s *Submitter) DisableRelayPermanently() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relayDisabled = true
}

// RelayBackoffSchedule exposes the fixed retry delays so callers can
// drive relay (re)initialization with the same schedule.
func RelayBackoffSchedule() []time.Duration {
	return append([]time.Duration(nil), relayBackoff...)
}
