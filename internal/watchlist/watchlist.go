// Package watchlist implements the watchlist filter: a
// concurrently-readable set of watched addresses gating whether the
// rest of the pipeline runs for a given transaction.
package watchlist

import (
	"sync"

	"github.com/gagliardetto/solana-go"
)

// Set is a shared, many-readers/one-writer set of watched public
// keys. The hot path only reads; the subscription manager (external
// to this core) is the sole writer.
type Set struct {
	mu      sync.RWMutex
	watched map[solana.PublicKey]struct{}
}

// NewSet constructs a Set, optionally pre-populated.
func NewSet(initial ...solana.PublicKey) *Set {
	s := &Set{watched: make(map[solana.PublicKey]struct{}, len(initial))}
	for _, k := range initial {
		s.watched[k] = struct{}{}
	}
	return s
}

// Add inserts a watched address. Safe for concurrent use with Match.
func (s *Set) Add(key solana.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watched[key] = struct{}{}
}

// Remove deletes a watched address.
func (s *Set) Remove(key solana.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watched, key)
}

// Match scans keys (the pipeline passes a transaction's static account
// keys) and returns the first one present in the watched set. Cost
// is O(len(keys)), not O(len(watched)).
func (s *Set) Match(keys []solana.PublicKey) (solana.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range keys {
		if _, ok := s.watched[k]; ok {
			return k, true
		}
	}
	return solana.PublicKey{}, false
}

// Len reports the number of watched addresses.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watched)
}
