// Package classify implements the aggregator classifier: tagging
// a resolved transaction as routed through aggregator A, aggregator B,
// or neither, by matching each top-level instruction's program id and
// 8-byte data discriminator against the enumerated prefix sets.
package classify

import (
	"github.com/gagliardetto/solana-go"

	"github.com/obsrvr-systems/solana-copytrader/internal/model"
)

// Discriminator is an 8-byte instruction-data prefix identifying a
// specific swap instruction variant for one aggregator.
type Discriminator [8]byte

// Registry holds the two aggregators' program ids and their
// enumerated swap-instruction discriminators.
type Registry struct {
	ProgramA  solana.PublicKey
	PrefixesA map[Discriminator]struct{}
	ProgramB  solana.PublicKey
	PrefixesB map[Discriminator]struct{}
}

// NewRegistry builds a Registry from explicit prefix lists. The
// production registry carries 12 prefixes for aggregator A and 6 for
// aggregator B; the registry itself does not enforce a count, since
// it's also used in tests with smaller fixtures.
func NewRegistry(programA solana.PublicKey, prefixesA [][8]byte, programB solana.PublicKey, prefixesB [][8]byte) *Registry {
	r := &Registry{
		ProgramA:  programA,
		PrefixesA: make(map[Discriminator]struct{}, len(prefixesA)),
		ProgramB:  programB,
		PrefixesB: make(map[Discriminator]struct{}, len(prefixesB)),
	}
	for _, p := range prefixesA {
		r.PrefixesA[Discriminator(p)] = struct{}{}
	}
	for _, p := range prefixesB {
		r.PrefixesB[Discriminator(p)] = struct{}{}
	}
	return r
}

// Classify walks resolved's top-level compiled instructions (inner/CPI
// instructions are not examined) and returns the first
// matching aggregator tag, or model.AggregatorNone if none match.
func (r *Registry) Classify(resolved model.ResolvedTransaction) model.Aggregator {
	for _, instr := range resolved.Instructions {
		if int(instr.ProgramIDIndex) >= len(resolved.AccountKeysFull) {
			continue
		}
		program := resolved.AccountKeysFull[instr.ProgramIDIndex]
		if len(instr.Data) < 8 {
			continue
		}
		var prefix Discriminator
		copy(prefix[:], instr.Data[:8])

		if program.Equals(r.ProgramA) {
			if _, ok := r.PrefixesA[prefix]; ok {
				return model.AggregatorA
			}
			continue
		}
		if program.Equals(r.ProgramB) {
			if _, ok := r.PrefixesB[prefix]; ok {
				return model.AggregatorB
			}
			continue
		}
	}
	return model.AggregatorNone
}
