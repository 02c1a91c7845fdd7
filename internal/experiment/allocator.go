// Package experiment implements the A/B experiment engine: the lifecycle
// state machine, weighted variant allocation, push dispatch and the
// engagement metrics that pick a winner.
package experiment

import (
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/seglab/cohort/internal/store"
)

// Allocate partitions device tokens across the experiment's variants in
// proportion to their weights.
//
// The token list is first shuffled by ordering on a salted hash, which
// breaks any correlation with the upstream ordering (directory scans return
// users in registration order, and without the shuffle the earliest
// registrations would always land in the first variant). The same salt
// yields the same shuffle, so re-running an allocation is reproducible.
//
// Every variant except the last takes floor(weight/100 * total) tokens from
// the shuffled list; the last variant takes the remainder, absorbing the
// integer-division loss. The union of all allocations is exactly the input
// set: nothing dropped, nothing duplicated.
func Allocate(tokens []string, variants []store.Variant, salt string) map[string][]string {
	allocations := make(map[string][]string, len(variants))
	if len(variants) == 0 {
		return allocations
	}

	shuffled := shuffle(tokens, salt)
	total := len(shuffled)

	cursor := 0
	for i, v := range variants {
		if i == len(variants)-1 {
			allocations[v.Name] = shuffled[cursor:]
			break
		}
		take := v.Weight * total / 100
		allocations[v.Name] = shuffled[cursor : cursor+take]
		cursor += take
	}
	return allocations
}

// shuffle returns a copy of tokens ordered by the salted hash of each
// token. The hash is uniform, so the resulting order is uniform over
// permutations as far as the allocation cares, while staying deterministic
// for a fixed salt.
func shuffle(tokens []string, salt string) []string {
	type ranked struct {
		token string
		rank  uint64
	}

	rankedTokens := make([]ranked, len(tokens))
	for i, t := range tokens {
		rankedTokens[i] = ranked{token: t, rank: xxhash.Sum64String(salt + ":" + t)}
	}
	slices.SortFunc(rankedTokens, func(a, b ranked) int {
		switch {
		case a.rank < b.rank:
			return -1
		case a.rank > b.rank:
			return 1
		default:
			// Hash collisions fall back to the token itself to keep the
			// order total and deterministic.
			switch {
			case a.token < b.token:
				return -1
			case a.token > b.token:
				return 1
			default:
				return 0
			}
		}
	})

	out := make([]string, len(tokens))
	for i, r := range rankedTokens {
		out[i] = r.token
	}
	return out
}
