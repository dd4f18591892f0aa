// Package rng provides the per-match seeded deterministic RNG stream (C2).
// Two streams constructed with the same seed and driven by the same
// sequence of calls always produce the same outputs, which is what makes
// shop offers and battle simulation reproducible.
package rng

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand"

	"github.com/towerlords/matchserver/internal/catalog"
)

// Stream is an explicit, owned source of randomness for exactly one match.
// Unlike the reference server's direct calls to the global math/rand
// source (fine for cosmetic NPC spawn jitter), a match's RNG must be an
// explicit value the match owns and persists by seed, since determinism is
// an invariant here, not a nicety.
type Stream struct {
	seed int64
	r    *rand.Rand
}

// New creates a stream seeded with seed.
func New(seed int64) *Stream {
	return &Stream{seed: seed, r: rand.New(rand.NewSource(seed))}
}

// Seed returns the seed this stream was constructed with.
func (s *Stream) Seed() int64 { return s.seed }

// NewMatchSeed draws a fresh match seed from the OS CSPRNG. Match outcomes
// only need to be deterministic given a seed, not unguessable, but there's
// no reason to seed from anything weaker than crypto/rand when it's this
// cheap — only falls back to a fixed seed if the OS source is unavailable,
// which should never happen in practice.
func NewMatchSeed() int64 {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return 1
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

// Intn returns a uniform integer in [0, n).
func (s *Stream) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return s.r.Intn(n)
}

// Shuffle permutes a slice of n elements in place using swap(i, j).
func (s *Stream) Shuffle(n int, swap func(i, j int)) {
	s.r.Shuffle(n, swap)
}

// ShuffleStrings returns a new, shuffled copy of ids.
func (s *Stream) ShuffleStrings(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	s.r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// RarityWeights assigns an integer weight to each rarity bucket; weights
// need not sum to any particular total, only be non-negative.
type RarityWeights map[catalog.Rarity]int

// WeightsForLevel returns the §4.2 "wider rarer buckets with level" table
// this module settles on: base weights at level 1,
// shifting 3 points from common into the rarer buckets per level above 1,
// clamped so common never goes negative.
func WeightsForLevel(towerLevel int) RarityWeights {
	w := RarityWeights{
		catalog.RarityCommon:    60,
		catalog.RarityUncommon:  25,
		catalog.RarityRare:      10,
		catalog.RarityEpic:      4,
		catalog.RarityLegendary: 1,
	}
	shift := (towerLevel - 1) * 3
	if shift < 0 {
		shift = 0
	}
	if shift > w[catalog.RarityCommon] {
		shift = w[catalog.RarityCommon]
	}
	w[catalog.RarityCommon] -= shift
	// Distribute the shifted weight across the rarer buckets: half to rare,
	// a third to epic, the remainder to legendary.
	w[catalog.RarityRare] += shift / 2
	w[catalog.RarityEpic] += shift / 3
	w[catalog.RarityLegendary] += shift - shift/2 - shift/3
	return w
}

// DrawRarity picks one rarity bucket according to w.
func (s *Stream) DrawRarity(w RarityWeights) catalog.Rarity {
	order := []catalog.Rarity{
		catalog.RarityCommon, catalog.RarityUncommon, catalog.RarityRare,
		catalog.RarityEpic, catalog.RarityLegendary,
	}
	total := 0
	for _, r := range order {
		total += w[r]
	}
	if total <= 0 {
		return catalog.RarityCommon
	}
	roll := s.Intn(total)
	acc := 0
	for _, r := range order {
		acc += w[r]
		if roll < acc {
			return r
		}
	}
	return order[len(order)-1]
}

// RollShop draws shopSize collectible card ids from cat, weighted by
// towerLevel's rarity table. Each offer is drawn independently, so the same
// card id can appear more than once. If the drawn bucket is empty the draw
// falls back to the rarest other non-empty bucket, so shops are short only
// when the catalog has no collectible card at all.
func (s *Stream) RollShop(cat *catalog.Catalog, towerLevel, shopSize int) []string {
	weights := WeightsForLevel(towerLevel)
	order := []catalog.Rarity{
		catalog.RarityCommon, catalog.RarityUncommon, catalog.RarityRare,
		catalog.RarityEpic, catalog.RarityLegendary,
	}
	offers := make([]string, 0, shopSize)
	for len(offers) < shopSize {
		r := s.DrawRarity(weights)
		pool := cat.ListByRarity(r)
		if len(pool) == 0 {
			// fall back to the rarest other non-empty bucket
			found := false
			for i := len(order) - 1; i >= 0; i-- {
				if order[i] == r {
					continue
				}
				if p := cat.ListByRarity(order[i]); len(p) > 0 {
					pool = p
					found = true
					break
				}
			}
			if !found {
				break // catalog has nothing collectible at all
			}
		}
		pick := pool[s.Intn(len(pool))]
		offers = append(offers, pick.CardID)
	}
	return offers
}
