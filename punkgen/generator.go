// Package punkgen derives punk trait sets deterministically from seed
// strings. The same seed always yields a bit-identical payload and punk ID,
// which lets mint tooling and recovery flows re-derive a collection without
// any stored randomness.
package punkgen

import (
	"crypto/sha256"
	"fmt"

	"github.com/arkpunks/punkd/punk"
)

const (
	// lcgMultiplier, lcgIncrement are the constants of the 32-bit linear
	// congruential generator that drives trait selection. These are
	// protocol constants: the exact draw sequence is what makes seeds
	// reproducible across implementations.
	lcgMultiplier = 1103515245
	lcgIncrement  = 12345

	// maxAttrRetries bounds rejection sampling when drawing distinct
	// attribute indices.
	maxAttrRetries = 100

	// minAttrs and maxAttrs bound the number of attributes drawn per
	// punk.
	minAttrs = 2
	maxAttrs = 5
)

// Punk is the result of a deterministic generation run.
type Punk struct {
	// Seed is the input seed the punk was derived from.
	Seed string

	// Metadata is the decoded trait state.
	Metadata *punk.Metadata

	// Payload is the canonical six-byte encoding of the traits.
	Payload punk.Payload

	// ID is the punk's identity, SHA-256 over the payload.
	ID punk.ID
}

// prng is a 32-bit linear congruential generator seeded from the SHA-256
// digest of the seed string.
type prng struct {
	state uint32
}

// newPRNG folds the seed digest into the 32-bit LCG state. A zero state
// would make the generator degenerate, so it's mapped to one.
func newPRNG(seed string) *prng {
	digest := sha256.Sum256([]byte(seed))

	var state uint32
	for _, b := range digest {
		state = state*33 + uint32(b)
	}
	if state == 0 {
		state = 1
	}

	return &prng{state: state}
}

// next advances the generator and returns the new 32-bit state.
func (p *prng) next() uint32 {
	p.state = p.state*lcgMultiplier + lcgIncrement
	return p.state
}

// float64 returns a draw in [0, 1).
func (p *prng) float64() float64 {
	return float64(p.next()) / (1 << 32)
}

// intn returns a draw in [0, n).
func (p *prng) intn(n int) int {
	return int(p.float64() * float64(n))
}

// typeForRoll maps a [0, 1) draw onto a punk type according to the fixed
// rarity thresholds.
func typeForRoll(roll float64) punk.Type {
	switch {
	case roll < 0.01:
		return punk.TypeAlien
	case roll < 0.03:
		return punk.TypeApe
	case roll < 0.06:
		return punk.TypeZombie
	case roll < 0.53:
		return punk.TypeMale
	default:
		return punk.TypeFemale
	}
}

// Generate derives a punk from the given seed string. Identical seeds
// produce bit-identical results, including the punk ID.
func Generate(seed string) (*Punk, error) {
	rng := newPRNG(seed)

	punkType := typeForRoll(rng.float64())

	background := punk.Background(rng.intn(punk.NumBackgrounds()))

	table, err := punk.AttributeTable(punkType)
	if err != nil {
		return nil, err
	}

	numAttrs := minAttrs + rng.intn(maxAttrs-minAttrs+1)

	// Draw distinct attribute indices by rejection sampling. If a draw
	// keeps colliding we stop with the set obtained so far rather than
	// looping forever on a small table.
	drawn := make(map[uint8]struct{}, numAttrs)
	attrs := make([]uint8, 0, numAttrs)
	for i := 0; i < numAttrs; i++ {
		var (
			idx   uint8
			found bool
		)
		for retry := 0; retry < maxAttrRetries; retry++ {
			idx = uint8(rng.intn(len(table)))
			if _, dup := drawn[idx]; !dup {
				found = true
				break
			}
		}
		if !found {
			break
		}

		drawn[idx] = struct{}{}
		attrs = append(attrs, idx)
	}

	meta := &punk.Metadata{
		Type:       punkType,
		Background: background,
		Attributes: attrs,
	}

	payload, err := punk.Encode(meta)
	if err != nil {
		return nil, fmt.Errorf("punkgen: encoding %q: %w", seed, err)
	}

	// Re-decode so the returned metadata carries the canonical attribute
	// order.
	canonical, err := punk.DecodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("punkgen: decoding %q: %w", seed, err)
	}

	return &Punk{
		Seed:     seed,
		Metadata: canonical,
		Payload:  payload,
		ID:       payload.ID(),
	}, nil
}

// Batch derives n punks from seeds of the form "<prefix>-<i>". Duplicate
// punk IDs within the batch are rejected, since they'd collide in the
// registry.
func Batch(prefix string, n int) ([]*Punk, error) {
	if n <= 0 {
		return nil, fmt.Errorf("punkgen: invalid batch size %d", n)
	}

	seen := make(map[punk.ID]string, n)
	out := make([]*Punk, 0, n)
	for i := 0; i < n; i++ {
		seed := fmt.Sprintf("%s-%d", prefix, i)
		p, err := Generate(seed)
		if err != nil {
			return nil, err
		}

		if prev, ok := seen[p.ID]; ok {
			return nil, fmt.Errorf("punkgen: seed %q collides "+
				"with %q on punk %v", seed, prev, p.ID)
		}
		seen[p.ID] = seed

		out = append(out, p)
	}

	return out, nil
}
