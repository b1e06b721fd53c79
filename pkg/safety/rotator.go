package safety

import (
	"math/rand/v2"
	"sync"
)

// DefaultRotatorKeys bounds how many keys a Rotator remembers.
const DefaultRotatorKeys = 10000

// Rotator picks among message variants, preferring the one least similar to
// the message last sent under the same key.
type Rotator struct {
	mu      sync.Mutex
	rng     *rand.Rand
	last    map[string]string
	maxKeys int
}

func NewRotator(rng *rand.Rand) *Rotator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &Rotator{rng: rng, last: make(map[string]string), maxKeys: DefaultRotatorKeys}
}

// WithMaxKeys overrides how many keys are remembered.
func (r *Rotator) WithMaxKeys(maxKeys int) *Rotator {
	if maxKeys > 0 {
		r.maxKeys = maxKeys
	}

	return r
}

// Pick chooses a variant for key without remembering it. Ties are broken at random.
func (r *Rotator) Pick(key string, variants []string) string {
	if len(variants) == 0 {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous, seen := r.last[key]

	var candidates []string

	if !seen || len(variants) == 1 {
		candidates = variants
	} else {
		best := 2.0

		for _, variant := range variants {
			score := Similarity(previous, variant)

			switch {
			case score < best:
				best = score
				candidates = []string{variant}
			case score == best:
				candidates = append(candidates, variant)
			}
		}
	}

	return candidates[r.rng.IntN(len(candidates))]
}

// Remember records variant as the message last sent under key. When the
// rotator is full an arbitrary key is dropped first.
func (r *Rotator) Remember(key, variant string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.last[key]; !ok && len(r.last) >= r.maxKeys {
		for evicted := range r.last {
			delete(r.last, evicted)

			break
		}
	}

	r.last[key] = variant
}

// Forget drops the remembered message for key.
func (r *Rotator) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.last, key)
}

// Len returns the number of remembered keys.
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.last)
}
