package optimizer

import (
	"math/rand"
	"sync"
)

// Sampler picks a choice index for a categorical parameter of a running
// trial. Implementations may look at the study's completed trials.
type Sampler interface {
	SampleCategorical(study *Study, trial *Trial, name string, dist CategoricalDistribution) (int, error)
}

// resolveSeed returns seed, or a random non-zero seed when seed is zero.
func resolveSeed(seed int64) int64 {
	for seed == 0 {
		seed = rand.Int63()
	}
	return seed
}

// newRand returns a seeded source; a zero seed picks a random one.
func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(resolveSeed(seed)))
}

// distuvSource lets gonum distributions draw from a math/rand generator.
type distuvSource struct{ rng *rand.Rand }

func (s distuvSource) Uint64() uint64 { return s.rng.Uint64() }
func (s distuvSource) Seed(seed uint64) { s.rng.Seed(int64(seed)) }

// RandomSampler picks uniformly.
type RandomSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSampler returns a uniform sampler. A zero seed picks a random one.
func NewRandomSampler(seed int64) *RandomSampler {
	return &RandomSampler{rng: newRand(seed)}
}

func (r *RandomSampler) SampleCategorical(_ *Study, _ *Trial, _ string, dist CategoricalDistribution) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(len(dist.Choices)), nil
}
