package optimizer

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"
)

// TPEConfig tunes the categorical Tree-structured Parzen Estimator.
type TPEConfig struct {
	// NStartupTrials are sampled at random before the model is used.
	NStartupTrials int
	// NEICandidates is the number of draws from l(x) scored by l(x)/g(x).
	NEICandidates int
	// PriorWeight is the pseudo-count spread uniformly over the choices.
	PriorWeight float64
	// Gamma returns how many of n observations form the "good" group.
	Gamma func(n int) int
	// Seed makes sampling reproducible. Zero picks a random seed.
	Seed int64
}

// TPESampler is a single-objective TPE sampler for categorical parameters.
type TPESampler struct {
	cfg    TPEConfig
	mu     sync.Mutex
	rng    *rand.Rand
	random *RandomSampler
}

// NewTPESampler fills unset config fields with the usual defaults
// (10 startup trials, 24 candidates, gamma = min(ceil(0.1n), 25)).
func NewTPESampler(cfg TPEConfig) *TPESampler {
	if cfg.NStartupTrials <= 0 {
		cfg.NStartupTrials = 10
	}
	if cfg.NEICandidates <= 0 {
		cfg.NEICandidates = 24
	}
	if cfg.PriorWeight <= 0 {
		cfg.PriorWeight = 1.0
	}
	if cfg.Gamma == nil {
		cfg.Gamma = defaultGamma
	}
	seed := resolveSeed(cfg.Seed)
	return &TPESampler{
		cfg:    cfg,
		rng:    newRand(seed),
		random: NewRandomSampler(seed + 1),
	}
}

func defaultGamma(n int) int {
	g := int(math.Ceil(0.1 * float64(n)))
	if g > 25 {
		g = 25
	}
	return g
}

type observation struct {
	choice int
	value  float64
}

func (s *TPESampler) SampleCategorical(study *Study, trial *Trial, name string, dist CategoricalDistribution) (int, error) {
	if study.IsMultiObjective() {
		return s.random.SampleCategorical(study, trial, name, dist)
	}

	// Observations are the completed trials whose value for name is still
	// a valid choice; the choice set of a dynamic parameter can move.
	var obs []observation
	sign := 1.0
	if study.directions[0] == Maximize {
		sign = -1.0
	}
	for _, t := range study.CompletedTrials() {
		v, ok := t.Params[name]
		if !ok {
			continue
		}
		idx, ok := dist.Index(v)
		if !ok {
			continue
		}
		obs = append(obs, observation{choice: idx, value: sign * t.Value()})
	}
	if len(obs) < s.cfg.NStartupTrials {
		return s.random.SampleCategorical(study, trial, name, dist)
	}

	sort.SliceStable(obs, func(i, j int) bool { return obs[i].value < obs[j].value })
	nBelow := s.cfg.Gamma(len(obs))
	if nBelow < 1 {
		nBelow = 1
	}
	if nBelow > len(obs) {
		nBelow = len(obs)
	}

	k := len(dist.Choices)
	below := s.parzen(obs[:nBelow], k)
	above := s.parzen(obs[nBelow:], k)

	s.mu.Lock()
	defer s.mu.Unlock()
	good := distuv.NewCategorical(below, distuvSource{s.rng})
	best, bestScore := 0, math.Inf(-1)
	for i := 0; i < s.cfg.NEICandidates; i++ {
		c := int(good.Rand())
		score := math.Log(below[c]) - math.Log(above[c])
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, nil
}

// parzen returns smoothed choice probabilities for a group of observations.
func (s *TPESampler) parzen(obs []observation, k int) []float64 {
	probs := make([]float64, k)
	prior := s.cfg.PriorWeight / float64(k)
	for i := range probs {
		probs[i] = prior
	}
	for _, o := range obs {
		probs[o.choice]++
	}
	total := s.cfg.PriorWeight + float64(len(obs))
	for i := range probs {
		probs[i] /= total
	}
	return probs
}
