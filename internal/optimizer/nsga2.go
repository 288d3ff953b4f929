package optimizer

import (
	"math/rand"
	"sort"
	"sync"
)

// NSGAIIConfig tunes the NSGA-II sampler.
type NSGAIIConfig struct {
	// PopulationSize is the number of trials per generation.
	PopulationSize int
	// CrossoverProb is the chance a child mixes two parents instead of
	// copying the first.
	CrossoverProb float64
	// SwappingProb is the per-parameter chance of taking the second parent's
	// value during uniform crossover.
	SwappingProb float64
	// MutationProb is the per-parameter chance of a random value. Zero means
	// 1/len(params).
	MutationProb float64
	Seed         int64
}

// NSGAIISampler is a genetic multi-objective sampler: trials of one
// generation are bred from the elite of the trials of earlier generations,
// ranked by non-dominated sort and crowding distance.
type NSGAIISampler struct {
	cfg NSGAIIConfig

	mu      sync.Mutex
	rng     *rand.Rand
	parents map[int][2]map[string]any
}

// NewNSGAIISampler fills unset config fields with defaults (population 50,
// crossover 0.9, swapping 0.5).
func NewNSGAIISampler(cfg NSGAIIConfig) *NSGAIISampler {
	if cfg.PopulationSize < 2 {
		cfg.PopulationSize = 50
	}
	if cfg.CrossoverProb <= 0 {
		cfg.CrossoverProb = 0.9
	}
	if cfg.SwappingProb <= 0 {
		cfg.SwappingProb = 0.5
	}
	return &NSGAIISampler{
		cfg:     cfg,
		rng:     newRand(cfg.Seed),
		parents: make(map[int][2]map[string]any),
	}
}

func (s *NSGAIISampler) SampleCategorical(study *Study, trial *Trial, name string, dist CategoricalDistribution) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair, ok := s.parents[trial.number]
	if !ok {
		pair = s.selectParents(study, trial.number)
		s.parents[trial.number] = pair
	}
	if pair[0] == nil {
		return s.rng.Intn(len(dist.Choices)), nil
	}

	mutation := s.cfg.MutationProb
	if mutation <= 0 {
		mutation = 1.0 / float64(max(1, len(pair[0])))
	}
	if s.rng.Float64() < mutation {
		return s.rng.Intn(len(dist.Choices)), nil
	}

	source := pair[0]
	if pair[1] != nil && s.rng.Float64() < s.cfg.SwappingProb {
		source = pair[1]
	}
	if v, ok := source[name]; ok {
		if idx, ok := dist.Index(v); ok {
			return idx, nil
		}
	}
	return s.rng.Intn(len(dist.Choices)), nil
}

// selectParents runs binary tournaments on the elite population. The first
// generation has no parents and is sampled at random. The second parent is
// nil when no crossover happens.
func (s *NSGAIISampler) selectParents(study *Study, number int) [2]map[string]any {
	generation := number / s.cfg.PopulationSize
	if generation == 0 {
		return [2]map[string]any{}
	}

	var pool []FrozenTrial
	for _, t := range study.CompletedTrials() {
		if t.Number/s.cfg.PopulationSize < generation {
			pool = append(pool, t)
		}
	}
	if len(pool) == 0 {
		return [2]map[string]any{}
	}

	elite, rank, crowd := s.elite(pool, study.directions)
	tournament := func() map[string]any {
		a, b := s.rng.Intn(len(elite)), s.rng.Intn(len(elite))
		if rank[b] < rank[a] || (rank[b] == rank[a] && crowd[b] > crowd[a]) {
			a = b
		}
		return elite[a].Params
	}

	first := tournament()
	if s.rng.Float64() >= s.cfg.CrossoverProb {
		return [2]map[string]any{first, nil}
	}
	return [2]map[string]any{first, tournament()}
}

// elite keeps the best PopulationSize trials by front rank, breaking ties in
// the last admitted front by crowding distance.
func (s *NSGAIISampler) elite(pool []FrozenTrial, directions []Direction) ([]FrozenTrial, []int, []float64) {
	var (
		elite []FrozenTrial
		rank  []int
		crowd []float64
	)
	for r, front := range nonDominatedSort(pool, directions) {
		dist := crowdingDistance(front, len(directions))
		idx := make([]int, len(front))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return dist[idx[a]] > dist[idx[b]] })
		for _, i := range idx {
			if len(elite) == s.cfg.PopulationSize {
				return elite, rank, crowd
			}
			elite = append(elite, front[i])
			rank = append(rank, r)
			crowd = append(crowd, dist[i])
		}
	}
	return elite, rank, crowd
}
