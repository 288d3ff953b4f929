package tuning

import (
	"fmt"

	"github.com/accelbench/cputune/internal/launcher"
	"github.com/accelbench/cputune/internal/mode"
	"github.com/accelbench/cputune/internal/optimizer"
)

// Objective names, in value order.
const (
	ObjectiveLatency    = "Latency"
	ObjectiveThroughput = "Throughput"
)

// Strategy is everything that differs between tuning modes.
type Strategy struct {
	Mode       mode.Mode
	Directions []optimizer.Direction
	Sampler    optimizer.Sampler
	// Objectives names each returned value.
	Objectives []string
	// Values maps a launch result to the objective values.
	Values func(*launcher.ExperimentResult) []float64
}

// StrategyFor returns the directions, sampler and value extraction of m.
func StrategyFor(m mode.Mode, seed int64) (Strategy, error) {
	switch m {
	case mode.Latency:
		return Strategy{
			Mode:       m,
			Directions: []optimizer.Direction{optimizer.Minimize},
			Sampler:    optimizer.NewTPESampler(optimizer.TPEConfig{Seed: seed}),
			Objectives: []string{ObjectiveLatency},
			Values: func(r *launcher.ExperimentResult) []float64 {
				return []float64{r.Latency}
			},
		}, nil
	case mode.Throughput:
		return Strategy{
			Mode:       m,
			Directions: []optimizer.Direction{optimizer.Maximize},
			Sampler:    optimizer.NewTPESampler(optimizer.TPEConfig{Seed: seed}),
			Objectives: []string{ObjectiveThroughput},
			Values: func(r *launcher.ExperimentResult) []float64 {
				return []float64{r.Throughput}
			},
		}, nil
	case mode.Both:
		return Strategy{
			Mode:       m,
			Directions: []optimizer.Direction{optimizer.Minimize, optimizer.Maximize},
			Sampler:    optimizer.NewNSGAIISampler(optimizer.NSGAIIConfig{Seed: seed}),
			Objectives: []string{ObjectiveLatency, ObjectiveThroughput},
			Values: func(r *launcher.ExperimentResult) []float64 {
				return []float64{r.Latency, r.Throughput}
			},
		}, nil
	}
	return Strategy{}, fmt.Errorf("no strategy for tuning mode %q", m)
}

// ModeOf infers the tuning mode of a persisted study from its directions.
func ModeOf(study *optimizer.Study) (mode.Mode, error) {
	dirs := study.Directions()
	switch {
	case len(dirs) == 2:
		return mode.Both, nil
	case len(dirs) == 1 && dirs[0] == optimizer.Minimize:
		return mode.Latency, nil
	case len(dirs) == 1 && dirs[0] == optimizer.Maximize:
		return mode.Throughput, nil
	}
	return "", fmt.Errorf("study %s has unsupported directions %v", study.Name, dirs)
}
