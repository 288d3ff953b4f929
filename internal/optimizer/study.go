package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// ObjectiveFunc evaluates one trial and returns one value per direction.
type ObjectiveFunc func(ctx context.Context, trial *Trial) ([]float64, error)

// Study is a sequence of trials optimizing one or more objectives.
type Study struct {
	Name      string
	CreatedAt time.Time

	directions []Direction
	sampler    Sampler
	progress   chan<- ProgressUpdate

	mu     sync.RWMutex
	trials []FrozenTrial
}

// Option configures a Study.
type Option func(*Study)

// WithSampler overrides the default sampler (TPE for one objective, NSGA-II
// for several).
func WithSampler(s Sampler) Option {
	return func(st *Study) { st.sampler = s }
}

// WithProgress sends a ProgressUpdate after every trial. Sends never block;
// updates are dropped when the channel is full.
func WithProgress(ch chan<- ProgressUpdate) Option {
	return func(st *Study) { st.progress = ch }
}

// CreateStudy returns an empty study.
func CreateStudy(name string, directions []Direction, opts ...Option) (*Study, error) {
	if len(directions) == 0 {
		return nil, errors.New("create study: at least one direction is required")
	}
	for _, d := range directions {
		if d != Minimize && d != Maximize {
			return nil, fmt.Errorf("create study: unknown direction %q", d)
		}
	}
	s := &Study{
		Name:       name,
		CreatedAt:  time.Now(),
		directions: append([]Direction(nil), directions...),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sampler == nil {
		if len(directions) == 1 {
			s.sampler = NewTPESampler(TPEConfig{})
		} else {
			s.sampler = NewNSGAIISampler(NSGAIIConfig{})
		}
	}
	return s, nil
}

// Directions returns the objective directions.
func (s *Study) Directions() []Direction {
	return append([]Direction(nil), s.directions...)
}

// IsMultiObjective reports whether the study has more than one objective.
func (s *Study) IsMultiObjective() bool { return len(s.directions) > 1 }

// Optimize runs nTrials trials sequentially. A trial whose objective fails
// is recorded as failed and the loop continues; cancellation of ctx stops
// the loop and is returned.
func (s *Study) Optimize(ctx context.Context, objective ObjectiveFunc, nTrials int) error {
	if nTrials < 1 {
		return fmt.Errorf("optimize: n_trials must be positive, got %d", nTrials)
	}
	started := time.Now()
	for i := 0; i < nTrials; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		trial := newTrial(s, len(s.trials))
		s.trials = append(s.trials, FrozenTrial{
			Number:        trial.number,
			State:         TrialRunning,
			DatetimeStart: trial.start,
		})
		s.mu.Unlock()

		values, err := objective(ctx, trial)
		if err == nil {
			err = s.checkValues(values)
		}

		var ft FrozenTrial
		if err != nil {
			ft = trial.freeze(TrialFail, nil, err)
			klog.ErrorS(err, "Trial failed", "study", s.Name, "trial", trial.number)
		} else {
			ft = trial.freeze(TrialComplete, append([]float64(nil), values...), nil)
			klog.V(2).InfoS("Trial finished", "study", s.Name, "trial", trial.number,
				"values", values, "params", ft.Params)
		}

		s.mu.Lock()
		s.trials[trial.number] = ft
		s.mu.Unlock()

		s.sendProgress(ft, nTrials, time.Since(started))

		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (s *Study) checkValues(values []float64) error {
	if len(values) != len(s.directions) {
		return fmt.Errorf("objective returned %d values for %d directions", len(values), len(s.directions))
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("objective value %d is not finite: %v", i, v)
		}
	}
	return nil
}

func (s *Study) sendProgress(ft FrozenTrial, total int, elapsed time.Duration) {
	if s.progress == nil {
		return
	}
	update := ProgressUpdate{
		Trial:       ft.Number,
		TotalTrials: total,
		State:       ft.State,
		Values:      ft.Values,
		Params:      ft.Params,
		Elapsed:     elapsed,
	}
	select {
	case s.progress <- update:
	default:
	}
}

func (s *Study) sampleCategorical(t *Trial, name string, dist CategoricalDistribution) (int, error) {
	if len(dist.Choices) == 1 {
		return 0, nil
	}
	return s.sampler.SampleCategorical(s, t, name, dist)
}

// AddTrial appends a finished trial, as when restoring a persisted study.
func (s *Study) AddTrial(ft FrozenTrial) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ft.Number = len(s.trials)
	s.trials = append(s.trials, ft)
}

// Trials returns a snapshot of all trials.
func (s *Study) Trials() []FrozenTrial {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]FrozenTrial(nil), s.trials...)
}

// CompletedTrials returns the trials in state complete.
func (s *Study) CompletedTrials() []FrozenTrial {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []FrozenTrial
	for _, t := range s.trials {
		if t.State == TrialComplete {
			out = append(out, t)
		}
	}
	return out
}

// BestTrial returns the best completed trial of a single-objective study.
// Ties keep the earliest trial.
func (s *Study) BestTrial() (FrozenTrial, error) {
	if s.IsMultiObjective() {
		return FrozenTrial{}, ErrMultiObjective
	}
	completed := s.CompletedTrials()
	if len(completed) == 0 {
		return FrozenTrial{}, ErrNoCompletedTrials
	}
	best := completed[0]
	for _, t := range completed[1:] {
		if s.directions[0].better(t.Value(), best.Value()) {
			best = t
		}
	}
	return best, nil
}

// BestValue is BestTrial().Value().
func (s *Study) BestValue() (float64, error) {
	best, err := s.BestTrial()
	if err != nil {
		return 0, err
	}
	return best.Value(), nil
}

// BestParams is BestTrial().Params.
func (s *Study) BestParams() (map[string]any, error) {
	best, err := s.BestTrial()
	if err != nil {
		return nil, err
	}
	return best.Params, nil
}

// BestTrials returns the Pareto-optimal completed trials. For a
// single-objective study every trial tied with the best value is returned.
func (s *Study) BestTrials() ([]FrozenTrial, error) {
	completed := s.CompletedTrials()
	if len(completed) == 0 {
		return nil, ErrNoCompletedTrials
	}
	return ParetoFront(completed, s.directions), nil
}
