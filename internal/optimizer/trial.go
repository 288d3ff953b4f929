package optimizer

import (
	"fmt"
	"time"
)

// Trial is the handle passed to an objective function. Parameters are
// sampled lazily through SuggestCategorical.
type Trial struct {
	study     *Study
	number    int
	start     time.Time
	params    map[string]any
	dists     map[string]CategoricalDistribution
	userAttrs map[string]any
}

func newTrial(s *Study, number int) *Trial {
	return &Trial{
		study:     s,
		number:    number,
		start:     time.Now(),
		params:    make(map[string]any),
		dists:     make(map[string]CategoricalDistribution),
		userAttrs: make(map[string]any),
	}
}

// Number is the zero-based index of the trial within its study.
func (t *Trial) Number() int { return t.number }

// SuggestCategorical returns one of choices for name. A repeated call with
// the same name returns the cached choice; the choice set may differ across
// trials but not within one.
func (t *Trial) SuggestCategorical(name string, choices []any) (any, error) {
	if len(choices) == 0 {
		return nil, fmt.Errorf("suggest %q: empty choice set", name)
	}
	dist := CategoricalDistribution{Choices: append([]any(nil), choices...)}
	if prev, ok := t.dists[name]; ok {
		if !prev.equal(dist) {
			return nil, fmt.Errorf("suggest %q: %w", name, ErrChoicesChanged)
		}
		return t.params[name], nil
	}

	idx, err := t.study.sampleCategorical(t, name, dist)
	if err != nil {
		return nil, fmt.Errorf("suggest %q: %w", name, err)
	}
	if idx < 0 || idx >= len(dist.Choices) {
		return nil, fmt.Errorf("suggest %q: sampler returned index %d of %d", name, idx, len(dist.Choices))
	}
	t.params[name] = dist.Choices[idx]
	t.dists[name] = dist
	return dist.Choices[idx], nil
}

// SetUserAttr attaches a free-form attribute to the trial.
func (t *Trial) SetUserAttr(key string, value any) {
	t.userAttrs[key] = value
}

// Params returns a copy of the parameters sampled so far.
func (t *Trial) Params() map[string]any {
	out := make(map[string]any, len(t.params))
	for k, v := range t.params {
		out[k] = v
	}
	return out
}

func (t *Trial) freeze(state TrialState, values []float64, err error) FrozenTrial {
	ft := FrozenTrial{
		Number:           t.number,
		State:            state,
		Values:           values,
		Params:           t.Params(),
		Distributions:    make(map[string]CategoricalDistribution, len(t.dists)),
		UserAttrs:        make(map[string]any, len(t.userAttrs)),
		DatetimeStart:    t.start,
		DatetimeComplete: time.Now(),
	}
	for k, v := range t.dists {
		ft.Distributions[k] = v
	}
	for k, v := range t.userAttrs {
		ft.UserAttrs[k] = v
	}
	if err != nil {
		ft.Error = err.Error()
	}
	return ft
}
