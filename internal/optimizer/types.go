// Package optimizer implements a small define-by-run hyperparameter
// optimizer over categorical search spaces: studies, trials, samplers
// (TPE, NSGA-II, random), Pareto fronts and parameter importances.
package optimizer

import (
	"errors"
	"fmt"
	"time"
)

// Direction is the optimization direction of one objective.
type Direction string

const (
	Minimize Direction = "minimize"
	Maximize Direction = "maximize"
)

// better reports whether a is strictly better than b under d.
func (d Direction) better(a, b float64) bool {
	if d == Maximize {
		return a > b
	}
	return a < b
}

// TrialState is the lifecycle state of a trial.
type TrialState string

const (
	TrialRunning  TrialState = "running"
	TrialComplete TrialState = "complete"
	TrialFail     TrialState = "fail"
)

var (
	ErrNoCompletedTrials = errors.New("no completed trials")
	ErrMultiObjective    = errors.New("operation requires a single-objective study")
	ErrChoicesChanged    = errors.New("categorical choices changed within a trial")
)

// CategoricalDistribution is the set of choices a parameter was sampled from.
type CategoricalDistribution struct {
	Choices []any `json:"choices"`
}

// Index returns the position of v among the choices, comparing by printed
// form so that ints survive a JSON round trip as floats.
func (d CategoricalDistribution) Index(v any) (int, bool) {
	key := choiceKey(v)
	for i, c := range d.Choices {
		if choiceKey(c) == key {
			return i, true
		}
	}
	return -1, false
}

func (d CategoricalDistribution) equal(o CategoricalDistribution) bool {
	if len(d.Choices) != len(o.Choices) {
		return false
	}
	for i := range d.Choices {
		if choiceKey(d.Choices[i]) != choiceKey(o.Choices[i]) {
			return false
		}
	}
	return true
}

func choiceKey(v any) string {
	return fmt.Sprintf("%v", v)
}

// FrozenTrial is an immutable record of a finished or running trial.
type FrozenTrial struct {
	Number           int                                `json:"number"`
	State            TrialState                         `json:"state"`
	Values           []float64                          `json:"values,omitempty"`
	Params           map[string]any                     `json:"params"`
	Distributions    map[string]CategoricalDistribution `json:"distributions"`
	UserAttrs        map[string]any                     `json:"user_attrs,omitempty"`
	Error            string                             `json:"error,omitempty"`
	DatetimeStart    time.Time                          `json:"datetime_start"`
	DatetimeComplete time.Time                          `json:"datetime_complete,omitempty"`
}

// Value returns the first objective value, or zero for trials without
// values.
func (t FrozenTrial) Value() float64 {
	if len(t.Values) == 0 {
		return 0
	}
	return t.Values[0]
}

// Duration is the wall time of the trial.
func (t FrozenTrial) Duration() time.Duration {
	if t.DatetimeComplete.IsZero() {
		return 0
	}
	return t.DatetimeComplete.Sub(t.DatetimeStart)
}

// ProgressUpdate is sent after every trial when a progress channel is set.
type ProgressUpdate struct {
	Trial       int
	TotalTrials int
	State       TrialState
	Values      []float64
	Params      map[string]any
	Elapsed     time.Duration
}
