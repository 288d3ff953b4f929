package optimizer

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Target extracts the value whose variance is explained.
type Target func(FrozenTrial) float64

// ObjectiveValue targets objective i.
func ObjectiveValue(i int) Target {
	return func(t FrozenTrial) float64 {
		if i >= len(t.Values) {
			return math.NaN()
		}
		return t.Values[i]
	}
}

// Importance is the normalized share of objective variance attributed to one
// parameter.
type Importance struct {
	Param string  `json:"param"`
	Score float64 `json:"score"`
}

// Importances are ordered by descending score.
type Importances []Importance

// Get returns the score of param, or zero.
func (im Importances) Get(param string) float64 {
	for _, i := range im {
		if i.Param == param {
			return i.Score
		}
	}
	return 0
}

// Params returns the parameter names in importance order.
func (im Importances) Params() []string {
	out := make([]string, len(im))
	for i, v := range im {
		out[i] = v.Param
	}
	return out
}

// ParamImportances scores every parameter present in all completed trials
// by the fraction of target variance explained by grouping on that
// parameter (first-order eta squared). Scores are normalized to sum to one
// unless the target does not vary, in which case they are all zero.
func ParamImportances(study *Study, target Target) (Importances, error) {
	var trials []FrozenTrial
	for _, t := range study.CompletedTrials() {
		if y := target(t); !math.IsNaN(y) && !math.IsInf(y, 0) {
			trials = append(trials, t)
		}
	}
	if len(trials) == 0 {
		return nil, ErrNoCompletedTrials
	}

	names := commonParams(trials)
	ys := make([]float64, len(trials))
	for i, t := range trials {
		ys[i] = target(t)
	}
	mean := stat.Mean(ys, nil)
	total := 0.0
	for _, y := range ys {
		total += (y - mean) * (y - mean)
	}

	scores := make([]float64, len(names))
	if total > 0 {
		for k, name := range names {
			groups := make(map[string][]float64)
			for i, t := range trials {
				key := choiceKey(t.Params[name])
				groups[key] = append(groups[key], ys[i])
			}
			between := 0.0
			for _, g := range groups {
				d := stat.Mean(g, nil) - mean
				between += float64(len(g)) * d * d
			}
			scores[k] = between / total
		}
		if sum := floats.Sum(scores); sum > 0 {
			floats.Scale(1/sum, scores)
		}
	}

	out := make(Importances, len(names))
	for i, name := range names {
		out[i] = Importance{Param: name, Score: scores[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// commonParams returns the sorted names sampled in every trial.
func commonParams(trials []FrozenTrial) []string {
	counts := make(map[string]int)
	for _, t := range trials {
		for name := range t.Params {
			counts[name]++
		}
	}
	var names []string
	for name, c := range counts {
		if c == len(trials) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
