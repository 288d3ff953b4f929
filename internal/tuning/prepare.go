package tuning

import (
	"github.com/accelbench/cputune/internal/space"
)

// Trial is the part of an optimizer trial the objective uses.
type Trial interface {
	Number() int
	SuggestCategorical(name string, choices []any) (any, error)
	SetUserAttr(key string, value any)
}

// PrepareParameter resolves a declarative value for one trial: scalars pass
// through, a single candidate is used as is and larger candidate sets are
// sampled under key.
func PrepareParameter(trial Trial, key string, value space.Value) (any, error) {
	if !value.IsCandidateSet() {
		return value.Scalar(), nil
	}
	choices := value.Candidates()
	if len(choices) == 1 {
		return choices[0], nil
	}
	return trial.SuggestCategorical(key, choices)
}

// specialize prepares every caller-supplied launcher parameter for trial.
// The result is a fresh map; params is not modified.
func specialize(trial Trial, params space.Parameters) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for _, key := range params.Keys() {
		v, err := PrepareParameter(trial, key, params[key])
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}
