package tuning

import (
	"context"
	"fmt"
	"sync"

	"github.com/accelbench/cputune/internal/launcher"
	"github.com/accelbench/cputune/internal/space"
)

// fakeTrial records suggestions. By default it picks the last choice.
type fakeTrial struct {
	number    int
	pick      func(name string, choices []any) int
	suggested map[string][]any
	params    map[string]any
	attrs     map[string]any
}

func newFakeTrial() *fakeTrial {
	return &fakeTrial{
		suggested: make(map[string][]any),
		params:    make(map[string]any),
		attrs:     make(map[string]any),
	}
}

func (f *fakeTrial) Number() int { return f.number }

func (f *fakeTrial) SuggestCategorical(name string, choices []any) (any, error) {
	if len(choices) == 0 {
		return nil, fmt.Errorf("suggest %q: empty choice set", name)
	}
	if prev, ok := f.suggested[name]; ok {
		if fmt.Sprint(prev) != fmt.Sprint(choices) {
			return nil, fmt.Errorf("suggest %q: choices changed", name)
		}
		return f.params[name], nil
	}
	idx := len(choices) - 1
	if f.pick != nil {
		idx = f.pick(name, choices)
	}
	f.suggested[name] = choices
	f.params[name] = choices[idx]
	return choices[idx], nil
}

func (f *fakeTrial) SetUserAttr(key string, value any) { f.attrs[key] = value }

// fakeLauncher records every launch and reports a result derived from the
// layout: more cores per instance lowers latency, more total cores raises
// throughput.
type fakeLauncher struct {
	mu      sync.Mutex
	configs []launcher.LaunchConfig
	mains   []space.Parameters
	failOn  map[int]bool
	calls   int
}

func (f *fakeLauncher) LaunchAndWait(_ context.Context, cfg launcher.LaunchConfig, main space.Parameters) (*launcher.ExperimentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	f.configs = append(f.configs, cfg)
	f.mains = append(f.mains, main)
	if f.failOn[call] {
		return nil, fmt.Errorf("instance 0: exit status 1")
	}
	latency := 100 / float64(cfg.CoresPerInstance)
	if cfg.Allocator == "jemalloc" {
		latency *= 0.9
	}
	return &launcher.ExperimentResult{
		RunID:      fmt.Sprintf("run-%d", call),
		Latency:    latency,
		Throughput: float64(cfg.TotalCores()) * 10,
	}, nil
}
