package tuning

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/accelbench/cputune/internal/candidates"
	"github.com/accelbench/cputune/internal/launcher"
	"github.com/accelbench/cputune/internal/mode"
	"github.com/accelbench/cputune/internal/space"
	"github.com/accelbench/cputune/internal/topology"
)

// Objective evaluates one trial: it assembles a launch configuration from
// the caller's overrides and sampled defaults, runs the workload and maps
// the result to objective values.
type Objective struct {
	Mode     mode.Mode
	CPU      topology.Provider
	Launcher launcher.Launcher
	Values   func(*launcher.ExperimentResult) []float64

	LauncherParameters space.Parameters
	MainParameters     space.Parameters
}

// Evaluate runs one trial.
func (o *Objective) Evaluate(ctx context.Context, trial Trial) ([]float64, error) {
	overrides, err := specialize(trial, o.LauncherParameters)
	if err != nil {
		return nil, fmt.Errorf("prepare launcher parameters: %w", err)
	}
	cfg, main, err := o.Assemble(ctx, trial, overrides, o.MainParameters)
	if err != nil {
		return nil, err
	}

	klog.InfoS("Running trial", "trial", trial.Number(), "mode", o.Mode,
		"config", cfg.Parameters(), "batchSize", main[KeyBatchSize].String())
	res, err := o.Launcher.LaunchAndWait(ctx, cfg, main)
	if err != nil {
		return nil, err
	}
	trial.SetUserAttr("run_id", res.RunID)
	trial.SetUserAttr("latency_ms", res.Latency)
	trial.SetUserAttr("throughput", res.Throughput)
	return o.Values(res), nil
}

// Assemble builds the launch configuration and the per-trial main
// parameters. Keys present in overrides are never sampled.
func (o *Objective) Assemble(ctx context.Context, trial Trial, overrides map[string]any, main space.Parameters) (launcher.LaunchConfig, space.Parameters, error) {
	cpu, err := o.CPU.Info(ctx)
	if err != nil {
		return launcher.LaunchConfig{}, nil, fmt.Errorf("query cpu info: %w", err)
	}
	batch, ok := main[KeyBatchSize]
	if !ok {
		return launcher.LaunchConfig{}, nil, ErrMissingBatchSize
	}

	params := map[string]any{launcher.KeyInstances: 1}
	if _, set := overrides[launcher.KeyInstances]; !set {
		counts, err := candidates.Instances(batch, o.Mode, cpu)
		if err != nil {
			return launcher.LaunchConfig{}, nil, fmt.Errorf("instance candidates: %w", err)
		}
		v, err := PrepareParameter(trial, launcher.KeyInstances, space.OneOf(intsToAny(counts)...))
		if err != nil {
			return launcher.LaunchConfig{}, nil, err
		}
		params[launcher.KeyInstances] = v
	}

	for _, p := range []struct {
		key     string
		choices []any
	}{
		{launcher.KeyOpenMP, launcher.OpenMPRuntimes},
		{launcher.KeyAllocator, launcher.Allocators},
		{launcher.KeyHugePages, launcher.HugePages},
	} {
		if _, set := overrides[p.key]; set {
			continue
		}
		v, err := trial.SuggestCategorical(p.key, p.choices)
		if err != nil {
			return launcher.LaunchConfig{}, nil, err
		}
		params[p.key] = v
	}

	for k, v := range overrides {
		params[k] = v
	}

	instances, ok := space.AsInt(params[launcher.KeyInstances])
	if !ok || instances < 1 {
		return launcher.LaunchConfig{}, nil, fmt.Errorf("instances must be a positive integer, got %v", params[launcher.KeyInstances])
	}
	if instances > cpu.PhysicalCores {
		klog.V(2).InfoS("Clamping instances to physical cores", "requested", instances, "cores", cpu.PhysicalCores)
		instances = cpu.PhysicalCores
	}
	params[launcher.KeyInstances] = instances

	if _, set := overrides[launcher.KeyCores]; !set {
		cores, err := candidates.Cores(space.Fixed(1), o.Mode, cpu, instances)
		if err != nil {
			return launcher.LaunchConfig{}, nil, fmt.Errorf("core candidates: %w", err)
		}
		v, err := PrepareParameter(trial, launcher.KeyCores, space.OneOf(intsToAny(cores)...))
		if err != nil {
			return launcher.LaunchConfig{}, nil, err
		}
		params[launcher.KeyCores] = v
	}

	trialMain := main.Clone()
	if batch.IsCandidateSet() && len(batch.Candidates()) > 1 {
		var kept []any
		for _, c := range batch.Candidates() {
			if n, ok := space.AsInt(c); ok && n%instances == 0 {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			return launcher.LaunchConfig{}, nil, fmt.Errorf("no batch size in %s is divisible by %d instances", batch, instances)
		}
		trialMain[KeyBatchSize] = space.OneOf(kept...)
	}

	cfg, err := launcher.ConfigFromParameters(params)
	if err != nil {
		return launcher.LaunchConfig{}, nil, fmt.Errorf("assemble launch config: %w", err)
	}
	trial.SetUserAttr("config", cfg.Parameters())
	return cfg, trialMain, nil
}

func intsToAny(ints []int) []any {
	out := make([]any, len(ints))
	for i, v := range ints {
		out[i] = v
	}
	return out
}
