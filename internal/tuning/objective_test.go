package tuning

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/accelbench/cputune/internal/launcher"
	"github.com/accelbench/cputune/internal/mode"
	"github.com/accelbench/cputune/internal/space"
	"github.com/accelbench/cputune/internal/topology"
)

func TestPrepareParameter(t *testing.T) {
	trial := newFakeTrial()

	v, err := PrepareParameter(trial, "allocator", space.Fixed("jemalloc"))
	if err != nil || v != "jemalloc" {
		t.Errorf("scalar: got %v, %v", v, err)
	}
	v, err = PrepareParameter(trial, "openmp", space.OneOf("iomp"))
	if err != nil || v != "iomp" {
		t.Errorf("singleton: got %v, %v", v, err)
	}
	if len(trial.suggested) != 0 {
		t.Fatalf("scalar and singleton must not be suggested: %v", trial.suggested)
	}

	v, err = PrepareParameter(trial, "instances", space.OneOf(1, 2, 4))
	if err != nil {
		t.Fatal(err)
	}
	if v != 4 {
		t.Errorf("candidate set: got %v, want 4", v)
	}
	if _, ok := trial.suggested["instances"]; !ok {
		t.Error("candidate set should be suggested under its key")
	}

	if _, err := PrepareParameter(trial, "empty", space.OneOf()); err == nil {
		t.Error("expected the suggestion to reject an empty candidate set")
	}
}

func newObjective(m mode.Mode, cores int, l launcher.Launcher) *Objective {
	s, _ := StrategyFor(m, 1)
	return &Objective{
		Mode:     m,
		CPU:      topology.Static{PhysicalCores: cores},
		Launcher: l,
		Values:   s.Values,
	}
}

func TestAssemble_OverridesAreNotSampled(t *testing.T) {
	o := newObjective(mode.Latency, 16, &fakeLauncher{})
	trial := newFakeTrial()
	overrides := map[string]any{
		"instances": 2, "openmp": "iomp", "allocator": "jemalloc", "huge_pages": "off", "nb_cores": 4,
		"precision": "bf16",
	}
	cfg, _, err := o.Assemble(context.Background(), trial, overrides, space.Parameters{KeyBatchSize: space.Fixed(8)})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(trial.suggested) != 0 {
		t.Errorf("overridden keys were sampled: %v", trial.suggested)
	}
	want := launcher.LaunchConfig{
		Instances: 2, CoresPerInstance: 4, OpenMP: "iomp", Allocator: "jemalloc", HugePages: false,
		Extra: map[string]any{"precision": "bf16"},
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("cfg = %+v, want %+v", cfg, want)
	}
	if got := trial.attrs["config"].(map[string]any)["allocator"]; got != "jemalloc" {
		t.Errorf("config attr allocator = %v", got)
	}
}

func TestAssemble_SamplesDefaults(t *testing.T) {
	o := newObjective(mode.Latency, 8, &fakeLauncher{})
	trial := newFakeTrial()
	cfg, _, err := o.Assemble(context.Background(), trial, nil, space.Parameters{KeyBatchSize: space.Fixed(8)})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	for _, key := range []string{"instances", "openmp", "allocator", "huge_pages"} {
		if _, ok := trial.suggested[key]; !ok {
			t.Errorf("%s was not sampled", key)
		}
	}
	if got := trial.suggested["instances"]; !reflect.DeepEqual(got, []any{1, 2, 4, 8}) {
		t.Errorf("instances choices = %v", got)
	}
	// Eight instances on eight cores leave one core each: a singleton.
	if _, ok := trial.suggested["nb_cores"]; ok {
		t.Error("singleton nb_cores should not be sampled")
	}
	if cfg.Instances != 8 || cfg.CoresPerInstance != 1 {
		t.Errorf("layout = %d x %d, want 8 x 1", cfg.Instances, cfg.CoresPerInstance)
	}
	if cfg.OpenMP != "iomp" || cfg.Allocator != "jemalloc" || cfg.HugePages {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestAssemble_SamplesCoresFromInstanceCount(t *testing.T) {
	o := newObjective(mode.Throughput, 16, &fakeLauncher{})
	trial := newFakeTrial()
	trial.pick = func(name string, choices []any) int {
		if name == "instances" {
			return 2 // third candidate: 4 instances
		}
		return 0
	}
	cfg, _, err := o.Assemble(context.Background(), trial, nil, space.Parameters{KeyBatchSize: space.Fixed(16)})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if cfg.Instances != 4 {
		t.Fatalf("instances = %d, want 4", cfg.Instances)
	}
	if got := trial.suggested["nb_cores"]; !reflect.DeepEqual(got, []any{1, 2, 4}) {
		t.Errorf("nb_cores choices = %v, want [1 2 4]", got)
	}
}

func TestAssemble_ClampsInstancesToPhysicalCores(t *testing.T) {
	o := newObjective(mode.Latency, 16, &fakeLauncher{})
	cfg, _, err := o.Assemble(context.Background(), newFakeTrial(),
		map[string]any{"instances": 64}, space.Parameters{KeyBatchSize: space.Fixed(64)})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if cfg.Instances != 16 {
		t.Errorf("instances = %d, want 16", cfg.Instances)
	}
}

func TestAssemble_FiltersBatchSizesPerTrial(t *testing.T) {
	o := newObjective(mode.Latency, 16, &fakeLauncher{})
	main := space.Parameters{KeyBatchSize: space.OneOf(16, 17, 32)}

	_, trialMain, err := o.Assemble(context.Background(), newFakeTrial(), map[string]any{"instances": 4}, main)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := trialMain[KeyBatchSize].Candidates(); !reflect.DeepEqual(got, []any{16, 32}) {
		t.Errorf("filtered batch sizes = %v, want [16 32]", got)
	}
	if got := main[KeyBatchSize].Candidates(); !reflect.DeepEqual(got, []any{16, 17, 32}) {
		t.Errorf("caller's batch sizes mutated: %v", got)
	}

	_, trialMain, err = o.Assemble(context.Background(), newFakeTrial(), map[string]any{"instances": 4},
		space.Parameters{KeyBatchSize: space.Fixed(17)})
	if err != nil {
		t.Fatalf("Assemble scalar: %v", err)
	}
	if got := trialMain[KeyBatchSize].Scalar(); got != 17 {
		t.Errorf("scalar batch size = %v, want 17 untouched", got)
	}

	_, _, err = o.Assemble(context.Background(), newFakeTrial(), map[string]any{"instances": 4},
		space.Parameters{KeyBatchSize: space.OneOf(17, 19)})
	if err == nil {
		t.Error("expected error when no batch size is divisible")
	}
}

func TestAssemble_MissingBatchSize(t *testing.T) {
	o := newObjective(mode.Latency, 4, &fakeLauncher{})
	_, _, err := o.Assemble(context.Background(), newFakeTrial(), nil, space.Parameters{})
	if !errors.Is(err, ErrMissingBatchSize) {
		t.Errorf("err = %v, want ErrMissingBatchSize", err)
	}
}

func TestEvaluate_ValuesPerMode(t *testing.T) {
	overrides := space.Parameters{
		"instances": space.Fixed(2), "nb_cores": space.Fixed(4),
		"openmp": space.Fixed("openmp"), "allocator": space.Fixed("default"), "huge_pages": space.Fixed("on"),
	}
	// 100/4 = 25 ms latency; 2*4*10 = 80 throughput.
	tests := []struct {
		mode mode.Mode
		want []float64
	}{
		{mode.Latency, []float64{25}},
		{mode.Throughput, []float64{80}},
		{mode.Both, []float64{25, 80}},
	}
	for _, tt := range tests {
		o := newObjective(tt.mode, 16, &fakeLauncher{})
		o.LauncherParameters = overrides
		o.MainParameters = space.Parameters{KeyBatchSize: space.Fixed(8)}
		trial := newFakeTrial()
		got, err := o.Evaluate(context.Background(), trial)
		if err != nil {
			t.Fatalf("%s: Evaluate: %v", tt.mode, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: values = %v, want %v", tt.mode, got, tt.want)
		}
		if trial.attrs["run_id"] != "run-0" {
			t.Errorf("%s: run_id attr = %v", tt.mode, trial.attrs["run_id"])
		}
	}
}

func TestEvaluate_SamplesCallerCandidateSets(t *testing.T) {
	fl := &fakeLauncher{}
	o := newObjective(mode.Latency, 16, fl)
	o.LauncherParameters = space.Parameters{"allocator": space.OneOf("tcmalloc", "jemalloc")}
	o.MainParameters = space.Parameters{KeyBatchSize: space.Fixed(8)}
	trial := newFakeTrial()
	if _, err := o.Evaluate(context.Background(), trial); err != nil {
		t.Fatal(err)
	}
	if got := trial.suggested["allocator"]; !reflect.DeepEqual(got, []any{"tcmalloc", "jemalloc"}) {
		t.Errorf("allocator sampled from %v, want the caller's set", got)
	}
	if fl.configs[0].Allocator != "jemalloc" {
		t.Errorf("allocator = %s", fl.configs[0].Allocator)
	}
}

func TestEvaluate_LauncherErrorPropagates(t *testing.T) {
	o := newObjective(mode.Latency, 4, &fakeLauncher{failOn: map[int]bool{0: true}})
	o.MainParameters = space.Parameters{KeyBatchSize: space.Fixed(4)}
	if _, err := o.Evaluate(context.Background(), newFakeTrial()); err == nil {
		t.Error("expected launcher error")
	}
}
