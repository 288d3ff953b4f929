package tuning

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/accelbench/cputune/internal/launcher"
	"github.com/accelbench/cputune/internal/mode"
	"github.com/accelbench/cputune/internal/optimizer"
	"github.com/accelbench/cputune/internal/space"
)

func TestStrategyFor(t *testing.T) {
	res := &launcher.ExperimentResult{Latency: 12.5, Throughput: 640}
	tests := []struct {
		mode       mode.Mode
		directions []optimizer.Direction
		objectives []string
		values     []float64
	}{
		{mode.Latency, []optimizer.Direction{optimizer.Minimize}, []string{"Latency"}, []float64{12.5}},
		{mode.Throughput, []optimizer.Direction{optimizer.Maximize}, []string{"Throughput"}, []float64{640}},
		{mode.Both, []optimizer.Direction{optimizer.Minimize, optimizer.Maximize}, []string{"Latency", "Throughput"}, []float64{12.5, 640}},
	}
	for _, tt := range tests {
		s, err := StrategyFor(tt.mode, 1)
		if err != nil {
			t.Fatalf("%s: %v", tt.mode, err)
		}
		if !reflect.DeepEqual(s.Directions, tt.directions) {
			t.Errorf("%s: directions = %v", tt.mode, s.Directions)
		}
		if !reflect.DeepEqual(s.Objectives, tt.objectives) {
			t.Errorf("%s: objectives = %v", tt.mode, s.Objectives)
		}
		if got := s.Values(res); !reflect.DeepEqual(got, tt.values) {
			t.Errorf("%s: values = %v, want %v", tt.mode, got, tt.values)
		}
		if s.Sampler == nil {
			t.Errorf("%s: no sampler", tt.mode)
		}
	}

	if _, err := StrategyFor(mode.Mode("energy"), 1); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestModeOfRoundTripsStrategy(t *testing.T) {
	for _, m := range []mode.Mode{mode.Latency, mode.Throughput, mode.Both} {
		s, _ := StrategyFor(m, 1)
		study, err := optimizer.CreateStudy("x", s.Directions)
		if err != nil {
			t.Fatal(err)
		}
		got, err := ModeOf(study)
		if err != nil || got != m {
			t.Errorf("ModeOf(%s study) = %v, %v", m, got, err)
		}
	}
}

func TestOptionsValidate(t *testing.T) {
	valid := func() Options {
		return Options{
			Mode:           mode.Latency,
			ExpName:        "bert",
			NTrials:        10,
			MainParameters: space.Parameters{KeyBatchSize: space.OneOf(1, 8)},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Options)
		want   error
	}{
		{"valid", func(*Options) {}, nil},
		{"missing mode", func(o *Options) { o.Mode = "" }, ErrMissingMode},
		{"unknown mode", func(o *Options) { o.Mode = "energy" }, errAny},
		{"missing name", func(o *Options) { o.ExpName = " " }, ErrMissingExpName},
		{"path in name", func(o *Options) { o.ExpName = "a/b" }, errAny},
		{"zero trials", func(o *Options) { o.NTrials = 0 }, ErrInvalidTrials},
		{"no batch size", func(o *Options) { o.MainParameters = space.Parameters{} }, ErrMissingBatchSize},
		{"text batch size", func(o *Options) { o.MainParameters[KeyBatchSize] = space.Fixed("big") }, errAny},
		{"negative batch size", func(o *Options) { o.MainParameters[KeyBatchSize] = space.OneOf(8, -1) }, errAny},
		{"empty launcher set", func(o *Options) {
			o.LauncherParameters = space.Parameters{"allocator": space.OneOf()}
		}, errAny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid()
			tt.mutate(&o)
			err := o.Validate()
			switch {
			case tt.want == nil && err != nil:
				t.Errorf("unexpected error: %v", err)
			case tt.want == errAny && err == nil:
				t.Error("expected an error")
			case tt.want != nil && tt.want != errAny && !errors.Is(err, tt.want):
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

var errAny = errors.New("any error")

func TestOptionsOutputPath(t *testing.T) {
	o := Options{ExpName: "bert"}
	if got, want := o.OutputPath("_study.json"), filepath.Join("outputs", "bert_study.json"); got != want {
		t.Errorf("OutputPath = %s, want %s", got, want)
	}
	o.OutputDir = "/tmp/runs"
	if got := o.OutputPath(".csv"); got != "/tmp/runs/bert.csv" {
		t.Errorf("OutputPath = %s", got)
	}
}
