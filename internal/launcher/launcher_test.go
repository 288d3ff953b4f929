package launcher

import (
	"context"
	"math"
	"os/exec"
	"reflect"
	"testing"

	"github.com/accelbench/cputune/internal/space"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestProcess_LaunchAndWait(t *testing.T) {
	requireShell(t)
	// Each instance reports latency 10*(instance+1) and throughput 100.
	script := `echo "CPUTUNE_JSON_BEGIN"; echo "{\"latency_ms\": $(( (CPUTUNE_INSTANCE + 1) * 10 )), \"throughput\": 100}"; echo "CPUTUNE_JSON_END"`
	p := &Process{Command: []string{"sh", "-c", script, "workload"}, Pin: PinNone}
	cfg := LaunchConfig{Instances: 3, CoresPerInstance: 1, OpenMP: "openmp", Allocator: "default"}

	res, err := p.LaunchAndWait(context.Background(), cfg, space.Parameters{"batch_size": space.Fixed(8)})
	if err != nil {
		t.Fatalf("LaunchAndWait: %v", err)
	}
	if math.Abs(res.Latency-20) > 1e-9 {
		t.Errorf("Latency = %f, want 20", res.Latency)
	}
	if math.Abs(res.Throughput-300) > 1e-9 {
		t.Errorf("Throughput = %f, want 300", res.Throughput)
	}
	if len(res.Instances) != 3 || res.Instances[2].Cores != "2" {
		t.Errorf("Instances = %+v", res.Instances)
	}
	if res.RunID == "" {
		t.Error("missing run ID")
	}
}

func TestProcess_InstanceFailure(t *testing.T) {
	requireShell(t)
	p := &Process{Command: []string{"sh", "-c", "echo boom >&2; exit 3"}, Pin: PinNone}
	cfg := LaunchConfig{Instances: 2, CoresPerInstance: 1, OpenMP: "openmp", Allocator: "default"}
	if _, err := p.LaunchAndWait(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error from failing workload")
	}
}

func TestProcess_NoCommand(t *testing.T) {
	p := &Process{}
	cfg := LaunchConfig{Instances: 1, CoresPerInstance: 1}
	if _, err := p.LaunchAndWait(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error without a command")
	}
}

func TestProcess_Argv(t *testing.T) {
	args := MainArgs(space.Parameters{
		"batch_size": space.OneOf(16, 32),
		"model":      space.Fixed("resnet50"),
	})
	wantArgs := []string{"--batch_size=16,32", "--model=resnet50"}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Fatalf("MainArgs = %v, want %v", args, wantArgs)
	}

	tests := []struct {
		pin  string
		want []string
	}{
		{"", []string{"taskset", "-c", "4-7", "bench", "--batch_size=16,32", "--model=resnet50"}},
		{PinNumactl, []string{"numactl", "--physcpubind=4-7", "--localalloc", "bench", "--batch_size=16,32", "--model=resnet50"}},
		{PinNone, []string{"bench", "--batch_size=16,32", "--model=resnet50"}},
	}
	for _, tt := range tests {
		p := &Process{Command: []string{"bench"}, Pin: tt.pin}
		if got := p.argv(1, 4, args); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("argv(pin=%q) = %v, want %v", tt.pin, got, tt.want)
		}
	}
}
