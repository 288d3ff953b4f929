// Package launcher runs a workload as N core-pinned instances with a given
// threading runtime, allocator and huge-page policy, and collects the
// latency and throughput they report.
package launcher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/accelbench/cputune/internal/space"
)

// Launcher runs one trial configuration to completion.
type Launcher interface {
	LaunchAndWait(ctx context.Context, cfg LaunchConfig, main space.Parameters) (*ExperimentResult, error)
}

// Pinning tools.
const (
	PinTaskset = "taskset"
	PinNumactl = "numactl"
	PinNone    = "none"
)

// Process launches the workload as local processes.
type Process struct {
	// Command is the workload argv; main parameters are appended as flags.
	Command []string
	// Pin selects the affinity tool. Empty means taskset.
	Pin string
	// LibDirs are searched for preloaded libraries. Empty means DefaultLibDirs.
	LibDirs []string
	// Dir is the working directory of the instances.
	Dir string
}

// LaunchAndWait starts cfg.Instances copies of the workload concurrently and
// waits for all of them. Any instance failure fails the launch and cancels
// the others.
func (p *Process) LaunchAndWait(ctx context.Context, cfg LaunchConfig, main space.Parameters) (*ExperimentResult, error) {
	if len(p.Command) == 0 {
		return nil, fmt.Errorf("launch: no workload command")
	}
	if cfg.Instances < 1 || cfg.CoresPerInstance < 1 {
		return nil, fmt.Errorf("launch: invalid layout %d x %d cores", cfg.Instances, cfg.CoresPerInstance)
	}

	runID := uuid.NewString()
	short := runID[:8]
	args := MainArgs(main)
	libDirs := p.LibDirs
	if len(libDirs) == 0 {
		libDirs = DefaultLibDirs
	}

	klog.InfoS(fmt.Sprintf("[%s] launching workload", short),
		"instances", cfg.Instances, "cores", cfg.CoresPerInstance,
		"openmp", cfg.OpenMP, "allocator", cfg.Allocator, "hugePages", cfg.HugePages)
	started := time.Now()

	results := make([]InstanceResult, cfg.Instances)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Instances; i++ {
		i := i
		env, err := Environment(cfg, i, libDirs, os.Environ())
		if err != nil {
			return nil, fmt.Errorf("launch: build environment: %w", err)
		}
		argv := p.argv(i, cfg.CoresPerInstance, args)
		g.Go(func() error {
			res, err := p.runInstance(gctx, short, i, argv, env)
			if err != nil {
				return err
			}
			res.Cores = CoreList(i, cfg.CoresPerInstance)
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}

	agg, err := Aggregate(runID, results)
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}
	klog.InfoS(fmt.Sprintf("[%s] workload finished", short),
		"latencyMs", agg.Latency, "throughput", agg.Throughput, "elapsed", time.Since(started).Round(time.Millisecond))
	return agg, nil
}

func (p *Process) runInstance(ctx context.Context, short string, i int, argv, env []string) (*InstanceResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Dir = p.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	klog.V(4).InfoS(fmt.Sprintf("[%s] starting instance", short), "instance", i, "argv", argv)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("instance %d: %w: %s", i, err, tail(stderr.String(), 512))
	}
	res, err := ParseWorkloadOutput(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("instance %d: %w", i, err)
	}
	res.Instance = i
	return res, nil
}

func (p *Process) argv(instance, cores int, args []string) []string {
	list := CoreList(instance, cores)
	var argv []string
	switch p.Pin {
	case PinNone:
	case PinNumactl:
		argv = append(argv, "numactl", "--physcpubind="+list, "--localalloc")
	default:
		argv = append(argv, "taskset", "-c", list)
	}
	argv = append(argv, p.Command...)
	return append(argv, args...)
}

// MainArgs renders workload parameters as sorted --key=value flags.
func MainArgs(main space.Parameters) []string {
	args := make([]string, 0, len(main))
	for _, k := range main.Keys() {
		args = append(args, fmt.Sprintf("--%s=%s", k, main[k].String()))
	}
	return args
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
