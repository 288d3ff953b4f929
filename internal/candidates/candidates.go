// Package candidates derives the instance-count and cores-per-instance
// search spaces from the batch size, the tuning mode and the host CPUs.
package candidates

import (
	"fmt"
	"sort"

	"github.com/accelbench/cputune/internal/mode"
	"github.com/accelbench/cputune/internal/space"
	"github.com/accelbench/cputune/internal/topology"
)

// Instances returns candidate instance counts, ascending and unique.
//
// Every count divides at least one batch size, so the batch-size filter in
// the objective never empties. Latency mode allows any such count up to the
// physical core count. Throughput mode also requires that the count divides
// the core count, leaving no core idle. Both is the union of the two.
func Instances(batch space.Value, m mode.Mode, cpu *topology.CPUInfo) ([]int, error) {
	sizes, cores, err := validate(batch, cpu)
	if err != nil {
		return nil, err
	}
	var out []int
	for n := 1; n <= cores; n++ {
		if !dividesAny(n, sizes) {
			continue
		}
		switch m {
		case mode.Latency, mode.Both:
			out = append(out, n)
		case mode.Throughput:
			if cores%n == 0 {
				out = append(out, n)
			}
		default:
			return nil, fmt.Errorf("instances candidates: unknown mode %q", m)
		}
	}
	return out, nil
}

// Cores returns candidate cores-per-instance for the given instance count:
// the powers of two below the per-instance maximum plus the maximum itself.
// An instance count of zero means unknown and plans for a single instance.
func Cores(batch space.Value, m mode.Mode, cpu *topology.CPUInfo, instances int) ([]int, error) {
	if _, _, err := validate(batch, cpu); err != nil {
		return nil, err
	}
	if !m.Valid() {
		return nil, fmt.Errorf("cores candidates: unknown mode %q", m)
	}
	if instances < 0 {
		return nil, fmt.Errorf("cores candidates: negative instance count %d", instances)
	}
	if instances == 0 {
		instances = 1
	}
	limit := cpu.PhysicalCores / instances
	if limit < 1 {
		return nil, fmt.Errorf("cores candidates: %d instances exceed %d physical cores", instances, cpu.PhysicalCores)
	}

	set := map[int]struct{}{limit: {}}
	for c := 1; c < limit; c *= 2 {
		set[c] = struct{}{}
	}
	return sorted(set), nil
}

func validate(batch space.Value, cpu *topology.CPUInfo) ([]int, int, error) {
	if cpu == nil || cpu.PhysicalCores < 1 {
		return nil, 0, fmt.Errorf("no physical cores reported")
	}
	sizes, err := batch.Ints()
	if err != nil {
		return nil, 0, fmt.Errorf("batch_size: %w", err)
	}
	if len(sizes) == 0 {
		return nil, 0, fmt.Errorf("batch_size: empty candidate set")
	}
	for _, s := range sizes {
		if s < 1 {
			return nil, 0, fmt.Errorf("batch_size: %d is not positive", s)
		}
	}
	return sizes, cpu.PhysicalCores, nil
}

func dividesAny(n int, sizes []int) bool {
	for _, s := range sizes {
		if s%n == 0 {
			return true
		}
	}
	return false
}

func sorted(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
