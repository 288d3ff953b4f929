package launcher

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/montanaflynn/stats"
)

// InstanceResult is what one workload instance reported.
type InstanceResult struct {
	Instance   int     `json:"instance"`
	Cores      string  `json:"cores"`
	LatencyMs  float64 `json:"latency_ms"`
	P50Ms      float64 `json:"p50_ms,omitempty"`
	P99Ms      float64 `json:"p99_ms,omitempty"`
	Throughput float64 `json:"throughput"`
}

// ExperimentResult aggregates one trial: latency is the mean across
// instances, throughput the sum.
type ExperimentResult struct {
	RunID      string           `json:"run_id"`
	Latency    float64          `json:"latency_ms"`
	Throughput float64          `json:"throughput"`
	Instances  []InstanceResult `json:"instances"`
}

// workloadOutput is the JSON object a workload prints.
type workloadOutput struct {
	LatencyMs   *float64  `json:"latency_ms"`
	Throughput  *float64  `json:"throughput"`
	LatenciesMs []float64 `json:"latencies_ms"`
	Samples     int       `json:"samples"`
	DurationS   float64   `json:"duration_s"`
}

func (w *workloadOutput) empty() bool {
	return w.LatencyMs == nil && w.Throughput == nil && len(w.LatenciesMs) == 0 && w.Samples == 0
}

// ParseWorkloadOutput extracts the result JSON from instance stdout. It
// looks between CPUTUNE_JSON_BEGIN/END markers first, then tries the whole
// output, then the last line that parses as a result object.
func ParseWorkloadOutput(data []byte) (*InstanceResult, error) {
	out, err := findPayload(data)
	if err != nil {
		return nil, err
	}

	res := &InstanceResult{}
	if len(out.LatenciesMs) > 0 {
		lat := stats.Float64Data(out.LatenciesMs)
		if res.LatencyMs, err = stats.Mean(lat); err != nil {
			return nil, fmt.Errorf("mean latency: %w", err)
		}
		res.P50Ms, _ = stats.Percentile(lat, 50)
		res.P99Ms, _ = stats.Percentile(lat, 99)
	}
	if out.LatencyMs != nil {
		res.LatencyMs = *out.LatencyMs
	}
	switch {
	case out.Throughput != nil:
		res.Throughput = *out.Throughput
	case out.Samples > 0 && out.DurationS > 0:
		res.Throughput = float64(out.Samples) / out.DurationS
	}
	if res.LatencyMs < 0 || res.Throughput < 0 {
		return nil, fmt.Errorf("parse workload output: negative measurement")
	}
	return res, nil
}

func findPayload(data []byte) (*workloadOutput, error) {
	begin := []byte("CPUTUNE_JSON_BEGIN")
	end := []byte("CPUTUNE_JSON_END")
	if i := bytes.Index(data, begin); i >= 0 {
		rest := data[i+len(begin):]
		if j := bytes.Index(rest, end); j >= 0 {
			var out workloadOutput
			if err := json.Unmarshal(bytes.TrimSpace(rest[:j]), &out); err == nil && !out.empty() {
				return &out, nil
			}
		}
	}

	var whole workloadOutput
	if err := json.Unmarshal(bytes.TrimSpace(data), &whole); err == nil && !whole.empty() {
		return &whole, nil
	}

	lines := bytes.Split(data, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var out workloadOutput
		if err := json.Unmarshal(line, &out); err == nil && !out.empty() {
			return &out, nil
		}
	}
	return nil, fmt.Errorf("parse workload output: no result JSON found in %d bytes of output", len(data))
}

// Aggregate combines per-instance results.
func Aggregate(runID string, results []InstanceResult) (*ExperimentResult, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("aggregate: no instance results")
	}
	lat := make(stats.Float64Data, len(results))
	thr := make(stats.Float64Data, len(results))
	for i, r := range results {
		lat[i] = r.LatencyMs
		thr[i] = r.Throughput
	}
	meanLat, err := stats.Mean(lat)
	if err != nil {
		return nil, fmt.Errorf("aggregate latency: %w", err)
	}
	sumThr, err := stats.Sum(thr)
	if err != nil {
		return nil, fmt.Errorf("aggregate throughput: %w", err)
	}
	return &ExperimentResult{
		RunID:      runID,
		Latency:    meanLat,
		Throughput: sumThr,
		Instances:  results,
	}, nil
}
