// Package tuning searches CPU launch configurations (instances, cores per
// instance, threading runtime, allocator, huge pages) for the lowest
// latency and/or highest throughput of a workload.
package tuning

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/accelbench/cputune/internal/mode"
	"github.com/accelbench/cputune/internal/space"
)

// KeyBatchSize is the main parameter the instance layout depends on.
const KeyBatchSize = "batch_size"

var (
	ErrMissingMode      = errors.New("tuning mode is required")
	ErrMissingExpName   = errors.New("experiment name is required")
	ErrInvalidTrials    = errors.New("n_trials must be positive")
	ErrMissingBatchSize = errors.New("main parameters must include batch_size")
)

// Options describes one tuning run.
type Options struct {
	Mode               mode.Mode
	ExpName            string
	NTrials            int
	MainParameters     space.Parameters
	LauncherParameters space.Parameters
	// OutputDir receives the study and report files. Empty means "outputs".
	OutputDir string
	// Seed makes sampling reproducible. Zero picks a random seed.
	Seed int64
}

// Validate checks the options before any trial runs.
func (o Options) Validate() error {
	if o.Mode == "" {
		return ErrMissingMode
	}
	if !o.Mode.Valid() {
		return fmt.Errorf("unknown tuning mode %q", o.Mode)
	}
	if strings.TrimSpace(o.ExpName) == "" {
		return ErrMissingExpName
	}
	if strings.ContainsAny(o.ExpName, `/\`) {
		return fmt.Errorf("experiment name %q must not contain path separators", o.ExpName)
	}
	if o.NTrials < 1 {
		return fmt.Errorf("%w, got %d", ErrInvalidTrials, o.NTrials)
	}
	batch, ok := o.MainParameters[KeyBatchSize]
	if !ok {
		return ErrMissingBatchSize
	}
	sizes, err := batch.Ints()
	if err != nil {
		return fmt.Errorf("batch_size: %w", err)
	}
	if len(sizes) == 0 {
		return fmt.Errorf("batch_size: empty candidate set")
	}
	for _, s := range sizes {
		if s < 1 {
			return fmt.Errorf("batch_size: %d is not positive", s)
		}
	}
	for k, v := range o.LauncherParameters {
		if v.IsCandidateSet() && len(v.Candidates()) == 0 {
			return fmt.Errorf("launcher parameter %s: empty candidate set", k)
		}
	}
	return nil
}

func (o Options) outputDir() string {
	if o.OutputDir == "" {
		return "outputs"
	}
	return o.OutputDir
}

// OutputPath returns <OutputDir>/<ExpName><suffix>.
func (o Options) OutputPath(suffix string) string {
	return filepath.Join(o.outputDir(), o.ExpName+suffix)
}
