package launcher

import (
	"fmt"
	"sort"

	"github.com/accelbench/cputune/internal/space"
)

// Launcher parameter keys.
const (
	KeyInstances = "instances"
	KeyCores     = "nb_cores"
	KeyOpenMP    = "openmp"
	KeyAllocator = "allocator"
	KeyHugePages = "huge_pages"
)

// Choices for the categorical launcher parameters.
var (
	OpenMPRuntimes = []any{"openmp", "iomp"}
	Allocators     = []any{"default", "tcmalloc", "jemalloc"}
	HugePages      = []any{"on", "off"}
)

// LaunchConfig is the fully assembled configuration of one trial.
type LaunchConfig struct {
	Instances        int            `json:"instances"`
	CoresPerInstance int            `json:"nb_cores"`
	OpenMP           string         `json:"openmp"`
	Allocator        string         `json:"allocator"`
	HugePages        bool           `json:"huge_pages"`
	Extra            map[string]any `json:"extra,omitempty"`
}

// ConfigFromParameters validates an assembled parameter map. Keys other than
// the known launcher keys are kept in Extra.
func ConfigFromParameters(params map[string]any) (LaunchConfig, error) {
	cfg := LaunchConfig{Instances: 1, OpenMP: "openmp", Allocator: "default"}
	for k, v := range params {
		switch k {
		case KeyInstances:
			n, ok := space.AsInt(v)
			if !ok || n < 1 {
				return cfg, fmt.Errorf("%s must be a positive integer, got %v", k, v)
			}
			cfg.Instances = n
		case KeyCores:
			n, ok := space.AsInt(v)
			if !ok || n < 1 {
				return cfg, fmt.Errorf("%s must be a positive integer, got %v", k, v)
			}
			cfg.CoresPerInstance = n
		case KeyOpenMP:
			s, err := oneOf(k, v, OpenMPRuntimes)
			if err != nil {
				return cfg, err
			}
			cfg.OpenMP = s
		case KeyAllocator:
			s, err := oneOf(k, v, Allocators)
			if err != nil {
				return cfg, err
			}
			cfg.Allocator = s
		case KeyHugePages:
			on, err := parseSwitch(v)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", k, err)
			}
			cfg.HugePages = on
		default:
			if cfg.Extra == nil {
				cfg.Extra = make(map[string]any)
			}
			cfg.Extra[k] = v
		}
	}
	if cfg.CoresPerInstance == 0 {
		return cfg, fmt.Errorf("%s is required", KeyCores)
	}
	return cfg, nil
}

// Parameters flattens the config back into the key/value form stored on
// trials.
func (c LaunchConfig) Parameters() map[string]any {
	out := map[string]any{
		KeyInstances: c.Instances,
		KeyCores:     c.CoresPerInstance,
		KeyOpenMP:    c.OpenMP,
		KeyAllocator: c.Allocator,
		KeyHugePages: "off",
	}
	if c.HugePages {
		out[KeyHugePages] = "on"
	}
	for k, v := range c.Extra {
		out[k] = v
	}
	return out
}

// TotalCores is the number of cores pinned across all instances.
func (c LaunchConfig) TotalCores() int {
	return c.Instances * c.CoresPerInstance
}

func (c LaunchConfig) extraKeys() []string {
	keys := make([]string, 0, len(c.Extra))
	for k := range c.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func oneOf(key string, v any, allowed []any) (string, error) {
	s := fmt.Sprint(v)
	for _, a := range allowed {
		if a == s {
			return s, nil
		}
	}
	return "", fmt.Errorf("%s must be one of %v, got %q", key, allowed, s)
}

func parseSwitch(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch t {
		case "on", "true", "1":
			return true, nil
		case "off", "false", "0":
			return false, nil
		}
	}
	return false, fmt.Errorf("want on or off, got %v", v)
}
