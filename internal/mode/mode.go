// Package mode defines what a tuning run optimizes for.
package mode

import (
	"fmt"
	"strings"
)

// Mode selects the objective(s) of a tuning run. The zero value is unset.
type Mode string

const (
	Latency    Mode = "latency"
	Throughput Mode = "throughput"
	Both       Mode = "both"
)

// Parse accepts a mode name case-insensitively.
func Parse(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown tuning mode %q (must be latency, throughput or both)", s)
	}
	return m, nil
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case Latency, Throughput, Both:
		return true
	}
	return false
}

func (m Mode) String() string { return string(m) }
