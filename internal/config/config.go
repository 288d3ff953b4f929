// Package config loads tuning runs from YAML files.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/accelbench/cputune/internal/launcher"
	"github.com/accelbench/cputune/internal/mode"
	"github.com/accelbench/cputune/internal/space"
	"github.com/accelbench/cputune/internal/tuning"
)

// File is a tuning file. Sequences under main_parameters and
// launcher_parameters are candidate sets:
//
//	mode: both
//	exp_name: bert-base
//	n_trials: 50
//	command: [python, bench.py]
//	main_parameters:
//	  batch_size: [1, 8, 16]
//	  seq_len: 128
//	launcher_parameters:
//	  allocator: jemalloc
type File struct {
	Mode               string           `yaml:"mode"`
	ExpName            string           `yaml:"exp_name"`
	NTrials            int              `yaml:"n_trials"`
	Seed               int64            `yaml:"seed"`
	OutputDir          string           `yaml:"output_dir"`
	Command            []string         `yaml:"command"`
	Pin                string           `yaml:"pin"`
	LibDirs            []string         `yaml:"lib_dirs"`
	MainParameters     space.Parameters `yaml:"main_parameters"`
	LauncherParameters space.Parameters `yaml:"launcher_parameters"`
}

// Load reads and parses a tuning file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tuning file %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a tuning file. Unknown keys are rejected. Required fields
// are checked later, after flags have been merged in.
func Parse(data []byte) (*File, error) {
	var f File
	if len(data) == 0 {
		return &f, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := ValidatePin(f.Pin); err != nil {
		return nil, err
	}
	return &f, nil
}

// ValidatePin checks an affinity tool name. Empty selects the default.
func ValidatePin(pin string) error {
	switch pin {
	case "", launcher.PinTaskset, launcher.PinNumactl, launcher.PinNone:
		return nil
	}
	return fmt.Errorf("pin must be %s, %s or %s, got %q", launcher.PinTaskset, launcher.PinNumactl, launcher.PinNone, pin)
}

// Options converts the file into driver options. An empty mode stays empty
// so that validation reports it.
func (f *File) Options() (tuning.Options, error) {
	opts := tuning.Options{
		ExpName:            f.ExpName,
		NTrials:            f.NTrials,
		Seed:               f.Seed,
		OutputDir:          f.OutputDir,
		MainParameters:     f.MainParameters.Clone(),
		LauncherParameters: f.LauncherParameters.Clone(),
	}
	if f.Mode != "" {
		m, err := mode.Parse(f.Mode)
		if err != nil {
			return tuning.Options{}, err
		}
		opts.Mode = m
	}
	return opts, nil
}
