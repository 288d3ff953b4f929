package optimizer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

type studyFile struct {
	Name       string        `json:"name"`
	CreatedAt  time.Time     `json:"created_at"`
	Directions []Direction   `json:"directions"`
	Trials     []FrozenTrial `json:"trials"`
}

// Encode writes the study as indented JSON.
func (s *Study) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(studyFile{
		Name:       s.Name,
		CreatedAt:  s.CreatedAt,
		Directions: s.Directions(),
		Trials:     s.Trials(),
	})
}

// Decode restores a study written by Encode. The restored study samples with
// the default sampler for its directions unless opts override it.
func Decode(r io.Reader, opts ...Option) (*Study, error) {
	var f studyFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode study: %w", err)
	}
	s, err := CreateStudy(f.Name, f.Directions, opts...)
	if err != nil {
		return nil, fmt.Errorf("decode study: %w", err)
	}
	s.CreatedAt = f.CreatedAt
	for _, t := range f.Trials {
		s.AddTrial(t)
	}
	return s, nil
}

// SaveFile writes the study to path.
func (s *Study) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create study file: %w", err)
	}
	if err := s.Encode(f); err != nil {
		f.Close()
		return fmt.Errorf("write study file: %w", err)
	}
	return f.Close()
}

// LoadFile reads a study written by SaveFile.
func LoadFile(path string, opts ...Option) (*Study, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open study file: %w", err)
	}
	defer f.Close()
	return Decode(f, opts...)
}
