package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockRepo is an in-memory implementation of Repo for testing.
type MockRepo struct {
	mu      sync.Mutex
	studies map[string]*Study         // keyed by study ID
	trials  map[string]map[int]Trial // study ID → trial number → trial
}

// NewMockRepo creates a new MockRepo.
func NewMockRepo() *MockRepo {
	return &MockRepo{
		studies: make(map[string]*Study),
		trials:  make(map[string]map[int]Trial),
	}
}

// GetStudyStatus returns the current status of a study (for test assertions).
func (m *MockRepo) GetStudyStatus(studyID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.studies[studyID]; ok {
		return s.Status
	}
	return ""
}

func (m *MockRepo) CreateStudy(_ context.Context, s *Study) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.NewString()
	if s.Status == "" {
		s.Status = StatusRunning
	}
	s.CreatedAt = time.Now()
	cp := *s
	m.studies[s.ID] = &cp
	m.trials[s.ID] = make(map[int]Trial)
	return s.ID, nil
}

func (m *MockRepo) UpdateStudyStatus(_ context.Context, studyID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.studies[studyID]
	if !ok {
		return fmt.Errorf("study %s not found", studyID)
	}
	s.Status = status
	if status == StatusCompleted || status == StatusFailed {
		now := time.Now()
		s.CompletedAt = &now
	}
	return nil
}

func (m *MockRepo) SaveTrials(_ context.Context, studyID string, trials []Trial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.trials[studyID]
	if !ok {
		return fmt.Errorf("study %s not found", studyID)
	}
	for _, t := range trials {
		t.StudyID = studyID
		stored[t.Number] = t
	}
	return nil
}

func (m *MockRepo) GetStudyByName(_ context.Context, name string) (*Study, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Study
	for _, s := range m.studies {
		if s.Name == name && (latest == nil || s.CreatedAt.After(latest.CreatedAt)) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MockRepo) ListTrials(_ context.Context, studyID string) ([]Trial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Trial
	for _, t := range m.trials[studyID] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// ListStudies returns studies matching the given filter, newest first.
func (m *MockRepo) ListStudies(_ context.Context, f StudyFilter) ([]StudyListItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []StudyListItem
	for _, s := range m.studies {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.Mode != "" && s.Mode != f.Mode {
			continue
		}
		if f.Name != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(f.Name)) {
			continue
		}
		item := StudyListItem{
			ID:          s.ID,
			Name:        s.Name,
			Mode:        s.Mode,
			Status:      s.Status,
			NTrials:     s.NTrials,
			CreatedAt:   s.CreatedAt,
			CompletedAt: s.CompletedAt,
		}
		for _, t := range m.trials[s.ID] {
			switch t.State {
			case "complete":
				item.Completed++
			case "fail":
				item.Failed++
			}
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	if f.Offset >= len(items) {
		return nil, nil
	}
	items = items[f.Offset:]
	if limit := pageLimit(f.Limit); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MockRepo) DeleteStudy(_ context.Context, studyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.studies, studyID)
	delete(m.trials, studyID)
	return nil
}
