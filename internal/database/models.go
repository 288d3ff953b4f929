package database

import (
	"time"
)

// Study statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Study struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Mode        string     `json:"mode"`
	Directions  []string   `json:"directions"`
	NTrials     int        `json:"n_trials"`
	Status      string     `json:"status"`
	Host        string     `json:"host"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Trial struct {
	StudyID     string         `json:"study_id"`
	Number      int            `json:"number"`
	State       string         `json:"state"`
	Values      []float64      `json:"values,omitempty"`
	Params      map[string]any `json:"params"`
	UserAttrs   map[string]any `json:"user_attrs,omitempty"`
	Error       *string        `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
