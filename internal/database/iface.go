package database

import "context"

// Repo defines the study persistence operations. The concrete *Repository
// satisfies it; MockRepo is an in-memory stand-in for tests.
type Repo interface {
	CreateStudy(ctx context.Context, s *Study) (string, error)
	UpdateStudyStatus(ctx context.Context, studyID, status string) error
	SaveTrials(ctx context.Context, studyID string, trials []Trial) error
	GetStudyByName(ctx context.Context, name string) (*Study, error)
	ListTrials(ctx context.Context, studyID string) ([]Trial, error)
	ListStudies(ctx context.Context, f StudyFilter) ([]StudyListItem, error)
	DeleteStudy(ctx context.Context, studyID string) error
}

// Compile-time check that *Repository implements Repo.
var _ Repo = (*Repository)(nil)
