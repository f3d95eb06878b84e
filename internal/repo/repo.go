package repo

import (
	"context"
	"errors"

	"github.com/animus-labs/mlpipe/internal/domain"
)

var ErrNotFound = errors.New("not found")

// EnvironmentRecord is a registered environment together with the descriptor
// it was registered from.
type EnvironmentRecord struct {
	Identity   domain.EnvironmentIdentity
	Descriptor domain.EnvironmentDescriptor
}

type SubmissionFilter struct {
	Experiment string
	Limit      int
}

// EnvironmentRepository stores registrations keyed by (name, version).
// CreateEnvironment never overwrites: on conflict it returns the stored record
// and created=false.
type EnvironmentRepository interface {
	CreateEnvironment(ctx context.Context, record EnvironmentRecord) (EnvironmentRecord, bool, error)
	GetEnvironment(ctx context.Context, name, version string) (EnvironmentRecord, error)
}

// SubmissionRepository is the local ledger of submitted jobs keyed by job name.
type SubmissionRepository interface {
	RecordSubmission(ctx context.Context, sub domain.Submission) (domain.Submission, bool, error)
	GetSubmission(ctx context.Context, jobName string) (domain.Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]domain.Submission, error)
	UpdateSubmissionStatus(ctx context.Context, jobName string, status domain.JobStatus) error
}
