package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/repo"
)

type SubmissionStore struct {
	db DB
}

const (
	insertSubmissionQuery = `INSERT INTO submitted_jobs (
		job_name,
		experiment,
		pipeline_name,
		request_hash,
		monitor_url,
		status,
		submitted_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (job_name) DO NOTHING
	RETURNING job_name, experiment, pipeline_name, request_hash, monitor_url, status, submitted_at`

	selectSubmissionQuery = `SELECT job_name, experiment, pipeline_name, request_hash, monitor_url, status, submitted_at
	 FROM submitted_jobs
	 WHERE job_name = $1`

	listSubmissionsQuery = `SELECT job_name, experiment, pipeline_name, request_hash, monitor_url, status, submitted_at
	 FROM submitted_jobs
	 WHERE ($1::text = '' OR experiment = $1)
	 ORDER BY submitted_at DESC, job_name ASC
	 LIMIT $2`

	updateSubmissionStatusQuery = `UPDATE submitted_jobs SET status = $2 WHERE job_name = $1`
)

const defaultListLimit = 50

func NewSubmissionStore(db DB) *SubmissionStore {
	if db == nil {
		return nil
	}
	return &SubmissionStore{db: db}
}

func (s *SubmissionStore) RecordSubmission(ctx context.Context, sub domain.Submission) (domain.Submission, bool, error) {
	if s == nil || s.db == nil {
		return domain.Submission{}, false, fmt.Errorf("submission store not initialized")
	}
	sub.JobName = strings.TrimSpace(sub.JobName)
	if sub.JobName == "" {
		return domain.Submission{}, false, fmt.Errorf("job name is required")
	}
	if strings.TrimSpace(sub.RequestHash) == "" {
		return domain.Submission{}, false, fmt.Errorf("request hash is required")
	}

	row := s.db.QueryRowContext(
		ctx,
		insertSubmissionQuery,
		sub.JobName,
		sub.Experiment,
		sub.PipelineName,
		sub.RequestHash,
		sub.MonitorURL,
		string(sub.Status),
		normalizeTime(sub.SubmittedAt),
	)
	out, err := scanSubmission(row)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Submission{}, false, fmt.Errorf("insert submission: %w", err)
		}
		existing, err := s.GetSubmission(ctx, sub.JobName)
		if err != nil {
			return domain.Submission{}, false, err
		}
		return existing, false, nil
	}
	return out, true, nil
}

func (s *SubmissionStore) GetSubmission(ctx context.Context, jobName string) (domain.Submission, error) {
	if s == nil || s.db == nil {
		return domain.Submission{}, fmt.Errorf("submission store not initialized")
	}
	jobName = strings.TrimSpace(jobName)
	if jobName == "" {
		return domain.Submission{}, fmt.Errorf("job name is required")
	}
	out, err := scanSubmission(s.db.QueryRowContext(ctx, selectSubmissionQuery, jobName))
	if err != nil {
		return domain.Submission{}, handleNotFound(err)
	}
	return out, nil
}

func (s *SubmissionStore) ListSubmissions(ctx context.Context, filter repo.SubmissionFilter) ([]domain.Submission, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("submission store not initialized")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, listSubmissionsQuery, strings.TrimSpace(filter.Experiment), limit)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Submission, 0, limit)
	for rows.Next() {
		var (
			sub    domain.Submission
			status string
		)
		if err := rows.Scan(&sub.JobName, &sub.Experiment, &sub.PipelineName, &sub.RequestHash, &sub.MonitorURL, &status, &sub.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.Status = domain.JobStatus(status)
		sub.SubmittedAt = sub.SubmittedAt.UTC()
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return out, nil
}

func (s *SubmissionStore) UpdateSubmissionStatus(ctx context.Context, jobName string, status domain.JobStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("submission store not initialized")
	}
	res, err := s.db.ExecContext(ctx, updateSubmissionStatusQuery, strings.TrimSpace(jobName), string(status))
	if err != nil {
		return fmt.Errorf("update submission status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update submission status: %w", err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func scanSubmission(row *sql.Row) (domain.Submission, error) {
	var (
		sub    domain.Submission
		status string
	)
	if err := row.Scan(&sub.JobName, &sub.Experiment, &sub.PipelineName, &sub.RequestHash, &sub.MonitorURL, &status, &sub.SubmittedAt); err != nil {
		return domain.Submission{}, err
	}
	sub.Status = domain.JobStatus(status)
	sub.SubmittedAt = sub.SubmittedAt.UTC()
	return sub, nil
}
