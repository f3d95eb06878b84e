package submission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/execution/pipeline"
	"github.com/animus-labs/mlpipe/internal/repo"
)

var (
	ErrInvalidRequest = errors.New("invalid submission request")
	ErrSubmission     = errors.New("submission failed")
)

// SubmissionError wraps a transport or platform failure. It is returned
// verbatim; the client never retries a submission.
type SubmissionError struct {
	JobName string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.JobName == "" {
		return fmt.Sprintf("%v: %v", ErrSubmission, e.Err)
	}
	return fmt.Sprintf("%v: job %s: %v", ErrSubmission, e.JobName, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmission
}

// Platform is the remote execution service.
type Platform interface {
	SubmitGraph(ctx context.Context, request domain.ExecutionRequest, experiment, jobName string) (domain.Job, error)
	GetJob(ctx context.Context, name string) (domain.Job, error)
}

// Snapshotter rewrites step code directories into uploaded archive URIs.
type Snapshotter interface {
	Snapshot(ctx context.Context, request domain.ExecutionRequest, baseDir string) (domain.ExecutionRequest, error)
}

type Client struct {
	platform    Platform
	ledger      repo.SubmissionRepository
	snapshotter Snapshotter
	baseDir     string
	logger      *slog.Logger
	newJobName  func() string
	now         func() time.Time
}

type Option func(*Client)

func WithLedger(ledger repo.SubmissionRepository) Option {
	return func(c *Client) { c.ledger = ledger }
}

// WithSnapshotter uploads step code before submission. Relative code
// directories resolve against baseDir.
func WithSnapshotter(s Snapshotter, baseDir string) Option {
	return func(c *Client) {
		c.snapshotter = s
		c.baseDir = baseDir
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithJobNames(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newJobName = fn
		}
	}
}

func NewClient(platform Platform, opts ...Option) (*Client, error) {
	if platform == nil {
		return nil, errors.New("platform is required")
	}
	c := &Client{
		platform:   platform,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		newJobName: uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit hands request to the platform as one job in experiment. Exactly one
// platform submission is attempted per call.
func (c *Client) Submit(ctx context.Context, request domain.ExecutionRequest, experiment string) (*JobHandle, error) {
	experiment = strings.TrimSpace(experiment)
	if err := validateRequest(request, experiment); err != nil {
		return nil, err
	}
	request = request.Clone()

	if c.snapshotter != nil {
		snapped, err := c.snapshotter.Snapshot(ctx, request, c.baseDir)
		if err != nil {
			return nil, &SubmissionError{Err: fmt.Errorf("code snapshot: %w", err)}
		}
		request = snapped
	}

	hash, err := pipeline.RequestHash(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	jobName := c.newJobName()
	logger := c.logger.With("job_name", jobName, "experiment", experiment, "pipeline", request.Name)

	job, err := c.platform.SubmitGraph(ctx, request, experiment, jobName)
	if err != nil {
		logger.Error("submission failed", "error", err)
		return nil, &SubmissionError{JobName: jobName, Err: err}
	}
	if job.Name == "" {
		job.Name = jobName
	}
	if job.Experiment == "" {
		job.Experiment = experiment
	}
	logger.Info("pipeline submitted", "status", string(job.Status), "monitor_url", job.MonitorURL)

	if c.ledger != nil {
		_, _, err := c.ledger.RecordSubmission(ctx, domain.Submission{
			JobName:      job.Name,
			Experiment:   experiment,
			PipelineName: request.Name,
			RequestHash:  hash,
			MonitorURL:   job.MonitorURL,
			Status:       job.Status,
			SubmittedAt:  c.now(),
		})
		if err != nil {
			// The job exists remotely; losing the ledger row must not fail the call.
			logger.Warn("record submission failed", "error", err)
		}
	}
	return newHandle(c, job), nil
}

// Attach returns a handle for a job submitted earlier.
func (c *Client) Attach(ctx context.Context, jobName string) (*JobHandle, error) {
	jobName = strings.TrimSpace(jobName)
	if jobName == "" {
		return nil, fmt.Errorf("%w: job name is required", ErrInvalidRequest)
	}
	job, err := c.platform.GetJob(ctx, jobName)
	if err != nil {
		return nil, err
	}
	if job.Name == "" {
		job.Name = jobName
	}
	return newHandle(c, job), nil
}

func validateRequest(request domain.ExecutionRequest, experiment string) error {
	if len(request.Steps) == 0 {
		return fmt.Errorf("%w: request has no steps", ErrInvalidRequest)
	}
	if strings.TrimSpace(request.ComputeTarget) == "" {
		return fmt.Errorf("%w: compute target is required", ErrInvalidRequest)
	}
	if experiment == "" {
		return fmt.Errorf("%w: experiment is required", ErrInvalidRequest)
	}
	for _, step := range request.Steps {
		if strings.TrimSpace(step.Name) == "" || strings.TrimSpace(step.Command) == "" {
			return fmt.Errorf("%w: step %q has no name or command", ErrInvalidRequest, step.Name)
		}
	}
	return nil
}
