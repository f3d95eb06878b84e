package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/repo"
)

const (
	DefaultPollInterval = 5 * time.Second
	maxPollInterval     = time.Minute
)

var errNotTerminal = errors.New("job not finished")

// JobHandle follows one submitted job.
type JobHandle struct {
	client     *Client
	name       string
	experiment string
	monitorURL string
	last       domain.JobStatus
}

func newHandle(c *Client, job domain.Job) *JobHandle {
	return &JobHandle{
		client:     c,
		name:       job.Name,
		experiment: job.Experiment,
		monitorURL: job.MonitorURL,
		last:       job.Status,
	}
}

func (h *JobHandle) Name() string       { return h.name }
func (h *JobHandle) Experiment() string { return h.experiment }

// MonitorURL is the human-facing page for the job. It may be empty until the
// platform reports one.
func (h *JobHandle) MonitorURL() string { return h.monitorURL }

// LastStatus is the status observed by the most recent call, without a
// network round trip.
func (h *JobHandle) LastStatus() domain.JobStatus { return h.last }

// Status fetches the current platform status.
func (h *JobHandle) Status(ctx context.Context) (domain.JobStatus, error) {
	job, err := h.client.platform.GetJob(ctx, h.name)
	if err != nil {
		return "", err
	}
	if job.MonitorURL != "" {
		h.monitorURL = job.MonitorURL
	}
	if job.Status != h.last {
		h.client.logger.Info("job status changed", "job_name", h.name, "from", string(h.last), "to", string(job.Status))
		h.last = job.Status
		if h.client.ledger != nil {
			if err := h.client.ledger.UpdateSubmissionStatus(ctx, h.name, job.Status); err != nil && !errors.Is(err, repo.ErrNotFound) {
				h.client.logger.Warn("update submission status failed", "job_name", h.name, "error", err)
			}
		}
	}
	return job.Status, nil
}

// Wait polls Status with exponential backoff starting at poll until the job
// reaches a terminal status or ctx ends. Errors from the platform stop the
// wait immediately.
func (h *JobHandle) Wait(ctx context.Context, poll time.Duration) (domain.JobStatus, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = poll
	b.MaxInterval = maxPollInterval
	if b.MaxInterval < poll {
		b.MaxInterval = poll
	}
	b.MaxElapsedTime = 0

	var status domain.JobStatus
	operation := func() error {
		s, err := h.Status(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		status = s
		if !s.Terminal() {
			return errNotTerminal
		}
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, errNotTerminal) {
			return status, ctx.Err()
		}
		return status, fmt.Errorf("wait for job %s: %w", h.name, err)
	}
	return status, nil
}
