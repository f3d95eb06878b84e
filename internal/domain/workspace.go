package domain

import (
	"strings"
	"time"
)

// Workspace is the platform's container for computes, environments and jobs.
type Workspace struct {
	Name           string
	SubscriptionID string
	ResourceGroup  string
	Location       string
	DisplayName    string
	Description    string
	Tags           map[string]string
	DiscoveryURL   string
}

type Compute struct {
	Name          string
	Type          string
	State         string
	Size          string
	MinNodes      int
	MaxNodes      int
	ProvisionedAt time.Time
}

// JobStatus is an opaque pass-through of the platform's job status.
type JobStatus string

const (
	JobStatusNotStarted JobStatus = "NotStarted"
	JobStatusQueued     JobStatus = "Queued"
	JobStatusRunning    JobStatus = "Running"
	JobStatusCompleted  JobStatus = "Completed"
	JobStatusFailed     JobStatus = "Failed"
	JobStatusCanceled   JobStatus = "Canceled"
)

// Terminal reports whether the platform will not change the status again.
func (s JobStatus) Terminal() bool {
	switch JobStatus(strings.TrimSpace(string(s))) {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// Job is what the platform reports about a submitted pipeline.
type Job struct {
	Name        string
	Experiment  string
	DisplayName string
	Status      JobStatus
	MonitorURL  string
	CreatedAt   time.Time
}

// Submission is the local ledger record of a submitted job.
type Submission struct {
	JobName      string
	Experiment   string
	PipelineName string
	RequestHash  string
	MonitorURL   string
	Status       JobStatus
	SubmittedAt  time.Time
}
