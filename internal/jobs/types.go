// Package jobs defines the asynchronous ingestion job model. Notification
// events arrive faster than the reconciliation pipeline should be run on the
// listener's goroutine, so they are queued and consumed by workers.
package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeIngestNotification runs one raw notification through the
	// reconciliation pipeline.
	JobTypeIngestNotification JobType = "ingest_notification"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// IngestNotificationJob carries one raw notification event to the workers.
type IngestNotificationJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	LedgerID string `json:"ledger_id"`
	SourceID string `json:"source_id"`
	RawText  string `json:"raw_text"`
	// ManualText marks user-pasted text; it changes the record's provenance,
	// not the pipeline.
	ManualText bool      `json:"manual_text,omitempty"`
	PostedAt   time.Time `json:"posted_at"`

	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

func (j *IngestNotificationJob) GetID() string { return j.JobID }

func (j *IngestNotificationJob) GetType() JobType { return JobTypeIngestNotification }

func (j *IngestNotificationJob) GetStatus() JobStatus { return j.Status }

// Publisher defines the interface for publishing jobs to a queue. The
// abstraction allows swapping the in-memory queue for a broker without
// touching the listener.
type Publisher interface {
	// PublishIngest publishes a notification ingestion job.
	PublishIngest(ctx context.Context, job *IngestNotificationJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue. The handler function is
	// called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes one job. A returned error marks the job failed and
// eligible for retry. Typed parse failures are terminal, not retryable; the
// handler must swallow them and let the outcome event carry the failure.
type JobHandler func(ctx context.Context, job Job) error

// JobStore tracks job execution state.
type JobStore interface {
	SaveJob(ctx context.Context, job *IngestNotificationJob) error
	GetJob(ctx context.Context, jobID string) (*IngestNotificationJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*IngestNotificationJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// LedgerID filters jobs by ledger.
	LedgerID string

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
