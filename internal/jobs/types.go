// Package jobs defines background receipt ingestion jobs and their queue contracts.
package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeIngestReceipt represents a receipt ingestion job.
	JobTypeIngestReceipt JobType = "ingest_receipt"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
)

// IngestReceiptJob represents a job to ingest one receipt image.
type IngestReceiptJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// ImageRef is a gs:// URI or local path. Empty when Image carries uploaded bytes.
	ImageRef string `json:"image_ref,omitempty"`

	// ImageName is the original filename of an uploaded image.
	ImageName string `json:"image_name,omitempty"`

	// Image holds uploaded bytes until the job finishes.
	Image []byte `json:"-"`

	// MIMEType of the uploaded image, if known.
	MIMEType string `json:"mime_type,omitempty"`

	// PurchaseID is set once the receipt is stored.
	PurchaseID string `json:"purchase_id,omitempty"`

	// NeedsReview mirrors the stored purchase's review flag.
	NeedsReview bool `json:"needs_review"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`
}

// Job is a generic interface for all job types.
type Job interface {
	// GetID returns the unique job identifier.
	GetID() string

	// GetType returns the job type.
	GetType() JobType

	// GetStatus returns the current job status.
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *IngestReceiptJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *IngestReceiptJob) GetType() JobType {
	return JobTypeIngestReceipt
}

// GetStatus implements the Job interface.
func (j *IngestReceiptJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// PublishIngestReceipt publishes a receipt ingestion job.
	PublishIngestReceipt(ctx context.Context, job *IngestReceiptJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed. Handlers may update the job's
// result fields; the queue persists them after the handler returns.
type JobHandler func(ctx context.Context, job Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *IngestReceiptJob) error

	// GetJob retrieves a job by ID. Unknown IDs wrap domain.ErrNotFound.
	GetJob(ctx context.Context, jobID string) (*IngestReceiptJob, error)

	// ListJobs retrieves jobs ordered by creation time with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*IngestReceiptJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
