package model

import "time"

// JobType identifies the kind of work an async job performs.
type JobType string

const (
	JobDataImport      JobType = "data_import"
	JobDataExport      JobType = "data_export"
	JobBatchOperation  JobType = "batch_operation"
	JobMediaProcessing JobType = "media_processing"
	JobTableRecompute  JobType = "table_recompute"
	JobCustom          JobType = "custom"
)

// ValidJobType reports whether t is a member of the closed job-type set.
func ValidJobType(t JobType) bool {
	switch t {
	case JobDataImport, JobDataExport, JobBatchOperation,
		JobMediaProcessing, JobTableRecompute, JobCustom:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of an async job.
//
// Transitions: pending -> running -> completed|failed, and
// pending|running -> cancelled (user-initiated). Completed, failed, and
// cancelled are terminal.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobRequest is the payload submitted to create an async job. WebhookEvents
// selects which lifecycle events the per-job WebhookURL receives; when left
// empty the URL is notified on completion and failure only.
type JobRequest struct {
	Type          JobType                `json:"job_type"`
	Parameters    map[string]interface{} `json:"parameters"`
	Priority      int                    `json:"priority,omitempty"` // 1-10, default 5
	WebhookURL    string                 `json:"webhook_url,omitempty"`
	WebhookEvents []WebhookEvent         `json:"webhook_events,omitempty"`
}

// Job is the externally visible projection of a job record.
type Job struct {
	ID            string                 `json:"job_id"`
	Type          JobType                `json:"job_type"`
	Status        JobStatus              `json:"status"`
	Progress      float64                `json:"progress"`
	Priority      int                    `json:"priority"`
	Parameters    map[string]interface{} `json:"parameters"`
	Result        map[string]interface{} `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	WebhookURL    string                 `json:"webhook_url,omitempty"`
	WebhookEvents []WebhookEvent         `json:"webhook_events,omitempty"`
	Logs          []string               `json:"logs"`
}
