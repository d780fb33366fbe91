package models

import "time"

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job tracks one uploaded dataset through ingestion and enrichment. The API returns
// the job id on POST /api/v1/jobs; clients poll GET /api/v1/jobs/{id} until the
// status is completed or failed. Token is minted per submission, so a job removed
// and resubmitted under the same id is distinguishable from its predecessor.
type Job struct {
	ID           string     `db:"id"            json:"id"`
	Filename     string     `db:"filename"      json:"filename"`
	SizeBytes    int64      `db:"size_bytes"    json:"size_bytes"`
	Token        string     `db:"token"         json:"-"`
	BlobKey      string     `db:"blob_key"      json:"-"`
	Status       string     `db:"status"        json:"status"`
	Progress     int        `db:"progress"      json:"progress"`
	Attempt      int        `db:"attempt"       json:"attempt"`
	Message      *string    `db:"message"       json:"message,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error,omitempty"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// Terminal reports whether the job can no longer change state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// JobStatusView is the poll response for a job.
type JobStatusView struct {
	ID          string     `json:"job_id"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Message     *string    `json:"message,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Attempt     int        `json:"attempt"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StatusView projects the fields a poller needs.
func (j *Job) StatusView() JobStatusView {
	return JobStatusView{
		ID:          j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		Message:     j.Message,
		Error:       j.ErrorMessage,
		Attempt:     j.Attempt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		CompletedAt: j.CompletedAt,
	}
}

// JobResult bundles everything produced for a completed job.
type JobResult struct {
	JobID      string            `json:"job_id"`
	Analysis   *AnalysisResult   `json:"analysis"`
	Enrichment *EnrichmentResult `json:"enrichment,omitempty"`
}
