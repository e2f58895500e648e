package domain

import (
	"time"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// TransformJob is an asynchronous transformation tracked by the API and worker.
type TransformJob struct {
	ID               string            `json:"id"`
	SourcePath       string            `json:"source_path"`
	Style            Style             `json:"style"`
	Platforms        []string          `json:"platforms"`
	Options          TransformOptions  `json:"options"`
	Status           JobStatus         `json:"status"`
	Tier             TierKind          `json:"tier,omitempty"`
	Provider         string            `json:"provider,omitempty"`
	GuaranteeApplied bool              `json:"guarantee_applied"`
	QualityScore     float64           `json:"quality_score,omitempty"`
	Outputs          map[string]string `json:"outputs,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

func (j *TransformJob) IsCompleted() bool {
	return j.Status == JobCompleted
}

func (j *TransformJob) CanBeProcessed() bool {
	return j.Status == JobPending || j.Status == JobFailed
}

func (j *TransformJob) MarkAsProcessing() {
	j.Status = JobProcessing
	j.UpdatedAt = time.Now()
}

func (j *TransformJob) MarkAsCompleted(res *TransformationResult, outputs map[string]string) {
	j.Status = JobCompleted
	j.Tier = res.Tier
	j.Provider = res.Provider
	j.GuaranteeApplied = res.GuaranteeApplied
	j.QualityScore = res.Quality.Score
	j.Outputs = outputs
	now := time.Now()
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.ErrorMessage = ""
}

func (j *TransformJob) MarkAsCancelled() {
	j.Status = JobCancelled
	j.UpdatedAt = time.Now()
}

func (j *TransformJob) MarkAsFailed(errMsg string) {
	j.Status = JobFailed
	j.ErrorMessage = errMsg
	j.UpdatedAt = time.Now()
}
