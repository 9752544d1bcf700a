package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeReconcileEvent JobType = "reconcile_event"
	JobTypeDunningNotice  JobType = "dunning_notice"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// ReconcileEventJobPayload carries a parked normalized webhook event whose
// member could not be resolved at delivery time. Event is the JSON-encoded
// normalized event, replayed as-is.
type ReconcileEventJobPayload struct {
	Gateway string `json:"gateway"`
	EventID string `json:"event_id"`
	Event   string `json:"event"`
}

// ToMap converts the payload to a map for storage
func (p ReconcileEventJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"gateway":  p.Gateway,
		"event_id": p.EventID,
		"event":    p.Event,
	}
}

// FromMap creates a payload from a map
func ReconcileEventJobPayloadFromMap(data map[string]interface{}) (*ReconcileEventJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ReconcileEventJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// DunningNoticeJobPayload carries a payment-failure notice to be mailed.
type DunningNoticeJobPayload struct {
	MemberID uint   `json:"member_id"`
	Email    string `json:"email"`
	Gateway  string `json:"gateway"`
}

// ToMap converts the payload to a map for storage
func (p DunningNoticeJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"member_id": p.MemberID,
		"email":     p.Email,
		"gateway":   p.Gateway,
	}
}

// FromMap creates a payload from a map
func DunningNoticeJobPayloadFromMap(data map[string]interface{}) (*DunningNoticeJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload DunningNoticeJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
