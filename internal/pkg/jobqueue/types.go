package jobqueue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType names what a worker should do with a job's payload.
type JobType string

const (
	// JobTypeLimitsSync re-pushes an organization's limits to the backend
	// limits service after a transient push failure exhausted its inline
	// retries.
	JobTypeLimitsSync JobType = "limits_sync"
)

// Job is one queued unit of work. Attempts counts deliveries to a worker;
// jobs exceeding MaxAttempts are dropped with a log line instead of looping
// forever.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}

// LimitsSyncPayload identifies the org whose limits need re-pushing.
type LimitsSyncPayload struct {
	OrgSlug string `json:"org_slug"`
}

// NewJob creates a job with a fresh id.
func NewJob(jobType JobType, payload interface{}) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Payload:   raw,
		Attempts:  0,
		CreatedAt: time.Now().UTC(),
	}, nil
}
