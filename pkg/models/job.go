package models

import "time"

// JobStatus is the lifecycle state of a sync job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// SyncJob tracks one asynchronous sync request for an account.
type SyncJob struct {
	ID         string
	UserID     int64
	AccountID  int64
	ForceFull  bool
	Status     JobStatus
	Inserted   int    // set on success
	Error      string // set on failure
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}
