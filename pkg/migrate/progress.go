package migrate

import "time"

// Status is the lifecycle state of a migration job
type Status string

const (
	StatusQueued  Status = "queued"
	StatusStarted Status = "started"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transitions are possible
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Progress is an immutable snapshot of a job. Readers always see a complete
// snapshot; the job publishes a new one on every change.
type Progress struct {
	JobID       string    `json:"job_id"`
	TenantID    string    `json:"tenant_id"`
	Backend     string    `json:"backend"`
	Status      Status    `json:"status"`
	Percentage  int       `json:"percentage"`
	StepsDone   int       `json:"steps_done"`
	StepCount   int       `json:"step_count"`
	Module      string    `json:"module,omitempty"`
	FilesCopied int64     `json:"files_copied"`
	BytesCopied int64     `json:"bytes_copied"`
	Error       string    `json:"error,omitempty"`
	IsCompleted bool      `json:"is_completed"`
	QueuedAt    time.Time `json:"queued_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// percentage is coarse-grained at step granularity. The final step is the
// commit, so 100 is only reached once the job is done.
func percentage(done, count int) int {
	if count <= 0 {
		return 0
	}
	return done * 100 / count
}
