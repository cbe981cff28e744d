package task

import "time"

// Status is the enumerated execution status of a Task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
	StatusTimeout   Status = "timeout"
)

var waitingStatuses = map[Status]bool{
	StatusPending: true,
	StatusQueued:  true,
}

var activeStatuses = map[Status]bool{
	StatusRunning:  true,
	StatusRetrying: true,
}

var terminalStatuses = map[Status]bool{
	StatusSucceeded: true,
	StatusFailed:    true,
	StatusCancelled: true,
	StatusSkipped:   true,
}

var retriableStatuses = map[Status]bool{
	StatusFailed:  true,
	StatusTimeout: true,
}

// IsWaiting reports whether the task has not yet started executing.
func (s Status) IsWaiting() bool { return waitingStatuses[s] }

// IsActive reports whether the task is currently executing or about to
// be retried.
func (s Status) IsActive() bool { return activeStatuses[s] }

// IsTerminal reports whether no further transitions are possible from s.
func (s Status) IsTerminal() bool { return terminalStatuses[s] }

// IsRetriable reports whether a task in this status is a candidate for
// an explicit Retry() call.
func (s Status) IsRetriable() bool { return retriableStatuses[s] }

// Snapshot pairs a Status with the metadata the Python reference model
// attaches to every status change: when it changed and an optional
// human-readable message.
type Snapshot struct {
	Status    Status
	UpdatedAt time.Time
	Message   string
}

// IsWaiting reports whether the snapshot's status is a waiting status.
func (s Snapshot) IsWaiting() bool { return s.Status.IsWaiting() }

// IsActive reports whether the snapshot's status is an active status.
func (s Snapshot) IsActive() bool { return s.Status.IsActive() }

// IsTerminal reports whether the snapshot's status is a terminal status.
func (s Snapshot) IsTerminal() bool { return s.Status.IsTerminal() }

// CanRetry reports whether the snapshot's status permits an explicit
// Retry() call.
func (s Snapshot) CanRetry() bool { return s.Status.IsRetriable() }
