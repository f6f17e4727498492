// Package compile implements the compilation job orchestrator: it submits
// build requests to the typesetting service, enforces single-flight
// concurrency, and routes lifecycle events to the progress, log, and status
// collaborators.
package compile

import (
	"context"
	"time"
)

// Mode identifies the compilation flavor.
type Mode string

const (
	ModePreview Mode = "preview" // fast, content-driven
	ModeFull    Mode = "full"    // slower, workspace-driven
)

// JobStatus represents the lifecycle state of a compilation job.
// Transitions are monotonic: pending -> running -> completed|failed.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions occur from this status.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is a transient compilation job. It exists only for the duration of one
// compile call; only its terminal snapshot is persisted.
type Job struct {
	Mode         Mode
	ID           string // service job identifier; empty on the synchronous path
	Status       JobStatus
	Progress     int // 0-100
	ArtifactURL  string
	ErrorMessage string
	StartedAt    time.Time
}

// PreviewRequest is a synchronous preview compile submission.
type PreviewRequest struct {
	Content     string
	SectionName string
	ColorMode   string
	Timeout     time.Duration // server-side timeout hint, mirrors the client deadline
}

// FullRequest is a synchronous full-document compile submission. The service
// compiles its workspace copy of the named document type.
type FullRequest struct {
	DocType string
	Timeout time.Duration
}

// QuickRequest is an asynchronous compile submission that returns a job id
// for polling.
type QuickRequest struct {
	Content string
	Title   string
}

// SubmitResult is the interpreted response of a compile submission. Exactly
// one of ArtifactURL (synchronous terminal result) or JobID (asynchronous
// handoff) is set on success.
type SubmitResult struct {
	ArtifactURL string
	JobID       string
}

// StatusResult is one interpreted status response for an async job.
type StatusResult struct {
	Status   JobStatus
	Progress int
	PDFURL   string
	Error    string
}

// Submitter sends compile requests to the typesetting service and interprets
// its responses. Failures are returned as *Error with a FailureKind.
type Submitter interface {
	SubmitPreview(ctx context.Context, req PreviewRequest) (*SubmitResult, error)
	SubmitFull(ctx context.Context, req FullRequest) (*SubmitResult, error)
	SubmitQuick(ctx context.Context, req QuickRequest) (*SubmitResult, error)
	JobStatus(ctx context.Context, jobID string) (*StatusResult, error)
}

// PollHooks receive status-poll events for an async job. Exactly one of
// OnCompleted or OnFailed fires, after zero or more OnProgress calls.
type PollHooks struct {
	OnProgress  func(progress int, message string)
	OnCompleted func(artifactURL string)
	OnFailed    func(message string)
}

// Poller drives the status loop for an async job until a terminal state.
type Poller interface {
	Run(ctx context.Context, jobID string, hooks PollHooks) error
}

// HistoryEntry is the terminal snapshot of a job recorded to the history
// store.
type HistoryEntry struct {
	JobID        string
	Mode         Mode
	Status       JobStatus
	ArtifactURL  string
	ErrorMessage string
	StartedAt    time.Time
	Duration     time.Duration
}

// HistoryRecorder persists terminal job snapshots.
type HistoryRecorder interface {
	RecordCompilation(ctx context.Context, e HistoryEntry) error
}

// ProgressFunc is notified of progress updates for the active job.
type ProgressFunc func(mode Mode, percent int, message string)

// CompleteFunc is notified when a compile reaches a successful terminal
// state.
type CompleteFunc func(mode Mode, artifactURL string)

// ErrorFunc is notified when a compile fails.
type ErrorFunc func(message string)
