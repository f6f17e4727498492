package compile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/texbuild/internal/logsink"
	"git.home.luguber.info/inful/texbuild/internal/metrics"
	"git.home.luguber.info/inful/texbuild/internal/observability"
	"git.home.luguber.info/inful/texbuild/internal/statusstore"
)

// guardState models the single-flight concurrency guard as an explicit state
// machine rather than a bare flag.
type guardState int

const (
	guardIdle guardState = iota
	guardCompiling
)

// ProgressReporter renders compile progress. Within one lifecycle the
// orchestrator guarantees Show precedes any Update, which precedes exactly
// one of ShowSuccess/ShowError.
type ProgressReporter interface {
	Show(title string)
	Update(percent int, status string)
	ShowSuccess(artifactURL string)
	ShowError(message, detail string)
}

// LogSink receives compile log lines partitioned by mode.
type LogSink interface {
	Append(mode, text string, severity logsink.Severity)
	AppendPending(mode, text string) string
	Resolve(mode, id, finalText string, finalSeverity logsink.Severity)
	Toggle(mode string)
}

// StatusWriter persists and restores the status lamp.
type StatusWriter interface {
	Persist(status statusstore.Status, label string) error
	Restore() (statusstore.Display, error)
}

// Options configures an Orchestrator. Submitter, Reporter, Logs and Status
// are required. Poller is required for the async quick-compile path; without
// one, any submission that hands off a job id fails cleanly.
type Options struct {
	Submitter Submitter
	Poller    Poller
	Reporter  ProgressReporter
	Logs      LogSink
	Status    StatusWriter
	History   HistoryRecorder  // optional
	Recorder  metrics.Recorder // optional, defaults to NoopRecorder

	PreviewTimeout time.Duration // default 60s
	FullTimeout    time.Duration // default 300s
	ColorMode      string        // default color mode for previews
}

// Orchestrator composes the submitter, poller, progress reporter, log sink
// and status store, and enforces at most one active compile across both
// modes.
type Orchestrator struct {
	submitter Submitter
	poller    Poller
	reporter  ProgressReporter
	logs      LogSink
	status    StatusWriter
	history   HistoryRecorder
	recorder  metrics.Recorder

	previewTimeout time.Duration
	fullTimeout    time.Duration
	colorMode      string

	mu         sync.Mutex
	state      guardState
	activeMode Mode

	restoreOnce sync.Once

	onProgress []ProgressFunc
	onComplete []CompleteFunc
	onError    []ErrorFunc
}

// NewOrchestrator creates an orchestrator with explicit dependencies.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Submitter == nil {
		return nil, errors.New("orchestrator: submitter is required")
	}
	if opts.Reporter == nil {
		return nil, errors.New("orchestrator: progress reporter is required")
	}
	if opts.Logs == nil {
		return nil, errors.New("orchestrator: log sink is required")
	}
	if opts.Status == nil {
		return nil, errors.New("orchestrator: status store is required")
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.PreviewTimeout <= 0 {
		opts.PreviewTimeout = 60 * time.Second
	}
	if opts.FullTimeout <= 0 {
		opts.FullTimeout = 300 * time.Second
	}
	if opts.ColorMode == "" {
		opts.ColorMode = "light"
	}

	return &Orchestrator{
		submitter:      opts.Submitter,
		poller:         opts.Poller,
		reporter:       opts.Reporter,
		logs:           opts.Logs,
		status:         opts.Status,
		history:        opts.History,
		recorder:       opts.Recorder,
		previewTimeout: opts.PreviewTimeout,
		fullTimeout:    opts.FullTimeout,
		colorMode:      opts.ColorMode,
	}, nil
}

// Initialize restores the persisted status lamp. It runs the restore once,
// before any compile; repeat calls return the idle display.
func (o *Orchestrator) Initialize() (statusstore.Display, error) {
	display := statusstore.Display{Status: statusstore.StatusIdle, Label: "Ready"}
	var err error
	o.restoreOnce.Do(func() {
		display, err = o.status.Restore()
		if err == nil {
			slog.Info("Restored compile status", "status", display.Status, "label", display.Label)
		}
	})
	return display, err
}

// OnProgress registers a progress callback.
func (o *Orchestrator) OnProgress(fn ProgressFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onProgress = append(o.onProgress, fn)
}

// OnComplete registers a completion callback.
func (o *Orchestrator) OnComplete(fn CompleteFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onComplete = append(o.onComplete, fn)
}

// OnError registers an error callback.
func (o *Orchestrator) OnError(fn ErrorFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onError = append(o.onError, fn)
}

// CompilePreview submits a lightweight preview compile of the given content.
// It fails fast with ErrEmptyContent or ErrCompileInFlight before any network
// activity; terminal failures are reported through OnError and the returned
// job's status, not the error value.
func (o *Orchestrator) CompilePreview(ctx context.Context, content, sectionName, colorMode string) (*Job, error) {
	if strings.TrimSpace(content) == "" {
		slog.Warn("Preview compile rejected: no content")
		return nil, ErrEmptyContent
	}
	if colorMode == "" {
		colorMode = o.colorMode
	}
	if err := o.acquire(ModePreview); err != nil {
		return nil, err
	}

	job := &Job{Mode: ModePreview, Status: JobPending, StartedAt: time.Now()}
	req := PreviewRequest{
		Content:     content,
		SectionName: sectionName,
		ColorMode:   colorMode,
		Timeout:     o.previewTimeout,
	}
	return o.run(ctx, job, "Preparing preview…", o.previewTimeout, func(cctx context.Context) (*SubmitResult, error) {
		return o.submitter.SubmitPreview(cctx, req)
	})
}

// CompileFull submits a full-document compile of the named document type.
// The service operates on its workspace state; no inline content is needed.
func (o *Orchestrator) CompileFull(ctx context.Context, docType string) (*Job, error) {
	if err := o.acquire(ModeFull); err != nil {
		return nil, err
	}

	job := &Job{Mode: ModeFull, Status: JobPending, StartedAt: time.Now()}
	req := FullRequest{DocType: docType, Timeout: o.fullTimeout}
	return o.run(ctx, job, "Preparing document build…", o.fullTimeout, func(cctx context.Context) (*SubmitResult, error) {
		return o.submitter.SubmitFull(cctx, req)
	})
}

// CompileQuick submits content on the asynchronous quick-compile path and
// polls the returned job id to a terminal state.
func (o *Orchestrator) CompileQuick(ctx context.Context, content, title string) (*Job, error) {
	if strings.TrimSpace(content) == "" {
		slog.Warn("Quick compile rejected: no content")
		return nil, ErrEmptyContent
	}
	if o.poller == nil {
		return nil, errors.New("orchestrator: quick compile requires a poller")
	}
	if err := o.acquire(ModePreview); err != nil {
		return nil, err
	}

	job := &Job{Mode: ModePreview, Status: JobPending, StartedAt: time.Now()}
	req := QuickRequest{Content: content, Title: title}
	return o.run(ctx, job, "Preparing preview…", o.previewTimeout, func(cctx context.Context) (*SubmitResult, error) {
		return o.submitter.SubmitQuick(cctx, req)
	})
}

// Stop resets the status lamp to idle. It does not abort the in-flight
// request; only the deadline-driven abort cancels network activity.
func (o *Orchestrator) Stop() {
	if err := o.status.Persist(statusstore.StatusIdle, "Ready"); err != nil {
		slog.Warn("Failed to reset status lamp", "err", err)
	}
}

// Active reports whether a compile is currently outstanding and its mode.
func (o *Orchestrator) Active() (Mode, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeMode, o.state == guardCompiling
}

func (o *Orchestrator) acquire(mode Mode) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == guardCompiling {
		slog.Warn("Compile rejected: another compile is in flight",
			"requested_mode", mode, "active_mode", o.activeMode)
		o.recorder.IncGuardRejection(string(mode))
		return ErrCompileInFlight
	}
	o.state = guardCompiling
	o.activeMode = mode
	return nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = guardIdle
	o.activeMode = ""
}

// run drives one compile lifecycle: submit, optionally poll, then exactly
// one terminal transition. The guard is released on every path, after the
// terminal callbacks have fired.
func (o *Orchestrator) run(ctx context.Context, job *Job, openingLine string, timeout time.Duration, submit func(context.Context) (*SubmitResult, error)) (*Job, error) {
	defer o.release()

	mode := string(job.Mode)
	ctx = observability.WithMode(ctx, mode)
	ctx = observability.WithStage(ctx, "submit")

	o.logs.Toggle(mode)
	lineID := o.logs.AppendPending(mode, openingLine)
	o.reporter.Show(titleFor(job.Mode))
	if err := o.status.Persist(statusstore.StatusCompiling, "Compiling..."); err != nil {
		slog.Warn("Failed to persist compiling status", "err", err)
	}
	observability.InfoContext(ctx, "Compile submitted")

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := submit(cctx)
	if err != nil {
		o.fail(ctx, job, lineID, err)
		return job, nil
	}

	if res.JobID != "" {
		job.ID = res.JobID
		if o.poller == nil {
			// Any backend may hand off a job id; without a poller the job
			// can never reach a terminal state, so fail it cleanly.
			o.fail(ctx, job, lineID, &Error{Kind: FailureService, Message: "asynchronous job cannot be tracked: no status poller configured"})
			return job, nil
		}
		job.Status = JobRunning
		ctx = observability.WithJobID(ctx, res.JobID)
		ctx = observability.WithStage(ctx, "poll")
		o.logs.Append(mode, fmt.Sprintf("Job %s queued", res.JobID), logsink.SeverityInfo)

		pollErr := o.poller.Run(cctx, res.JobID, PollHooks{
			OnProgress: func(percent int, message string) {
				o.recorder.IncPollTick(mode)
				o.update(job, percent, message)
			},
			OnCompleted: func(artifactURL string) {
				o.recorder.IncPollTick(mode)
				o.complete(ctx, job, lineID, artifactURL)
			},
			OnFailed: func(message string) {
				o.recorder.IncPollTick(mode)
				o.fail(ctx, job, lineID, &Error{Kind: FailureService, Message: message})
			},
		})
		if pollErr != nil && !job.Status.IsTerminal() {
			o.fail(ctx, job, lineID, classifyPollError(pollErr))
		}
		return job, nil
	}

	job.Status = JobRunning
	o.complete(ctx, job, lineID, res.ArtifactURL)
	return job, nil
}

// update fans a progress value out to the reporter and registered callbacks.
func (o *Orchestrator) update(job *Job, percent int, message string) {
	if job.Status.IsTerminal() {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	job.Progress = percent
	o.reporter.Update(percent, message)
	for _, fn := range o.progressCallbacks() {
		fn(job.Mode, percent, message)
	}
}

func (o *Orchestrator) complete(ctx context.Context, job *Job, lineID, artifactURL string) {
	if !o.markTerminal(job, JobCompleted) {
		return
	}
	mode := string(job.Mode)
	job.ArtifactURL = artifactURL
	job.Progress = 100

	o.reporter.Update(100, "Compilation complete")
	o.logs.Resolve(mode, lineID, "✓ Compilation finished", logsink.SeveritySuccess)
	o.reporter.ShowSuccess(artifactURL)

	o.recordHistory(ctx, job)
	o.recorder.ObserveCompileDuration(mode, time.Since(job.StartedAt))
	o.recorder.IncCompileOutcome(mode, "success")
	observability.InfoContext(ctx, "Compile finished", slog.String("artifact", artifactURL))

	for _, fn := range o.completeCallbacks() {
		fn(job.Mode, artifactURL)
	}
}

func (o *Orchestrator) fail(ctx context.Context, job *Job, lineID string, err error) {
	if !o.markTerminal(job, JobFailed) {
		return
	}
	mode := string(job.Mode)
	message := err.Error()
	kind := KindOf(err)
	job.ErrorMessage = message

	o.logs.Resolve(mode, lineID, "✗ "+message, logsink.SeverityError)
	o.reporter.ShowError(message, "")

	o.recordHistory(ctx, job)
	o.recorder.ObserveCompileDuration(mode, time.Since(job.StartedAt))
	o.recorder.IncCompileOutcome(mode, string(kind))
	observability.ErrorContext(ctx, "Compile failed",
		slog.String("kind", string(kind)), slog.String("err", message))

	for _, fn := range o.errorCallbacks() {
		fn(message)
	}
}

// markTerminal performs the single allowed transition into a terminal state.
// A repeated terminal transition is an orchestrator bug; it is logged and
// refused.
func (o *Orchestrator) markTerminal(job *Job, status JobStatus) bool {
	if job.Status.IsTerminal() {
		slog.Error("Illegal job transition: terminal state reached twice",
			"job_id", job.ID, "current", job.Status, "attempted", status)
		return false
	}
	job.Status = status
	return true
}

func (o *Orchestrator) recordHistory(ctx context.Context, job *Job) {
	if o.history == nil {
		return
	}
	entry := HistoryEntry{
		JobID:        job.ID,
		Mode:         job.Mode,
		Status:       job.Status,
		ArtifactURL:  job.ArtifactURL,
		ErrorMessage: job.ErrorMessage,
		StartedAt:    job.StartedAt,
		Duration:     time.Since(job.StartedAt),
	}
	if err := o.history.RecordCompilation(ctx, entry); err != nil {
		slog.Warn("Failed to record compilation history", "job_id", job.ID, "err", err)
	}
}

func (o *Orchestrator) progressCallbacks() []ProgressFunc {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ProgressFunc(nil), o.onProgress...)
}

func (o *Orchestrator) completeCallbacks() []CompleteFunc {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]CompleteFunc(nil), o.onComplete...)
}

func (o *Orchestrator) errorCallbacks() []ErrorFunc {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ErrorFunc(nil), o.onError...)
}

func titleFor(mode Mode) string {
	if mode == ModeFull {
		return "Document build"
	}
	return "Preview build"
}

// classifyPollError maps a poll loop error to the failure taxonomy. Deadline
// expiry keeps the fixed aborted message of the submit path.
func classifyPollError(err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: FailureTimeout, Message: "request aborted"}
	}
	return &Error{Kind: FailureTransport, Message: err.Error()}
}
