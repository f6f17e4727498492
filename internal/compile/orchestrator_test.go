package compile_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"git.home.luguber.info/inful/texbuild/internal/compile"
	"git.home.luguber.info/inful/texbuild/internal/logsink"
	"git.home.luguber.info/inful/texbuild/internal/poll"
	"git.home.luguber.info/inful/texbuild/internal/statusstore"
)

// fakeSubmitter is a programmable test double for the service boundary.
type fakeSubmitter struct {
	mu          sync.Mutex
	submitCalls int32
	statusCalls int

	previewResult *compile.SubmitResult
	previewErr    error
	fullResult    *compile.SubmitResult
	fullErr       error
	quickResult   *compile.SubmitResult
	quickErr      error
	statusScript  []*compile.StatusResult

	block chan struct{} // when set, submissions wait until closed
}

func (f *fakeSubmitter) SubmitPreview(ctx context.Context, req compile.PreviewRequest) (*compile.SubmitResult, error) {
	atomic.AddInt32(&f.submitCalls, 1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, &compile.Error{Kind: compile.FailureTimeout, Message: "request aborted"}
		}
	}
	return f.previewResult, f.previewErr
}

func (f *fakeSubmitter) SubmitFull(ctx context.Context, req compile.FullRequest) (*compile.SubmitResult, error) {
	atomic.AddInt32(&f.submitCalls, 1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, &compile.Error{Kind: compile.FailureTimeout, Message: "request aborted"}
		}
	}
	return f.fullResult, f.fullErr
}

func (f *fakeSubmitter) SubmitQuick(ctx context.Context, req compile.QuickRequest) (*compile.SubmitResult, error) {
	atomic.AddInt32(&f.submitCalls, 1)
	return f.quickResult, f.quickErr
}

func (f *fakeSubmitter) JobStatus(ctx context.Context, jobID string) (*compile.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusCalls >= len(f.statusScript) {
		return nil, errors.New("no scripted status left")
	}
	st := f.statusScript[f.statusCalls]
	f.statusCalls++
	return st, nil
}

func (f *fakeSubmitter) submits() int {
	return int(atomic.LoadInt32(&f.submitCalls))
}

// fakeReporter records the lifecycle event sequence.
type fakeReporter struct {
	mu     sync.Mutex
	events []string
}

func (r *fakeReporter) record(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *fakeReporter) Show(title string)            { r.record("show") }
func (r *fakeReporter) Update(p int, s string)       { r.record("update") }
func (r *fakeReporter) ShowSuccess(url string)       { r.record("success") }
func (r *fakeReporter) ShowError(msg, detail string) { r.record("error") }

func (r *fakeReporter) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// fakeRecorder counts metric hook invocations.
type fakeRecorder struct {
	mu        sync.Mutex
	pollTicks int
}

func (r *fakeRecorder) ObserveCompileDuration(string, time.Duration) {}
func (r *fakeRecorder) IncCompileOutcome(string, string)             {}
func (r *fakeRecorder) IncGuardRejection(string)                     {}

func (r *fakeRecorder) IncPollTick(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pollTicks++
}

func (r *fakeRecorder) ticks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pollTicks
}

type fixture struct {
	orch      *compile.Orchestrator
	submitter *fakeSubmitter
	reporter  *fakeReporter
	sink      *logsink.Sink
	store     *statusstore.Store
}

func newFixture(t *testing.T, sub *fakeSubmitter, opts compile.Options) *fixture {
	t.Helper()
	reporter := &fakeReporter{}
	sink := logsink.New(nil)
	store := statusstore.New(filepath.Join(t.TempDir(), "status.json"))

	opts.Submitter = sub
	opts.Reporter = reporter
	opts.Logs = sink
	opts.Status = store
	if opts.Poller == nil {
		opts.Poller = poll.New(sub, 20*time.Millisecond)
	}

	orch, err := compile.NewOrchestrator(opts)
	if err != nil {
		t.Fatalf("NewOrchestrator() error: %v", err)
	}
	return &fixture{orch: orch, submitter: sub, reporter: reporter, sink: sink, store: store}
}

func TestEmptyContentRejectedWithoutNetwork(t *testing.T) {
	fx := newFixture(t, &fakeSubmitter{}, compile.Options{})

	job, err := fx.orch.CompilePreview(context.Background(), "   ", "intro", "")
	if !errors.Is(err, compile.ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if job != nil {
		t.Error("expected nil job")
	}
	if fx.submitter.submits() != 0 {
		t.Errorf("submits = %d, want 0", fx.submitter.submits())
	}
	if len(fx.reporter.sequence()) != 0 {
		t.Errorf("reporter events = %v, want none", fx.reporter.sequence())
	}
}

func TestSingleFlightInvariant(t *testing.T) {
	sub := &fakeSubmitter{
		previewResult: &compile.SubmitResult{ArtifactURL: "/x.pdf"},
		block:         make(chan struct{}),
	}
	fx := newFixture(t, sub, compile.Options{})

	done := make(chan *compile.Job)
	go func() {
		job, _ := fx.orch.CompilePreview(context.Background(), "content", "", "")
		done <- job
	}()

	// Wait until the first compile holds the guard.
	deadline := time.After(time.Second)
	for {
		if _, active := fx.orch.Active(); active {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first compile never acquired the guard")
		case <-time.After(time.Millisecond):
		}
	}

	logsBefore := len(fx.sink.Lines(string(compile.ModePreview)))

	// Rapid second and third attempts in either mode must be rejected.
	if _, err := fx.orch.CompilePreview(context.Background(), "other", "", ""); !errors.Is(err, compile.ErrCompileInFlight) {
		t.Errorf("second preview: expected ErrCompileInFlight, got %v", err)
	}
	if _, err := fx.orch.CompileFull(context.Background(), "report"); !errors.Is(err, compile.ErrCompileInFlight) {
		t.Errorf("full during preview: expected ErrCompileInFlight, got %v", err)
	}

	if got := len(fx.sink.Lines(string(compile.ModePreview))); got != logsBefore {
		t.Errorf("rejected compile touched the log sink (%d -> %d lines)", logsBefore, got)
	}

	close(sub.block)
	job := <-done
	if job.Status != compile.JobCompleted {
		t.Fatalf("job status = %s, want completed", job.Status)
	}
	if fx.submitter.submits() != 1 {
		t.Errorf("submits = %d, want exactly 1", fx.submitter.submits())
	}
}

func TestGuardReleasedAfterEveryOutcome(t *testing.T) {
	tests := []struct {
		name string
		sub  *fakeSubmitter
	}{
		{"success", &fakeSubmitter{previewResult: &compile.SubmitResult{ArtifactURL: "/x.pdf"}}},
		{"service failure", &fakeSubmitter{previewErr: &compile.Error{Kind: compile.FailureService, Message: "boom"}}},
		{"transport failure", &fakeSubmitter{previewErr: &compile.Error{Kind: compile.FailureTransport, Message: "HTTP 502"}}},
		{"timeout", &fakeSubmitter{previewErr: &compile.Error{Kind: compile.FailureTimeout, Message: "request aborted"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.sub.fullResult = &compile.SubmitResult{ArtifactURL: "/y.pdf"}
			fx := newFixture(t, tt.sub, compile.Options{})

			if _, err := fx.orch.CompilePreview(context.Background(), "content", "", ""); err != nil {
				t.Fatalf("first compile returned %v", err)
			}

			// A subsequent compile of either mode must be accepted.
			job, err := fx.orch.CompileFull(context.Background(), "report")
			if err != nil {
				t.Fatalf("guard stuck after %s: %v", tt.name, err)
			}
			if job == nil {
				t.Fatal("expected a job")
			}
		})
	}
}

func TestScenarioASyncPreviewSuccess(t *testing.T) {
	sub := &fakeSubmitter{previewResult: &compile.SubmitResult{ArtifactURL: "/x.pdf"}}
	fx := newFixture(t, sub, compile.Options{})

	completions := 0
	var gotMode compile.Mode
	var gotURL string
	fx.orch.OnComplete(func(mode compile.Mode, url string) {
		completions++
		gotMode = mode
		gotURL = url
	})

	job, err := fx.orch.CompilePreview(context.Background(), "\\begin{document}\\end{document}", "", "")
	if err != nil {
		t.Fatalf("CompilePreview() error: %v", err)
	}
	if job.Status != compile.JobCompleted || job.ArtifactURL != "/x.pdf" {
		t.Errorf("job = %+v", job)
	}
	if completions != 1 || gotMode != compile.ModePreview || gotURL != "/x.pdf" {
		t.Errorf("OnComplete: count=%d mode=%s url=%q", completions, gotMode, gotURL)
	}

	rec, ok := fx.store.Snapshot()
	if !ok {
		t.Fatal("no persisted status")
	}
	if rec.Status != statusstore.StatusSuccess || rec.Label != "Success" {
		t.Errorf("persisted = %s/%s, want success/Success", rec.Status, rec.Label)
	}

	seq := fx.reporter.sequence()
	if len(seq) < 2 || seq[0] != "show" || seq[len(seq)-1] != "success" {
		t.Errorf("event sequence = %v", seq)
	}
}

func TestScenarioBFullCompileServiceFailure(t *testing.T) {
	sub := &fakeSubmitter{fullErr: &compile.Error{Kind: compile.FailureService, Message: "Undefined control sequence"}}
	fx := newFixture(t, sub, compile.Options{})

	var gotErr string
	fx.orch.OnError(func(msg string) { gotErr = msg })

	job, err := fx.orch.CompileFull(context.Background(), "report")
	if err != nil {
		t.Fatalf("CompileFull() error: %v", err)
	}
	if job.Status != compile.JobFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}
	if gotErr != "Undefined control sequence" {
		t.Errorf("OnError got %q", gotErr)
	}

	rec, _ := fx.store.Snapshot()
	if rec.Status != statusstore.StatusError {
		t.Errorf("persisted status = %s, want error", rec.Status)
	}

	seq := fx.reporter.sequence()
	if seq[len(seq)-1] != "error" {
		t.Errorf("last event = %q, want error", seq[len(seq)-1])
	}

	lines := fx.sink.Lines(string(compile.ModeFull))
	last := lines[len(lines)-1]
	if last.Severity != logsink.SeverityError || last.Pending {
		t.Errorf("terminal log line = %+v", last)
	}
}

func TestScenarioCAsyncQuickCompile(t *testing.T) {
	sub := &fakeSubmitter{
		quickResult: &compile.SubmitResult{JobID: "42"},
		statusScript: []*compile.StatusResult{
			{Status: compile.JobRunning, Progress: 10},
			{Status: compile.JobRunning, Progress: 55},
			{Status: compile.JobCompleted, Progress: 100, PDFURL: "/out.pdf"},
		},
	}
	rec := &fakeRecorder{}
	fx := newFixture(t, sub, compile.Options{Recorder: rec})

	var progresses []int
	fx.orch.OnProgress(func(mode compile.Mode, pct int, msg string) {
		progresses = append(progresses, pct)
	})
	var gotURL string
	fx.orch.OnComplete(func(mode compile.Mode, url string) { gotURL = url })

	job, err := fx.orch.CompileQuick(context.Background(), "content", "draft")
	if err != nil {
		t.Fatalf("CompileQuick() error: %v", err)
	}
	if job.ID != "42" {
		t.Errorf("job id = %q", job.ID)
	}
	if job.Status != compile.JobCompleted {
		t.Errorf("job status = %s", job.Status)
	}
	if gotURL != "/out.pdf" {
		t.Errorf("artifact = %q", gotURL)
	}
	if sub.statusCalls != 3 {
		t.Errorf("status fetches = %d, want exactly 3", sub.statusCalls)
	}
	if len(progresses) != 2 || progresses[0] != 10 || progresses[1] != 55 {
		t.Errorf("progress updates = %v, want [10 55]", progresses)
	}
	// One tick per status fetch, the terminal fetch included.
	if rec.ticks() != 3 {
		t.Errorf("poll ticks = %d, want 3", rec.ticks())
	}
}

func TestAsyncHandoffWithoutPollerFailsJob(t *testing.T) {
	sub := &fakeSubmitter{previewResult: &compile.SubmitResult{JobID: "42"}}
	reporter := &fakeReporter{}
	store := statusstore.New(filepath.Join(t.TempDir(), "status.json"))

	orch, err := compile.NewOrchestrator(compile.Options{
		Submitter: sub,
		Reporter:  reporter,
		Logs:      logsink.New(nil),
		Status:    store,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator() error: %v", err)
	}

	var gotErr string
	orch.OnError(func(msg string) { gotErr = msg })

	job, err := orch.CompilePreview(context.Background(), "content", "", "")
	if err != nil {
		t.Fatalf("CompilePreview() error: %v", err)
	}
	if job.Status != compile.JobFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}
	if job.ID != "42" {
		t.Errorf("job id = %q, want 42", job.ID)
	}
	if gotErr == "" {
		t.Error("OnError not invoked")
	}
	if _, active := orch.Active(); active {
		t.Error("guard still held after async handoff without poller")
	}

	rec, ok := store.Snapshot()
	if !ok {
		t.Fatal("no persisted status")
	}
	if rec.Status != statusstore.StatusError {
		t.Errorf("persisted status = %s, want error (not stuck at compiling)", rec.Status)
	}
}

func TestTimeoutSurfacesFixedAbortMessage(t *testing.T) {
	sub := &fakeSubmitter{block: make(chan struct{})}
	fx := newFixture(t, sub, compile.Options{PreviewTimeout: 50 * time.Millisecond})

	var gotErr string
	fx.orch.OnError(func(msg string) { gotErr = msg })

	job, err := fx.orch.CompilePreview(context.Background(), "content", "", "")
	if err != nil {
		t.Fatalf("CompilePreview() error: %v", err)
	}
	if job.Status != compile.JobFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}
	if gotErr != "request aborted" {
		t.Errorf("OnError got %q, want \"request aborted\"", gotErr)
	}
}

func TestInitializeRestoresOnce(t *testing.T) {
	sub := &fakeSubmitter{}
	fx := newFixture(t, sub, compile.Options{})

	if err := fx.store.Persist(statusstore.StatusSuccess, "Success"); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	d, err := fx.orch.Initialize()
	if err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if d.Status != statusstore.StatusSuccess {
		t.Errorf("restored status = %s", d.Status)
	}

	// Second call does not re-run the restore.
	d2, err := fx.orch.Initialize()
	if err != nil {
		t.Fatalf("Initialize() second call error: %v", err)
	}
	if d2.Status != statusstore.StatusIdle {
		t.Errorf("second initialize status = %s, want idle", d2.Status)
	}
}

func TestStopResetsLampOnly(t *testing.T) {
	sub := &fakeSubmitter{previewResult: &compile.SubmitResult{ArtifactURL: "/x.pdf"}}
	fx := newFixture(t, sub, compile.Options{})

	if _, err := fx.orch.CompilePreview(context.Background(), "content", "", ""); err != nil {
		t.Fatalf("compile: %v", err)
	}
	fx.orch.Stop()

	rec, _ := fx.store.Snapshot()
	if rec.Status != statusstore.StatusIdle || rec.Label != "Ready" {
		t.Errorf("after Stop: %s/%s, want idle/Ready", rec.Status, rec.Label)
	}
}
