// Package poll drives the status loop for asynchronous compile jobs.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/texbuild/internal/compile"
	"git.home.luguber.info/inful/texbuild/internal/retry"
)

// StatusFetcher fetches one status snapshot for an async job.
type StatusFetcher interface {
	JobStatus(ctx context.Context, jobID string) (*compile.StatusResult, error)
}

// Poller polls a job's status at a fixed cadence until a terminal state.
// The poll loop itself has no deadline; the caller's context bounds total
// wall-clock time.
type Poller struct {
	fetcher  StatusFetcher
	interval time.Duration
	policy   retry.Policy
}

// New creates a poller. interval <= 0 defaults to 1s.
func New(fetcher StatusFetcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		policy:   retry.PollPolicy(),
	}
}

// SetRetryPolicy overrides the transient-failure policy for status fetches.
func (p *Poller) SetRetryPolicy(policy retry.Policy) {
	p.policy = policy
}

// Run polls until the job completes or fails, the context expires, or a
// status fetch keeps failing past the retry budget. The first fetch happens
// one interval after Run is called; hook invocations are synchronous.
func (p *Poller) Run(ctx context.Context, jobID string, hooks compile.PollHooks) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		st, err := p.fetchWithRetry(ctx, jobID)
		if err != nil {
			if hooks.OnFailed != nil && ctx.Err() == nil {
				hooks.OnFailed(fmt.Sprintf("status check failed: %v", err))
			}
			return err
		}

		switch st.Status {
		case compile.JobCompleted:
			if hooks.OnCompleted != nil {
				hooks.OnCompleted(st.PDFURL)
			}
			return nil
		case compile.JobFailed:
			msg := st.Error
			if msg == "" {
				msg = "compilation failed"
			}
			if hooks.OnFailed != nil {
				hooks.OnFailed(msg)
			}
			return nil
		default:
			if hooks.OnProgress != nil {
				hooks.OnProgress(st.Progress, statusMessage(st))
			}
		}
	}
}

// fetchWithRetry retries transient status fetch failures with short backoff
// so one flaky tick does not kill a running job.
func (p *Poller) fetchWithRetry(ctx context.Context, jobID string) (*compile.StatusResult, error) {
	var lastErr error
	for attempt := 0; attempt <= p.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.policy.Delay(attempt)
			slog.Warn("Transient status fetch error, retrying",
				"job_id", jobID, "retry", attempt, "delay", delay, "err", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		st, err := p.fetcher.JobStatus(ctx, jobID)
		if err == nil {
			return st, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func statusMessage(st *compile.StatusResult) string {
	if st.Status == compile.JobPending {
		return "Waiting in queue…"
	}
	return fmt.Sprintf("Compiling… %d%%", st.Progress)
}
