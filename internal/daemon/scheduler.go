package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/texbuild/internal/compile"
)

// startScheduler registers the cron-driven full compile if configured.
// Returns nil when no schedule is set.
func startScheduler(opts Options) (gocron.Scheduler, error) {
	if opts.Schedule == "" {
		return nil, nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	job, err := s.NewJob(
		gocron.CronJob(opts.Schedule, false),
		gocron.NewTask(runScheduledCompile, opts.Orchestrator, opts.DocType),
		gocron.WithName("scheduled-full-compile"),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("register scheduled compile: %w", err)
	}

	s.Start()
	slog.Info("Scheduled full compiles enabled",
		"schedule", opts.Schedule, "doc_type", opts.DocType, "job_id", job.ID().String())
	return s, nil
}

// runScheduledCompile is invoked by gocron. A compile already in flight is
// skipped, not queued.
func runScheduledCompile(orch *compile.Orchestrator, docType string) {
	job, err := orch.CompileFull(context.Background(), docType)
	if err != nil {
		if errors.Is(err, compile.ErrCompileInFlight) {
			slog.Warn("Scheduled compile skipped: compile already in flight")
			return
		}
		slog.Error("Scheduled compile failed to start", "err", err)
		return
	}
	slog.Info("Scheduled compile finished", "status", job.Status, "artifact", job.ArtifactURL)
}
