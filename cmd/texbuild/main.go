package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/texbuild/internal/compile"
	"git.home.luguber.info/inful/texbuild/internal/config"
	"git.home.luguber.info/inful/texbuild/internal/console"
	"git.home.luguber.info/inful/texbuild/internal/daemon"
	"git.home.luguber.info/inful/texbuild/internal/history"
	"git.home.luguber.info/inful/texbuild/internal/logsink"
	"git.home.luguber.info/inful/texbuild/internal/metrics"
	"git.home.luguber.info/inful/texbuild/internal/poll"
	"git.home.luguber.info/inful/texbuild/internal/progress"
	"git.home.luguber.info/inful/texbuild/internal/statusstore"
	"git.home.luguber.info/inful/texbuild/internal/submit"
	"git.home.luguber.info/inful/texbuild/internal/version"
	"git.home.luguber.info/inful/texbuild/internal/watch"
)

var CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"texbuild.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `help:"Show version and exit"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Preview struct {
		File      string `arg:"" help:"Source file to compile" type:"existingfile"`
		Section   string `short:"s" help:"Section name for the preview"`
		ColorMode string `help:"Color mode (light or dark)"`
	} `cmd:"" help:"Compile a fast preview of a source file"`

	Compile struct {
		DocType string `short:"d" help:"Document type to compile" default:"report"`
	} `cmd:"" help:"Run a full document compile on the service workspace"`

	Quick struct {
		File  string `arg:"" help:"Source file to compile" type:"existingfile"`
		Title string `short:"t" help:"Document title"`
	} `cmd:"" help:"Compile via the asynchronous quick path with progress polling"`

	Watch struct {
		Dir string `arg:"" optional:"" help:"Directory to watch (overrides config)"`
	} `cmd:"" help:"Watch source files and recompile previews on change"`

	Daemon struct {
		Listen string `short:"l" help:"HTTP listen address (overrides config)"`
	} `cmd:"" help:"Run in daemon mode with an HTTP surface and scheduled compiles"`

	Status struct{} `cmd:"" help:"Show the last persisted compilation status"`

	History struct {
		Limit int `short:"n" help:"Number of entries to show" default:"20"`
	} `cmd:"" help:"Show recent compilations"`
}

func main() {
	kctx := kong.Parse(&CLI, kong.Vars{"version": version.String()})

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch kctx.Command() {
	case "init":
		if err := config.CreateDefault(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written to %s\n", CLI.Config)

	case "preview <file>":
		withApp(func(app *application) error {
			return runPreview(ctx, app, CLI.Preview.File, CLI.Preview.Section, CLI.Preview.ColorMode)
		})

	case "compile":
		withApp(func(app *application) error {
			return runFull(ctx, app, CLI.Compile.DocType)
		})

	case "quick <file>":
		withApp(func(app *application) error {
			return runQuick(ctx, app, CLI.Quick.File, CLI.Quick.Title)
		})

	case "watch", "watch <dir>":
		withApp(func(app *application) error {
			return runWatch(ctx, app, CLI.Watch.Dir)
		})

	case "daemon":
		withApp(func(app *application) error {
			return runDaemon(ctx, app, CLI.Daemon.Listen)
		})

	case "status":
		withApp(runStatus)

	case "history":
		withApp(func(app *application) error {
			return runHistory(ctx, app, CLI.History.Limit)
		})
	}
}

// application holds the wired components shared by all commands.
type application struct {
	cfg      *config.Config
	console  *console.Console
	status   *statusstore.Store
	history  *history.Store
	registry *prom.Registry
	orch     *compile.Orchestrator
}

// withApp loads configuration, wires the application, runs fn, and exits
// non-zero on failure.
func withApp(fn func(*application) error) {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	app, err := newApplication(cfg)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := app.history.Close(); err != nil {
			slog.Warn("Failed to close history store", "error", err)
		}
	}()

	if err := fn(app); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newApplication(cfg *config.Config) (*application, error) {
	endpoints, err := submit.EndpointsFor(
		cfg.Service.BaseURL,
		cfg.Service.PreviewPath,
		cfg.Service.FullPath,
		cfg.Service.QuickPath,
		cfg.Service.StatusPath,
	)
	if err != nil {
		return nil, err
	}

	hist, err := history.New(filepath.Join(cfg.DataDir, "history.db"))
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	cons := console.New(os.Stdout)
	status := statusstore.New(filepath.Join(cfg.DataDir, "status.json"))
	reporter := progress.New(cons.Bar(), cons.Badge(), cons.Slim(), cons.Banner(), cons.Affordance(), status)
	client := submit.NewClient(endpoints, nil)
	poller := poll.New(client, cfg.PollIntervalDuration())

	registry := prom.NewRegistry()

	orch, err := compile.NewOrchestrator(compile.Options{
		Submitter:      client,
		Poller:         poller,
		Reporter:       reporter,
		Logs:           logsink.New(cons.Renderer()),
		Status:         status,
		History:        hist,
		Recorder:       metrics.NewPrometheusRecorder(registry),
		PreviewTimeout: cfg.PreviewTimeoutDuration(),
		FullTimeout:    cfg.FullTimeoutDuration(),
		ColorMode:      cfg.Compile.ColorMode,
	})
	if err != nil {
		_ = hist.Close()
		return nil, err
	}

	display, err := orch.Initialize()
	if err != nil {
		slog.Warn("Failed to restore persisted status", "error", err)
	} else {
		slog.Debug("Restored status", "status", display.Status, "label", display.Label)
	}

	return &application{
		cfg:      cfg,
		console:  cons,
		status:   status,
		history:  hist,
		registry: registry,
		orch:     orch,
	}, nil
}

func runPreview(ctx context.Context, app *application, file, section, colorMode string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}

	job, err := app.orch.CompilePreview(ctx, string(content), section, colorMode)
	if err != nil {
		return err
	}
	return exitStatus(job)
}

func runFull(ctx context.Context, app *application, docType string) error {
	job, err := app.orch.CompileFull(ctx, docType)
	if err != nil {
		return err
	}
	return exitStatus(job)
}

func runQuick(ctx context.Context, app *application, file, title string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}

	job, err := app.orch.CompileQuick(ctx, string(content), title)
	if err != nil {
		return err
	}
	return exitStatus(job)
}

// exitStatus maps a terminal job to the command's outcome. The failure has
// already been rendered via the progress banner and log sink.
func exitStatus(job *compile.Job) error {
	if job.Status == compile.JobFailed {
		return fmt.Errorf("compilation failed: %s", job.ErrorMessage)
	}
	return nil
}

func runWatch(ctx context.Context, app *application, dirOverride string) error {
	dir := app.cfg.Watch.Dir
	if dirOverride != "" {
		dir = dirOverride
	}
	if dir == "" {
		return fmt.Errorf("no watch directory configured (set watch.dir or pass one)")
	}
	mainFile := app.cfg.Watch.MainFile
	if mainFile == "" {
		return fmt.Errorf("no main file configured (set watch.main_file)")
	}

	slog.Info("Watching for changes", "dir", dir, "main_file", mainFile)
	watcher := watch.New(dir, app.cfg.Watch.Extensions, app.cfg.DebounceDuration(), previewTrigger(app, filepath.Join(dir, mainFile)))

	err := watcher.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// previewTrigger returns the debounced change handler: recompile the main
// file, dropping the event if a compile is already in flight.
func previewTrigger(app *application, mainPath string) watch.TriggerFunc {
	return func(ctx context.Context) {
		content, err := os.ReadFile(mainPath)
		if err != nil {
			slog.Error("Failed to read main file", "path", mainPath, "error", err)
			return
		}
		job, err := app.orch.CompilePreview(ctx, string(content), app.cfg.Watch.SectionName, "")
		if err != nil {
			if errors.Is(err, compile.ErrCompileInFlight) {
				slog.Warn("Change dropped: compile already in flight")
				return
			}
			slog.Error("Preview compile rejected", "error", err)
			return
		}
		slog.Debug("Preview compile finished", "status", job.Status)
	}
}

func runDaemon(ctx context.Context, app *application, listenOverride string) error {
	listen := app.cfg.Daemon.Listen
	if listenOverride != "" {
		listen = listenOverride
	}

	var watcher *watch.Watcher
	if app.cfg.Watch.Dir != "" && app.cfg.Watch.MainFile != "" {
		mainPath := filepath.Join(app.cfg.Watch.Dir, app.cfg.Watch.MainFile)
		watcher = watch.New(app.cfg.Watch.Dir, app.cfg.Watch.Extensions, app.cfg.DebounceDuration(), previewTrigger(app, mainPath))
	}

	d, err := daemon.New(daemon.Options{
		Listen:       listen,
		Schedule:     app.cfg.Daemon.Schedule,
		DocType:      app.cfg.Daemon.DocType,
		Orchestrator: app.orch,
		Status:       app.status,
		Registry:     app.registry,
		Watcher:      watcher,
	})
	if err != nil {
		return err
	}
	return d.Run(ctx)
}

func runStatus(app *application) error {
	display, err := app.status.Restore()
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", display.Status, display.Label)

	if rec, ok := app.status.Snapshot(); ok {
		at := time.UnixMilli(rec.Timestamp)
		fmt.Printf("last change: %s\n", at.Format(time.RFC3339))
	}
	return nil
}

func runHistory(ctx context.Context, app *application, limit int) error {
	entries, err := app.history.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No compilations recorded yet.")
		return nil
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %-7s  %-9s  %s",
			e.StartedAt.Format("2006-01-02 15:04:05"), e.Mode, e.Status, e.Duration.Round(time.Millisecond))
		if e.ErrorMessage != "" {
			line += "  " + e.ErrorMessage
		} else if e.ArtifactURL != "" {
			line += "  " + e.ArtifactURL
		}
		fmt.Println(line)
	}
	return nil
}
