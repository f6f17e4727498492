// Package console renders compile progress, banners, and log lines to a
// terminal. It implements the display interfaces of the progress and logsink
// packages for the CLI frontend.
package console

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"git.home.luguber.info/inful/texbuild/internal/logsink"
)

const barWidth = 30

// Styles holds the lipgloss styles used by the console frontend.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Faint   lipgloss.Style
	BarFill lipgloss.Style
}

func defaultStyles() Styles {
	base := lipgloss.NewStyle()
	return Styles{
		Title:   base.Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		Label:   base.Foreground(lipgloss.Color("#D1D5DB")),
		Success: base.Foreground(lipgloss.Color("#22C55E")),
		Error:   base.Foreground(lipgloss.Color("#EF4444")),
		Warning: base.Foreground(lipgloss.Color("#F59E0B")),
		Faint:   base.Faint(true),
		BarFill: base.Foreground(lipgloss.Color("#22D3EE")),
	}
}

// Console is a line-oriented terminal frontend. All methods are safe for
// concurrent use; output lines are never interleaved.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	styles Styles
}

// New creates a console writing to w.
func New(w io.Writer) *Console {
	return &Console{w: w, styles: defaultStyles()}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}

// Bar returns the progress surface rendering a textual bar per update.
func (c *Console) Bar() *BarSurface {
	return &BarSurface{c: c}
}

// BarSurface renders progress updates as `[███░░░] 42% label` lines.
type BarSurface struct {
	c       *Console
	mu      sync.Mutex
	percent int
	visible bool
}

func (b *BarSurface) SetPercent(percent int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.percent = percent
}

// SetLabel renders one progress line. The reporter always pairs it with a
// preceding SetPercent, so this is the single render point per update.
func (b *BarSurface) SetLabel(label string) {
	b.mu.Lock()
	percent, visible := b.percent, b.visible
	b.mu.Unlock()
	if !visible {
		return
	}
	filled := percent * barWidth / 100
	bar := b.c.styles.BarFill.Render(strings.Repeat("█", filled)) +
		b.c.styles.Faint.Render(strings.Repeat("░", barWidth-filled))
	b.c.printf("[%s] %3d%% %s", bar, percent, b.c.styles.Label.Render(label))
}

func (b *BarSurface) Reveal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.visible = true
}

func (b *BarSurface) Hide() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.visible = false
}

// Badge returns the minimized progress surface. A scrollback terminal has no
// chrome to minimize into, so the badge tracks state instead of painting; the
// dismissal timers still drive it and Visible reports whether it is showing.
func (c *Console) Badge() *QuietSurface {
	return &QuietSurface{name: "badge"}
}

// Slim returns the slim top-edge progress surface. Stateful like Badge,
// paints nothing of its own.
func (c *Console) Slim() *QuietSurface {
	return &QuietSurface{name: "slim bar"}
}

// QuietSurface tracks progress state without terminal output.
type QuietSurface struct {
	name    string
	mu      sync.Mutex
	percent int
	label   string
	visible bool
}

func (s *QuietSurface) SetPercent(percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.percent = percent
}

func (s *QuietSurface) SetLabel(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.label = label
}

func (s *QuietSurface) Reveal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = true
}

func (s *QuietSurface) Hide() {
	s.mu.Lock()
	wasVisible := s.visible
	s.visible = false
	s.mu.Unlock()
	if wasVisible {
		slog.Debug("Progress surface dismissed", "surface", s.name)
	}
}

// Visible reports whether the surface is currently showing.
func (s *QuietSurface) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// Banner returns the outcome banner renderer.
func (c *Console) Banner() *BannerWriter {
	return &BannerWriter{c: c}
}

// BannerWriter prints terminal outcome banners.
type BannerWriter struct {
	c *Console
}

func (b *BannerWriter) Success(artifactURL string) {
	b.c.printf("%s", b.c.styles.Success.Render("✓ Compilation finished"))
	if artifactURL != "" {
		b.c.printf("  %s", b.c.styles.Faint.Render(artifactURL))
	}
}

func (b *BannerWriter) Error(message, detail string) {
	b.c.printf("%s", b.c.styles.Error.Render("✗ "+message))
	if detail != "" {
		b.c.printf("  %s", b.c.styles.Faint.Render(detail))
	}
}

// Affordance returns the start/stop control pair. In a terminal the stop
// control is Ctrl+C, so starting only prints a hint.
func (c *Console) Affordance() *HintAffordance {
	return &HintAffordance{c: c}
}

// HintAffordance prints an abort hint while a compile runs.
type HintAffordance struct {
	c *Console
}

func (a *HintAffordance) CompileStarted() {
	a.c.printf("%s", a.c.styles.Faint.Render("compiling… press Ctrl+C to abort"))
}

func (a *HintAffordance) CompileFinished() {}

// Renderer returns the log panel renderer.
func (c *Console) Renderer() *LogRenderer {
	return &LogRenderer{c: c}
}

// LogRenderer prints log sink events as severity-colored lines.
type LogRenderer struct {
	c *Console
}

func (r *LogRenderer) LineAppended(mode string, line logsink.Line) {
	r.c.printf("%s", r.c.renderLine(line))
}

func (r *LogRenderer) LineResolved(mode string, line logsink.Line) {
	r.c.printf("%s", r.c.renderLine(line))
}

func (r *LogRenderer) BufferSwitched(mode string, lines []logsink.Line, placeholder string) {
	r.c.printf("%s", r.c.styles.Title.Render(fmt.Sprintf("── %s logs ──", mode)))
	if placeholder != "" {
		r.c.printf("%s", r.c.styles.Faint.Render(placeholder))
		return
	}
	for _, line := range lines {
		r.c.printf("%s", r.c.renderLine(line))
	}
}

func (c *Console) renderLine(line logsink.Line) string {
	text := line.Text
	if line.Pending {
		text += " …"
	}
	switch line.Severity {
	case logsink.SeveritySuccess:
		return c.styles.Success.Render(text)
	case logsink.SeverityError:
		return c.styles.Error.Render(text)
	case logsink.SeverityWarning:
		return c.styles.Warning.Render(text)
	case logsink.SeverityProcessing:
		return c.styles.Faint.Render(text)
	default:
		return c.styles.Label.Render(text)
	}
}
