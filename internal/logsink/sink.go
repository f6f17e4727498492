// Package logsink collects compilation log lines in per-mode append-only
// buffers and drives an optional renderer for the visible panel.
package logsink

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity classifies a log line.
type Severity string

const (
	SeverityInfo       Severity = "info"
	SeveritySuccess    Severity = "success"
	SeverityWarning    Severity = "warning"
	SeverityError      Severity = "error"
	SeverityProcessing Severity = "processing"
)

// Line is a single entry in a mode's buffer.
type Line struct {
	ID       string
	Text     string
	Severity Severity
	Pending  bool
	At       time.Time
}

// Renderer receives buffer events for display. Implementations must not call
// back into the sink.
type Renderer interface {
	LineAppended(mode string, line Line)
	LineResolved(mode string, line Line)
	BufferSwitched(mode string, lines []Line, placeholder string)
}

// Sink owns the per-mode log buffers. Only one buffer is visible at a time,
// selected by the last Toggle call. Buffers are append-only; resolving a
// pending line updates it in place but never removes history.
type Sink struct {
	mu       sync.Mutex
	buffers  map[string][]Line
	visible  string
	renderer Renderer
}

// New creates a sink. renderer may be nil for headless use.
func New(renderer Renderer) *Sink {
	return &Sink{
		buffers:  make(map[string][]Line),
		renderer: renderer,
	}
}

// Append adds a line to the given mode's buffer. An empty severity is
// classified from the line's content; an explicit severity always wins.
func (s *Sink) Append(mode, text string, severity Severity) {
	s.append(mode, Line{
		Text:     text,
		Severity: resolveSeverity(text, severity),
		At:       time.Now(),
	})
}

// AppendPending adds a line carrying a progress affordance and returns its
// id. The line stays pending until Resolve is called with the same id.
func (s *Sink) AppendPending(mode, text string) string {
	id := uuid.NewString()
	s.append(mode, Line{
		ID:       id,
		Text:     text,
		Severity: SeverityProcessing,
		Pending:  true,
		At:       time.Now(),
	})
	return id
}

// Resolve clears a pending line by id, giving it its terminal text and
// severity. Unknown ids are logged and ignored.
func (s *Sink) Resolve(mode, id, finalText string, finalSeverity Severity) {
	s.mu.Lock()
	buf := s.buffers[mode]
	for i := range buf {
		if buf[i].ID != id {
			continue
		}
		buf[i].Text = finalText
		buf[i].Severity = resolveSeverity(finalText, finalSeverity)
		buf[i].Pending = false
		resolved := buf[i]
		visible := s.visible == mode
		s.mu.Unlock()
		if visible && s.renderer != nil {
			s.renderer.LineResolved(mode, resolved)
		}
		return
	}
	s.mu.Unlock()
	slog.Warn("Cannot resolve unknown log line", "mode", mode, "id", id)
}

// Toggle switches the visible buffer to the given mode. A mode that never
// compiled shows a fixed placeholder instead of lines. The previously
// visible buffer keeps its lines untouched.
func (s *Sink) Toggle(mode string) {
	s.mu.Lock()
	s.visible = mode
	lines := copyLines(s.buffers[mode])
	s.mu.Unlock()

	placeholder := ""
	if len(lines) == 0 {
		placeholder = fmt.Sprintf("No %s compilation logs yet", mode)
	}
	if s.renderer != nil {
		s.renderer.BufferSwitched(mode, lines, placeholder)
	}
}

// Visible returns the mode whose buffer is currently displayed.
func (s *Sink) Visible() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// Lines returns a copy of the given mode's buffer.
func (s *Sink) Lines(mode string) []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyLines(s.buffers[mode])
}

func (s *Sink) append(mode string, line Line) {
	s.mu.Lock()
	s.buffers[mode] = append(s.buffers[mode], line)
	visible := s.visible == mode
	s.mu.Unlock()

	if visible && s.renderer != nil {
		s.renderer.LineAppended(mode, line)
	}
}

// resolveSeverity returns the explicit severity when given; content sniffing
// is only a fallback for untagged lines.
func resolveSeverity(text string, explicit Severity) Severity {
	if explicit != "" {
		return explicit
	}
	return Classify(text)
}

// Classify infers a severity from line content. Used only for lines with no
// explicit severity.
func Classify(text string) Severity {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(text, "✓") || strings.Contains(lower, "success"):
		return SeveritySuccess
	case strings.Contains(text, "✗") || strings.Contains(lower, "error") || strings.Contains(lower, "failed"):
		return SeverityError
	case strings.Contains(lower, "warning"):
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func copyLines(lines []Line) []Line {
	if len(lines) == 0 {
		return nil
	}
	out := make([]Line, len(lines))
	copy(out, lines)
	return out
}
