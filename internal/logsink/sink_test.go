package logsink

import (
	"testing"
)

// recordingRenderer captures renderer callbacks for assertions.
type recordingRenderer struct {
	appended    []Line
	resolved    []Line
	switches    []string
	lastLines   []Line
	placeholder string
}

func (r *recordingRenderer) LineAppended(mode string, line Line) {
	r.appended = append(r.appended, line)
}

func (r *recordingRenderer) LineResolved(mode string, line Line) {
	r.resolved = append(r.resolved, line)
}

func (r *recordingRenderer) BufferSwitched(mode string, lines []Line, placeholder string) {
	r.switches = append(r.switches, mode)
	r.lastLines = lines
	r.placeholder = placeholder
}

func TestPartitionIsolation(t *testing.T) {
	s := New(nil)
	s.Toggle("preview")

	s.Append("preview", "one", SeverityInfo)
	s.Append("preview", "two", SeverityInfo)
	s.Append("preview", "three", SeverityInfo)

	s.Toggle("full")
	s.Append("full", "alpha", SeverityInfo)
	s.Append("full", "beta", SeverityInfo)

	s.Toggle("preview")
	lines := s.Lines("preview")
	if len(lines) != 3 {
		t.Fatalf("expected 3 preview lines, got %d", len(lines))
	}
	want := []string{"one", "two", "three"}
	for i, w := range want {
		if lines[i].Text != w {
			t.Errorf("line %d = %q, want %q", i, lines[i].Text, w)
		}
	}
	if got := len(s.Lines("full")); got != 2 {
		t.Errorf("expected 2 full lines, got %d", got)
	}
}

func TestTogglePlaceholderForUncompiledMode(t *testing.T) {
	r := &recordingRenderer{}
	s := New(r)

	s.Toggle("full")
	if r.placeholder != "No full compilation logs yet" {
		t.Errorf("placeholder = %q", r.placeholder)
	}
	if len(r.lastLines) != 0 {
		t.Errorf("expected no lines, got %d", len(r.lastLines))
	}
}

func TestPendingResolve(t *testing.T) {
	r := &recordingRenderer{}
	s := New(r)
	s.Toggle("preview")

	id := s.AppendPending("preview", "Compiling…")
	lines := s.Lines("preview")
	if !lines[0].Pending || lines[0].Severity != SeverityProcessing {
		t.Fatalf("expected pending processing line, got %+v", lines[0])
	}

	s.Resolve("preview", id, "Compilation complete", SeveritySuccess)
	lines = s.Lines("preview")
	if lines[0].Pending {
		t.Error("line should no longer be pending")
	}
	if lines[0].Severity != SeveritySuccess {
		t.Errorf("severity = %s, want success", lines[0].Severity)
	}
	if lines[0].Text != "Compilation complete" {
		t.Errorf("text = %q", lines[0].Text)
	}
	if len(r.resolved) != 1 {
		t.Errorf("renderer saw %d resolves, want 1", len(r.resolved))
	}
}

func TestResolveUnknownIDIsIgnored(t *testing.T) {
	s := New(nil)
	s.Append("preview", "one", SeverityInfo)
	s.Resolve("preview", "no-such-id", "x", SeverityError)

	lines := s.Lines("preview")
	if len(lines) != 1 || lines[0].Text != "one" {
		t.Errorf("buffer mutated by unknown resolve: %+v", lines)
	}
}

func TestExplicitSeverityWinsOverContent(t *testing.T) {
	s := New(nil)
	// Content sniffing alone would say error; explicit tag must win.
	s.Append("preview", "error count: 0", SeverityInfo)
	if got := s.Lines("preview")[0].Severity; got != SeverityInfo {
		t.Errorf("severity = %s, want explicit info", got)
	}
}

func TestClassifyFallback(t *testing.T) {
	tests := []struct {
		text string
		want Severity
	}{
		{"✓ Compilation finished", SeveritySuccess},
		{"build success", SeveritySuccess},
		{"✗ Undefined control sequence", SeverityError},
		{"compile failed", SeverityError},
		{"Warning: overfull hbox", SeverityWarning},
		{"Running pdflatex pass 2", SeverityInfo},
	}
	for _, tt := range tests {
		if got := Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestRendererOnlySeesVisibleBuffer(t *testing.T) {
	r := &recordingRenderer{}
	s := New(r)
	s.Toggle("preview")

	s.Append("preview", "shown", SeverityInfo)
	s.Append("full", "hidden", SeverityInfo)

	if len(r.appended) != 1 {
		t.Fatalf("renderer saw %d appends, want 1", len(r.appended))
	}
	if r.appended[0].Text != "shown" {
		t.Errorf("renderer saw %q", r.appended[0].Text)
	}
}
