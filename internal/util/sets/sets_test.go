package sets

import "testing"

func TestSet(t *testing.T) {
	s := New(".tex", ".bib")
	if !s.Has(".tex") || !s.Has(".bib") {
		t.Error("expected initial values present")
	}
	if s.Has(".cls") {
		t.Error("unexpected value present")
	}
	s.Add(".cls")
	if !s.Has(".cls") {
		t.Error("expected added value present")
	}
}
