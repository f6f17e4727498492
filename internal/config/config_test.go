package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "texbuild.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "service:\n  base_url: http://localhost:8080\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Service.PreviewPath != "/api/compile/preview" {
		t.Errorf("preview path = %q", cfg.Service.PreviewPath)
	}
	if cfg.PreviewTimeoutDuration() != 60*time.Second {
		t.Errorf("preview timeout = %v, want 60s", cfg.PreviewTimeoutDuration())
	}
	if cfg.FullTimeoutDuration() != 300*time.Second {
		t.Errorf("full timeout = %v, want 300s", cfg.FullTimeoutDuration())
	}
	if cfg.PollIntervalDuration() != time.Second {
		t.Errorf("poll interval = %v, want 1s", cfg.PollIntervalDuration())
	}
	if cfg.Compile.ColorMode != "light" {
		t.Errorf("color mode = %q, want light", cfg.Compile.ColorMode)
	}
}

func TestLoadMissingBaseURL(t *testing.T) {
	path := writeConfig(t, "compile:\n  preview_timeout: 10s\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing base_url")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeConfig(t, "service:\n  base_url: http://x\ncompile:\n  preview_timeout: banana\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadInvalidColorMode(t *testing.T) {
	path := writeConfig(t, "service:\n  base_url: http://x\ncompile:\n  color_mode: sepia\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid color mode")
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEXBUILD_TEST_URL", "http://service.internal:9999")
	path := writeConfig(t, "service:\n  base_url: ${TEXBUILD_TEST_URL}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Service.BaseURL != "http://service.internal:9999" {
		t.Errorf("base url = %q", cfg.Service.BaseURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCreateDefaultRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "texbuild.yaml")
	if err := CreateDefault(path, false); err != nil {
		t.Fatalf("CreateDefault() error: %v", err)
	}
	if err := CreateDefault(path, false); err == nil {
		t.Fatal("expected error without --force")
	}
	if err := CreateDefault(path, true); err != nil {
		t.Fatalf("CreateDefault(force) error: %v", err)
	}
}
