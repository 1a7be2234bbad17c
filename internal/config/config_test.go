package config

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.OutputSuffix != "_fast" {
		t.Fatalf("expected default output suffix, got %q", cfg.OutputSuffix)
	}
	if cfg.TimeLayout != "2006-01-02T15:04:05Z" {
		t.Fatalf("expected default time layout, got %q", cfg.TimeLayout)
	}
	if cfg.VerifyOutput {
		t.Fatalf("expected verification off by default")
	}
	if cfg.TraceTimeBins != 100 || cfg.TraceWindowBins != 10 {
		t.Fatalf("unexpected trace defaults: %d/%d", cfg.TraceTimeBins, cfg.TraceWindowBins)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GSPEED_OUTPUT_SUFFIX", "_quick")
	t.Setenv("GSPEED_CREATOR", "tester")
	t.Setenv("GSPEED_TIME_LAYOUT", "2006-01-02T15:04:05.000Z")
	t.Setenv("GSPEED_VERIFY_OUTPUT", "true")
	t.Setenv("GSPEED_TRACE_TIME_BINS", "50")

	cfg := Load()
	if cfg.OutputSuffix != "_quick" {
		t.Fatalf("expected override suffix, got %q", cfg.OutputSuffix)
	}
	if cfg.Creator != "tester" {
		t.Fatalf("expected override creator, got %q", cfg.Creator)
	}
	if cfg.TimeLayout != "2006-01-02T15:04:05.000Z" {
		t.Fatalf("expected override layout, got %q", cfg.TimeLayout)
	}
	if !cfg.VerifyOutput {
		t.Fatalf("expected override verify")
	}
	if cfg.TraceTimeBins != 50 {
		t.Fatalf("expected override bins, got %d", cfg.TraceTimeBins)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("GSPEED_OUTPUT_SUFFIX=_dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv does not override variables that are already set
	t.Setenv("GSPEED_OUTPUT_SUFFIX", "")
	os.Unsetenv("GSPEED_OUTPUT_SUFFIX")

	cfg := Load(path)
	if cfg.OutputSuffix != "_dotenv" {
		t.Fatalf("expected suffix from env file, got %q", cfg.OutputSuffix)
	}
}

func TestLoadWarnsOnInvalidValue(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	t.Setenv("GSPEED_TRACE_TIME_BINS", "abc")
	t.Setenv("GSPEED_OUTPUT_SUFFIX", "_quick")

	cfg := Load()
	if cfg.TraceTimeBins != 100 {
		t.Fatalf("expected fallback bins, got %d", cfg.TraceTimeBins)
	}
	if cfg.OutputSuffix != "_quick" {
		t.Fatalf("valid settings must survive a bad one, got suffix %q", cfg.OutputSuffix)
	}
	if !strings.Contains(buf.String(), "[WARN]") {
		t.Fatalf("expected a warning, got %q", buf.String())
	}
}
