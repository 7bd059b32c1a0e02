package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewWriterEmitsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "scheduler"))
	at := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	log.Info("trigger fired", String("trigger", "report"), Time("fire_time", at), Err(errors.New("boom")), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if m["message"] != "trigger fired" || m["comp"] != "scheduler" || m["trigger"] != "report" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["err"] != "boom" {
		t.Fatalf("err field = %v, want boom", m["err"])
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller = %q, want short file:line", c)
	}
}

func TestNewWriterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Debug("hidden")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing below warn, got %q", buf.String())
	}
	if log.Enabled(LevelInfo) || !log.Enabled(LevelError) {
		t.Fatal("Enabled does not match configured level")
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	log.Error("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop() should not be zero")
	}
}

func TestAlertSinkThrottles(t *testing.T) {
	svc, log := New(Config{Level: "debug", Alert: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 1}})
	defer svc.Close()
	var buf bytes.Buffer
	svc.SetAlertOutput(&buf)

	log.Info("below alert level")
	log.Warn("misfire detected", String("trigger", "a"))
	log.Warn("misfire detected", String("trigger", "b"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("alert lines = %q, want exactly one", buf.String())
	}
	if !strings.HasPrefix(lines[0], "[WARN] misfire detected") || !strings.Contains(lines[0], "trigger=a") {
		t.Fatalf("unexpected alert line %q", lines[0])
	}
	if svc.AlertsDropped() != 1 {
		t.Fatalf("AlertsDropped = %d, want 1", svc.AlertsDropped())
	}
}

func TestParseLevel(t *testing.T) {
	if got := parseLevel(" warning ", LevelInfo); got != LevelWarn {
		t.Fatalf("parseLevel(warning) = %v", got)
	}
	if got := parseLevel("bogus", LevelError); got != LevelError {
		t.Fatalf("parseLevel(bogus) = %v, want default", got)
	}
}

func TestWithDoesNotShareFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "info").With(String("comp", "scheduler"))
	a := base.With(String("trigger", "a"))
	_ = base.With(String("trigger", "b"))

	a.Info("fired")
	if !strings.Contains(buf.String(), `"trigger":"a"`) || strings.Contains(buf.String(), `"trigger":"b"`) {
		t.Fatalf("derived loggers share fields: %s", buf.String())
	}
}

func TestAlertLineClipsLongValues(t *testing.T) {
	long := strings.Repeat("x", 500)
	line := alertLine([]byte(`{"level":"error","message":"job failed","err":"` + long + `","time":"t"}`))
	if !strings.HasPrefix(line, "[ERROR] job failed err=") || strings.Contains(line, "time=") {
		t.Fatalf("alertLine = %q", line)
	}
	if !strings.HasSuffix(line, "...") || len(line) > alertMaxLine {
		t.Fatalf("value not clipped: %d chars", len(line))
	}
	if got := alertLine([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("non-JSON line = %q", got)
	}
}
