package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))

	log.Info("job fired", String("job", "group1.A"), Duration("took", 1500*time.Millisecond), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["message"] != "job fired" {
		t.Fatalf("message = %v", m["message"])
	}
	if m["comp"] != "test" || m["job"] != "group1.A" {
		t.Fatalf("missing fields: %v", m)
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("expected caller field, got %v", m)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn line missing: %q", out)
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("debug should be disabled at warn level")
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("nothing happens")

	if Nop().IsZero() {
		t.Fatal("Nop logger is not the zero value")
	}
}

func TestValidLevel(t *testing.T) {
	for _, lvl := range []string{"", "debug", "INFO", "warning", "error"} {
		if !ValidLevel(lvl) {
			t.Fatalf("ValidLevel(%q) = false", lvl)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true")
	}
}

func TestServiceFileSinkFollowsApply(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "logs", "a.log")
	svc, log, err := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	jobLog := log.With(String("comp", "scheduler"))
	jobLog.Info("to a")

	second := filepath.Join(dir, "b.log")
	if err := svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: second}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	jobLog.Info("to b")
	jobLog.Debug("filtered")
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(a), `"message":"to a"`) || strings.Contains(string(a), "to b") {
		t.Fatalf("a.log = %q", a)
	}
	if !strings.Contains(string(b), `"message":"to b"`) || !strings.Contains(string(b), `"comp":"scheduler"`) {
		t.Fatalf("b.log = %q", b)
	}
	if strings.Contains(string(b), "filtered") {
		t.Fatalf("debug line written at info level: %q", b)
	}
}
