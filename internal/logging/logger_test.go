package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	zerologlog "github.com/rs/zerolog/log"
)

func restoreGlobalLogger(t *testing.T) {
	t.Helper()
	prevLevel := zerolog.GlobalLevel()
	prevLogger := zerologlog.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(prevLevel)
		zerologlog.Logger = prevLogger
	})
}

func TestInitLoggerSetsDefaultsAndWritesJSON(t *testing.T) {
	restoreGlobalLogger(t)

	logPath := filepath.Join(t.TempDir(), "test.log")

	logger, err := InitLogger(Config{
		Level:  "invalid-level",
		Format: "json",
		Output: logPath,
		Fields: map[string]string{
			"environment": "test",
		},
	})
	if err != nil {
		t.Fatalf("InitLogger returned error: %v", err)
	}

	logger.Info("structured message")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 0 {
		t.Fatalf("expected log output to be written")
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}

	if got := entry["service"]; got != "monitron" {
		t.Fatalf("expected service field 'monitron', got %v", got)
	}

	if got := entry["environment"]; got != "test" {
		t.Fatalf("expected environment field 'test', got %v", got)
	}

	if got := entry["message"]; got != "structured message" {
		t.Fatalf("expected message 'structured message', got %v", got)
	}

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("expected invalid level to fall back to info, got %s", zerolog.GlobalLevel())
	}
}

func TestLoggerContextChaining(t *testing.T) {
	restoreGlobalLogger(t)

	logPath := filepath.Join(t.TempDir(), "context.log")

	logger, err := InitLogger(Config{Level: "debug", Format: "json", Output: logPath})
	if err != nil {
		t.Fatalf("InitLogger returned error: %v", err)
	}

	logger.WithComponent(ComponentScheduler).
		WithMonitor(7, "api").
		WithEvent(EventMonitorsClaimed).
		WithFields(map[string]interface{}{"claimed": 3}).
		Info("claimed monitors")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}

	if got := entry["component"]; got != "scheduler" {
		t.Fatalf("expected component 'scheduler', got %v", got)
	}
	if got := entry["monitor"]; got != "api" {
		t.Fatalf("expected monitor 'api', got %v", got)
	}
	if got := entry["event"]; got != "monitors_claimed" {
		t.Fatalf("expected event 'monitors_claimed', got %v", got)
	}
	if got := entry["claimed"]; got != float64(3) {
		t.Fatalf("expected claimed 3, got %v", got)
	}
}

func TestInitLoggerFileOutputError(t *testing.T) {
	restoreGlobalLogger(t)

	badPath := filepath.Join(t.TempDir(), "nested", "log.json")
	if _, err := InitLogger(Config{Output: badPath}); err == nil {
		t.Fatalf("expected error when log file path directory does not exist")
	}
}
