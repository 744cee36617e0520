package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"taskwatch/internal/logging"
)

func TestConsoleHandlerWritesComponentPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := logging.New(logging.Options{
		Level:       "debug",
		Format:      "console",
		OutputPaths: []string{path},
	})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	component := logging.WithComponent(logger, "matcher")
	component.Info("event bound",
		logging.String(logging.FieldEventID, "ev1"),
		logging.Int("score", 96))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "INFO matcher: event bound") {
		t.Fatalf("unexpected line format: %q", line)
	}
	if !strings.Contains(line, "event_id=ev1") || !strings.Contains(line, "score=96") {
		t.Fatalf("missing attrs: %q", line)
	}
}

func TestJSONFormatAndLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := logging.New(logging.Options{
		Level:       "warn",
		Format:      "json",
		OutputPaths: []string{path},
	})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	logger.Info("dropped")
	logger.Warn("kept", logging.String("key", "value"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"key":"value"`) {
		t.Fatalf("unexpected json output: %q", out)
	}
}

func TestUnsupportedFormatRejected(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	logger.Error("nothing happens", logging.Error(nil))
}
