package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	var buf bytes.Buffer
	logger := Setup("dscd", "test", WithOutput(&buf), WithRedactedKeys("api_key"))
	logger.Info("dsc: started", "api_key", "hunter2", "asset", "weth", "authorization", "Bearer x")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["message"] != "dsc: started" || line["severity"] != "INFO" {
		t.Fatalf("unexpected envelope %v", line)
	}
	if line["service"] != "dscd" || line["env"] != "test" {
		t.Fatalf("missing service attributes %v", line)
	}
	if line["api_key"] != RedactedValue || line["authorization"] != RedactedValue {
		t.Fatalf("sensitive values leaked: %v", line)
	}
	if line["asset"] != "weth" {
		t.Fatalf("allowlisted value masked: %v", line)
	}
}

func TestSetupLevelFilters(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	var buf bytes.Buffer
	logger := Setup("dscd", "", WithOutput(&buf), WithLevel(ParseLevel("warn")))
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestSetupWritesFile(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	path := filepath.Join(t.TempDir(), "dscd.log")
	var buf bytes.Buffer
	logger := Setup("dscd", "", WithOutput(&buf), WithFile(path, 1, 1))
	logger.Info("persisted")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "persisted") {
		t.Fatalf("log file missing line: %q", data)
	}
}
