package envconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestValue(t *testing.T) {
	t.Setenv("PLOT_ORACLE_WIDTH", "1024")
	t.Setenv("PLOT_ORACLE_THRESHOLD", "2.5")
	t.Setenv("PLOT_ORACLE_RESAMPLE", "false")
	t.Setenv("PLOT_ORACLE_TIMEOUT", "5s")
	t.Setenv("PLOT_ORACLE_BROKEN", "wide")

	tests := []struct {
		name string
		got  any
		want any
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			Value("PLOT_ORACLE_WIDTH", 800),
			1024,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			Value("PLOT_ORACLE_THRESHOLD", 10.0),
			2.5,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			Value("PLOT_ORACLE_RESAMPLE", true),
			false,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			Value("PLOT_ORACLE_TIMEOUT", 30*time.Second),
			5 * time.Second,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			Value("PLOT_ORACLE_BROKEN", 600),
			600,
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			Value("PLOT_ORACLE_UNSET", "svg"),
			"svg",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	directory := t.TempDir()
	filename := filepath.Join(directory, ".env")
	if err := os.WriteFile(filename, []byte("PLOT_ORACLE_FROM_FILE=chromium\nPLOT_ORACLE_PRESET=file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PLOT_ORACLE_PRESET", "env")
	t.Cleanup(func() {
		os.Unsetenv("PLOT_ORACLE_FROM_FILE")
	})

	if err := Load(filename, filepath.Join(directory, "missing.env")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if got := os.Getenv("PLOT_ORACLE_FROM_FILE"); got != "chromium" {
		t.Errorf("Expected chromium, got %q", got)
	}
	if got := os.Getenv("PLOT_ORACLE_PRESET"); got != "env" {
		t.Errorf("Expected env to win, got %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	t.Setenv("GO_LOG", "debug")

	var buffer bytes.Buffer
	logger, err := NewLogger(&buffer, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	logger.Debug("stage finished", "stage", "pixel-diff")

	var record map[string]any
	if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
		t.Fatalf("Failed to decode log record: %v", err)
	}
	if record["severitytext"] != "DEBUG" || record["body"] != "stage finished" {
		t.Errorf("Unexpected record %v", record)
	}

	t.Setenv("GO_LOG", "loud")
	if _, err := NewLogger(&buffer, false); err == nil {
		t.Error("Expected error for invalid level")
	}
}
