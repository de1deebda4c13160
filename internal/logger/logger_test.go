package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLogger_Log(t *testing.T) {
	tests := []struct {
		name    string
		level   Level
		message string
		fields  Fields
		err     error
		want    bool // should log
	}{
		{
			name:    "info message",
			level:   LevelInfo,
			message: "run finished",
			fields:  Fields{"records": 42},
			want:    true,
		},
		{
			name:    "debug below threshold",
			level:   LevelDebug,
			message: "page parsed",
			want:    false,
		},
		{
			name:    "error with err",
			level:   LevelError,
			message: "fetch failed",
			err:     errors.New("connection refused"),
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(LevelInfo, &buf)

			logger.log(tt.level, tt.message, tt.fields, tt.err)

			if logged := buf.Len() > 0; logged != tt.want {
				t.Errorf("log() logged = %v, want %v", logged, tt.want)
			}
			if !tt.want {
				return
			}

			var entry Entry
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("output is not JSON: %v", err)
			}
			if entry.Message != tt.message {
				t.Errorf("message = %q, want %q", entry.Message, tt.message)
			}
			if tt.err != nil && entry.Error != tt.err.Error() {
				t.Errorf("error = %q, want %q", entry.Error, tt.err.Error())
			}
		})
	}
}

func TestLoggerOneLinePerEntry(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LevelDebug, &buf)

	logger.Debug("first", nil)
	logger.Warn("second", Fields{"page": 2})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	for _, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Errorf("line is not valid JSON: %s", line)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"DEBUG", LevelDebug},
		{"WARN", LevelWarn},
		{"nonsense", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()

	m.IncrCounter("runs_total", 1)
	m.IncrCounter("runs_total", 1)
	m.SetGauge("tracked_projects", 120)
	m.RecordTiming("run_duration", 2*time.Second)
	m.RecordTiming("run_duration", 4*time.Second)

	snap := m.GetSnapshot()

	if snap.Counters["runs_total"] != 2 {
		t.Errorf("counter = %d, want 2", snap.Counters["runs_total"])
	}
	if snap.Gauges["tracked_projects"] != 120 {
		t.Errorf("gauge = %v, want 120", snap.Gauges["tracked_projects"])
	}

	timing := snap.Timings["run_duration"]
	if timing.Count != 2 {
		t.Fatalf("timing count = %d, want 2", timing.Count)
	}
	if timing.Min != 2*time.Second || timing.Max != 4*time.Second {
		t.Errorf("min/max = %v/%v", timing.Min, timing.Max)
	}
	if timing.Mean != 3*time.Second {
		t.Errorf("mean = %v, want 3s", timing.Mean)
	}
}
