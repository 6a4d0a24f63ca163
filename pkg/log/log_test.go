package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

func TestInit_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf, Timestamp: false})
	defer Init(DefaultConfig())

	Info().Msg("should be filtered")
	Warn().Msg("should appear")

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Errorf("info message emitted at warn level: %s", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("warn message missing: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseLevel(tt.in); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestErr_AttachesStacktrace(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf, Timestamp: false})
	defer Init(DefaultConfig())

	err := kiterrors.NewNotFittedError("LogisticRegression", "Predict")
	Err(err).Msg("predict failed")

	out := buf.String()
	if !strings.Contains(out, "predict failed") {
		t.Fatalf("message missing: %s", out)
	}
	if !strings.Contains(out, StacktraceAttrKey) {
		t.Errorf("expected %q field in output: %s", StacktraceAttrKey, out)
	}
	if !strings.Contains(out, "log_test.go") {
		t.Errorf("expected stack trace to reference the test file: %s", out)
	}
}

func TestErr_NilSafeDetails(t *testing.T) {
	// Errors without a cockroachdb stack must still log cleanly.
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf, Timestamp: false})
	defer Init(DefaultConfig())

	Err(kiterrors.New("plain error")).Msg("logged")

	if !strings.Contains(buf.String(), "logged") {
		t.Errorf("plain error did not log: %s", buf.String())
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf, Timestamp: false})
	defer Init(DefaultConfig())

	logger := Component("trainer")
	logger.Info().Msg("started")

	out := buf.String()
	if !strings.Contains(out, ComponentKey) || !strings.Contains(out, "trainer") {
		t.Errorf("component field missing: %s", out)
	}
}

func TestWarningBridge(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf, Timestamp: false})
	defer Init(DefaultConfig())

	kiterrors.Warn(kiterrors.NewConvergenceWarning("GradientDescent", 100, "loss plateaued"))

	out := buf.String()
	if !strings.Contains(out, "GradientDescent") {
		t.Errorf("warning not routed through zerolog: %s", out)
	}
	if !strings.Contains(out, "ConvergenceWarning") {
		t.Errorf("expected structured warning object in output: %s", out)
	}
}

func TestNewTestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewTestLogger(&buf)
	l.Info().Str("k", "v").Msg("captured")

	if !strings.Contains(buf.String(), "captured") {
		t.Errorf("test logger did not capture output: %s", buf.String())
	}
}
