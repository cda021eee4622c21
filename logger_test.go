package automation

import (
	"bytes"
	"strings"
	"testing"
)

func TestFmtLoggerOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewFmtLogger(buf)
	logger.Info("execution enqueued: rule=%s", "automaticPayment")

	line := buf.String()
	if !strings.Contains(line, "INFO") {
		t.Fatalf("level missing: %q", line)
	}
	if !strings.Contains(line, "rule=automaticPayment") {
		t.Fatalf("formatted args missing: %q", line)
	}
}

func TestFmtLoggerFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewFmtLogger(buf).WithFields(map[string]any{
		"rule":         "automaticPayment",
		"execution_id": "x-1",
	})
	logger.Warn("action attempt failed")

	line := buf.String()
	if !strings.Contains(line, "execution_id=x-1") || !strings.Contains(line, "rule=automaticPayment") {
		t.Fatalf("fields missing: %q", line)
	}
}

func TestNormalizeLogger(t *testing.T) {
	if NormalizeLogger(nil) == nil {
		t.Fatalf("nil logger must normalize to the fallback")
	}
	buf := &bytes.Buffer{}
	logger := NewFmtLogger(buf)
	if NormalizeLogger(logger) != logger {
		t.Fatalf("non-nil logger must pass through")
	}
}

func TestWithLoggerFieldsFallsBackForPlainLoggers(t *testing.T) {
	buf := &bytes.Buffer{}
	base := NewFmtLogger(buf)
	withFields := WithLoggerFields(base, map[string]any{"rule": "calendarSync"})
	withFields.Info("enqueued")
	if !strings.Contains(buf.String(), "rule=calendarSync") {
		t.Fatalf("fields not applied: %q", buf.String())
	}

	// base fields must survive further derivation
	derived := WithLoggerFields(withFields, map[string]any{"execution_id": "x-9"})
	derived.Info("claimed")
	out := buf.String()
	if !strings.Contains(out, "rule=calendarSync") || !strings.Contains(out, "execution_id=x-9") {
		t.Fatalf("derived fields not merged: %q", out)
	}
}
