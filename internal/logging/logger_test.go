package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	l := New(&Config{Level: "DEBUG", Output: "stdout", JSONFormat: true})
	l.output = buf
	return l
}

func TestWithWorkKindSetsEntryField(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf).WithWorkKind("scheduled_screening")
	l.Info("screened")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log line: %v", err)
	}
	if entry.WorkKind != "scheduled_screening" {
		t.Errorf("expected work_kind %q, got %q", "scheduled_screening", entry.WorkKind)
	}
}

func TestCloneCopiesWorkKind(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(&buf).WithWorkKind("alert_check")
	derived := base.WithField("alert_id", 7)

	if derived.workKind != "alert_check" {
		t.Errorf("expected cloned logger to retain work kind, got %q", derived.workKind)
	}
}

func TestWithTraceContextStampsTraceIDAndWorkKind(t *testing.T) {
	ctx, log := WithTraceContext(context.Background(), "auto_plan")
	if log.traceID == "" {
		t.Error("expected a non-empty trace ID")
	}
	if log.workKind != "auto_plan" {
		t.Errorf("expected work kind %q, got %q", "auto_plan", log.workKind)
	}
	if got := FromContext(ctx); got != log {
		t.Error("expected FromContext to return the logger stamped onto ctx")
	}
}
