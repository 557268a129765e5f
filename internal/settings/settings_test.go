package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type mapRows struct {
	values map[string]string
	err    error
}

func (m *mapRows) GetSetting(ctx context.Context, key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func writeDefaults(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "defaults.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write defaults: %v", err)
	}
	return path
}

func TestResolutionOrder(t *testing.T) {
	ctx := context.Background()
	path := writeDefaults(t, "corruption_score_threshold: \"55\"\nmin_capture_interval_seconds: \"30\"\n")
	s := New(&mapRows{values: map[string]string{"corruption_score_threshold": "80"}}, path)

	// DB row wins over the defaults file.
	f, err := s.Float(ctx, KeyCorruptionScoreThreshold, DefaultCorruptionScoreThreshold)
	if err != nil {
		t.Fatalf("float: %v", err)
	}
	if f != 80 {
		t.Fatalf("expected DB value 80, got %v", f)
	}

	// Defaults file backs keys with no row.
	n, err := s.Int(ctx, KeyMinCaptureIntervalSeconds, DefaultMinCaptureIntervalSeconds)
	if err != nil {
		t.Fatalf("int: %v", err)
	}
	if n != 30 {
		t.Fatalf("expected file value 30, got %d", n)
	}

	// Hardcoded fallback when neither has the key.
	n, err = s.Int(ctx, KeyMaxCaptureIntervalSeconds, DefaultMaxCaptureIntervalSeconds)
	if err != nil {
		t.Fatalf("int: %v", err)
	}
	if n != DefaultMaxCaptureIntervalSeconds {
		t.Fatalf("expected fallback %d, got %d", DefaultMaxCaptureIntervalSeconds, n)
	}
}

func TestMissingDefaultsFileIgnored(t *testing.T) {
	s := New(&mapRows{}, "/nonexistent/defaults.yaml")
	n, err := s.Int(context.Background(), KeyDegradedConsecutiveThreshold, DefaultDegradedConsecutiveThreshold)
	if err != nil {
		t.Fatalf("int: %v", err)
	}
	if n != DefaultDegradedConsecutiveThreshold {
		t.Fatalf("expected fallback, got %d", n)
	}
}

func TestRowErrorPropagates(t *testing.T) {
	s := New(&mapRows{err: errors.New("db down")}, "")
	if _, err := s.Int(context.Background(), KeyDegradedConsecutiveThreshold, 1); err == nil {
		t.Fatalf("expected DB error to propagate")
	}
}

func TestParseErrors(t *testing.T) {
	ctx := context.Background()
	s := New(&mapRows{values: map[string]string{
		"degraded_consecutive_threshold": "not-a-number",
		"corruption_auto_disable":        "maybe",
	}}, "")
	if _, err := s.Int(ctx, "degraded_consecutive_threshold", 1); err == nil {
		t.Fatalf("expected int parse error")
	}
	if _, err := s.Bool(ctx, "corruption_auto_disable", false); err == nil {
		t.Fatalf("expected bool parse error")
	}
}

func TestDurationUnits(t *testing.T) {
	s := New(&mapRows{values: map[string]string{KeyHeavyDetectionBudgetMS: "750"}}, "")
	d, err := s.Duration(context.Background(), KeyHeavyDetectionBudgetMS, time.Millisecond, DefaultHeavyDetectionBudgetMS*time.Millisecond)
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if d != 750*time.Millisecond {
		t.Fatalf("expected 750ms, got %s", d)
	}
}
