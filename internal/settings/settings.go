// Package settings resolves tunable policy values. Lookup order: settings
// table row, YAML defaults file, hardcoded fallback passed by the caller.
package settings

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Setting keys.
const (
	KeyCorruptionScoreThreshold     = "corruption_score_threshold"
	KeyCorruptionAutoDiscardEnabled = "corruption_auto_discard_enabled"
	KeyCorruptionAutoDisable        = "corruption_auto_disable_degraded"
	KeyDegradedConsecutiveThreshold = "degraded_consecutive_threshold"
	KeyDegradedTimeWindowMinutes    = "degraded_time_window_minutes"
	KeyDegradedFailurePercentage    = "degraded_failure_percentage"
	KeyHeavyDetectionBudgetMS       = "heavy_detection_budget_ms"
	KeyMinCaptureIntervalSeconds    = "min_capture_interval_seconds"
	KeyMaxCaptureIntervalSeconds    = "max_capture_interval_seconds"
	KeyCaptureGracePeriodSeconds    = "capture_grace_period_seconds"
	KeyJobRetentionHours            = "job_retention_hours"
	KeyJobMaxRetries                = "job_max_retries"
	KeyMaxProcessingAgeMinutes      = "max_processing_age_minutes"
	KeyLocationLatitude             = "location_latitude"
	KeyLocationLongitude            = "location_longitude"
)

// Default values used when neither the DB nor the defaults file has a key.
const (
	DefaultCorruptionScoreThreshold     = 70.0
	DefaultDegradedConsecutiveThreshold = 10
	DefaultDegradedTimeWindowMinutes    = 30
	DefaultDegradedFailurePercentage    = 50.0
	DefaultHeavyDetectionBudgetMS       = 500
	DefaultMinCaptureIntervalSeconds    = 5
	DefaultMaxCaptureIntervalSeconds    = 86400
	DefaultCaptureGracePeriodSeconds    = 2
	DefaultJobRetentionHours            = 72
	DefaultJobMaxRetries                = 3
	DefaultMaxProcessingAgeMinutes      = 10
)

// RowSource reads raw setting rows; found=false means no row.
type RowSource interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// Settings is the shared provider handed to the validator, corruption
// controller, and queue engines.
type Settings struct {
	rows     RowSource
	defaults map[string]string
}

// New builds a provider. defaultsFile is optional; when empty or unreadable
// only hardcoded fallbacks back the DB rows.
func New(rows RowSource, defaultsFile string) *Settings {
	s := &Settings{rows: rows, defaults: map[string]string{}}
	if defaultsFile == "" {
		return s
	}
	data, err := os.ReadFile(defaultsFile)
	if err != nil {
		log.Printf("settings: defaults file %s unreadable, continuing without it: %v", defaultsFile, err)
		return s
	}
	if err := yaml.Unmarshal(data, &s.defaults); err != nil {
		log.Printf("settings: defaults file %s invalid, continuing without it: %v", defaultsFile, err)
		s.defaults = map[string]string{}
	}
	return s
}

// Raw resolves a key to its raw string value, or found=false. DB errors
// propagate: a missing setting is a business default, an unreachable DB is
// infrastructure.
func (s *Settings) Raw(ctx context.Context, key string) (string, bool, error) {
	if s.rows != nil {
		v, found, err := s.rows.GetSetting(ctx, key)
		if err != nil {
			return "", false, err
		}
		if found {
			return v, true, nil
		}
	}
	if v, ok := s.defaults[key]; ok {
		return v, true, nil
	}
	return "", false, nil
}

// Int resolves an integer setting.
func (s *Settings) Int(ctx context.Context, key string, def int) (int, error) {
	raw, found, err := s.Raw(ctx, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("setting %s: parse int %q: %w", key, raw, err)
	}
	return n, nil
}

// Float resolves a float setting.
func (s *Settings) Float(ctx context.Context, key string, def float64) (float64, error) {
	raw, found, err := s.Raw(ctx, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("setting %s: parse float %q: %w", key, raw, err)
	}
	return f, nil
}

// Bool resolves a boolean setting.
func (s *Settings) Bool(ctx context.Context, key string, def bool) (bool, error) {
	raw, found, err := s.Raw(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("setting %s: parse bool %q: %w", key, raw, err)
	}
	return b, nil
}

// Duration resolves a duration stored as an integer count of the given unit.
func (s *Settings) Duration(ctx context.Context, key string, unit time.Duration, def time.Duration) (time.Duration, error) {
	n, err := s.Int(ctx, key, int(def/unit))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}
