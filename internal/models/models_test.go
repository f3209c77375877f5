package models

import (
	"testing"
	"time"
)

func TestNotificationRecordSame(t *testing.T) {
	base := NotificationRecord{Key: "com.x|0|17", Package: "com.x", PostedAt: 1000}
	tests := []struct {
		name  string
		other NotificationRecord
		want  bool
	}{
		{"identical", NotificationRecord{Key: "com.x|0|17", Package: "com.x", PostedAt: 1000}, true},
		{"different key", NotificationRecord{Key: "com.y|0|17", Package: "com.y", PostedAt: 1000}, false},
		{"different posted time", NotificationRecord{Key: "com.x|0|17", Package: "com.x", PostedAt: 2000}, false},
		{"missing posted time", NotificationRecord{Key: "com.x|0|17", Package: "com.x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.Same(tt.other); got != tt.want {
				t.Errorf("Same(%v) = %v, want %v", tt.other, got, tt.want)
			}
		})
	}
}

func TestParseVibrationPattern(t *testing.T) {
	pattern, err := ParseVibrationPattern("500, 250,500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []time.Duration{500 * time.Millisecond, 250 * time.Millisecond, 500 * time.Millisecond}
	if len(pattern) != len(want) {
		t.Fatalf("expected %d segments, got %d", len(want), len(pattern))
	}
	for i := range want {
		if pattern[i] != want[i] {
			t.Errorf("segment %d: expected %v, got %v", i, want[i], pattern[i])
		}
	}
	if total := PatternDuration(pattern); total != 1250*time.Millisecond {
		t.Errorf("expected total 1.25s, got %v", total)
	}
}

func TestParseVibrationPatternEmpty(t *testing.T) {
	pattern, err := ParseVibrationPattern("")
	if err != nil {
		t.Fatalf("empty pattern should not fail: %v", err)
	}
	if pattern != nil {
		t.Errorf("expected nil pattern, got %v", pattern)
	}
}

func TestParseVibrationPatternInvalid(t *testing.T) {
	if _, err := ParseVibrationPattern("500,abc"); err == nil {
		t.Error("expected error for non-numeric segment")
	}
	if _, err := ParseVibrationPattern("-100"); err == nil {
		t.Error("expected error for negative segment")
	}
}

func TestReminderConfigValidate(t *testing.T) {
	cfg := ReminderConfig{IntervalSeconds: 60}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("minimal config should validate: %v", err)
	}

	cfg.IntervalSeconds = 0
	if err := cfg.Validate(); err != ErrInvalidInterval {
		t.Errorf("expected ErrInvalidInterval, got %v", err)
	}

	cfg = ReminderConfig{IntervalSeconds: 60, SchedulerEnabled: true, SchedulerMode: "weekend"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown scheduler mode")
	}

	cfg = ReminderConfig{IntervalSeconds: 60, SchedulerEnabled: true, SchedulerMode: SchedulerModeWorking, RangeBeginMinutes: 1440}
	if err := cfg.Validate(); err != ErrInvalidRangeMinute {
		t.Errorf("expected ErrInvalidRangeMinute, got %v", err)
	}
}

func TestIgnoredSetPrune(t *testing.T) {
	s := NewIgnoredSet()
	s.Add("a")
	s.Add("b")
	s.Add("c")

	keep := map[string]struct{}{"b": {}}
	if pruned := s.PruneExcept(keep); pruned != 2 {
		t.Errorf("expected 2 pruned, got %d", pruned)
	}
	if !s.Contains("b") || s.Contains("a") || s.Contains("c") {
		t.Errorf("unexpected set contents after prune: %v", s.Keys())
	}
	// Idempotent.
	if pruned := s.PruneExcept(keep); pruned != 0 {
		t.Errorf("second prune should be a no-op, pruned %d", pruned)
	}
}
