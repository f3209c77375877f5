// Package models defines the core data structures for EchoNotify.
//
// It includes the notification record type, the reminder configuration
// snapshot, and the enums shared across modules.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Notification flag bits, mirroring the flags reported by the desktop
// notification source.
const (
	// FlagOngoing marks a resident notification that stays in the shade
	// until its owner removes it (media players, sync progress, etc.).
	FlagOngoing uint32 = 1 << 0
)

// Error variables for better error handling and testability
var (
	ErrEmptyKey           = errors.New("notification key cannot be empty")
	ErrEmptyPackage       = errors.New("notification package cannot be empty")
	ErrInvalidRangeMinute = errors.New("scheduler range minute outside [0,1440)")
	ErrInvalidInterval    = errors.New("reminder interval must be positive")
)

// NotificationRecord represents one observed desktop notification. Records
// are immutable values; the registry replaces rather than mutates them.
type NotificationRecord struct {
	// Key is the stable identity derived from the source notification
	// (application + tag + numeric id).
	Key string `json:"key"`
	// Package is the identifier of the application that posted the
	// notification (desktop-entry name or well-known bus name).
	Package string `json:"package"`
	// PostedAt is the source-reported post timestamp in Unix
	// milliseconds. Zero when the source does not report one.
	PostedAt int64 `json:"posted_at,omitempty"`
	// FoundAt is the observation timestamp in Unix milliseconds, stamped
	// by the source when the record is first built.
	FoundAt int64 `json:"found_at"`
	// Flags carries notification flag bits, notably FlagOngoing.
	Flags uint32 `json:"flags,omitempty"`
	// Summary and Body are carried for the status API and for the body
	// of the dismiss notification. They do not participate in identity.
	Summary string `json:"summary,omitempty"`
	Body    string `json:"body,omitempty"`
}

// Ongoing reports whether the record carries the ongoing flag.
func (r NotificationRecord) Ongoing() bool {
	return r.Flags&FlagOngoing != 0
}

// Same reports whether two records describe the same notification. The key
// must match; PostedAt is an additional discriminator used only when both
// sides report one, because some applications repost a notification under a
// fresh source key shortly after arrival and the repost must not count as a
// new notification.
func (r NotificationRecord) Same(other NotificationRecord) bool {
	if r.Key != other.Key {
		return false
	}
	if r.PostedAt == 0 || other.PostedAt == 0 {
		return true
	}
	return r.PostedAt == other.PostedAt
}

// Validate checks the fields required for a record to be tracked.
func (r NotificationRecord) Validate() error {
	if r.Key == "" {
		return ErrEmptyKey
	}
	if r.Package == "" {
		return ErrEmptyPackage
	}
	return nil
}

// RingerMode describes the audible state of the session.
type RingerMode int

const (
	// RingerNormal allows both sound and vibration.
	RingerNormal RingerMode = iota
	// RingerVibrate suppresses sound but allows vibration.
	RingerVibrate
	// RingerSilent suppresses both.
	RingerSilent
)

// String implements fmt.Stringer for logging.
func (m RingerMode) String() string {
	switch m {
	case RingerNormal:
		return "normal"
	case RingerVibrate:
		return "vibrate"
	case RingerSilent:
		return "silent"
	default:
		return fmt.Sprintf("ringer(%d)", int(m))
	}
}

// SchedulerMode selects how the daily scheduler window gates reminders.
type SchedulerMode string

const (
	// SchedulerModeWorking restricts reminders to the window.
	SchedulerModeWorking SchedulerMode = "working"
	// SchedulerModeNonWorking suppresses reminders inside the window.
	SchedulerModeNonWorking SchedulerMode = "nonworking"
)

// IsValidSchedulerMode checks if the given scheduler mode is supported.
func IsValidSchedulerMode(m SchedulerMode) bool {
	return m == SchedulerModeWorking || m == SchedulerModeNonWorking
}

// ReminderConfig is a snapshot of all tunable settings. The configuration
// manager owns the live values; the core reads snapshots and reacts to
// change events.
type ReminderConfig struct {
	Enabled         bool     `json:"enabled" mapstructure:"enabled"`
	IntervalSeconds int      `json:"interval_seconds" mapstructure:"interval_seconds"`
	Repeats         int      `json:"repeats" mapstructure:"repeats"`
	LimitRepeats    bool     `json:"limit_repeats" mapstructure:"limit_repeats"`
	Packages        []string `json:"packages" mapstructure:"packages"`
	IgnoreOngoing   bool     `json:"ignore_ongoing" mapstructure:"ignore_ongoing"`

	SchedulerEnabled  bool          `json:"scheduler_enabled" mapstructure:"scheduler_enabled"`
	SchedulerMode     SchedulerMode `json:"scheduler_mode" mapstructure:"scheduler_mode"`
	RangeBeginMinutes int           `json:"range_begin_minutes" mapstructure:"range_begin_minutes"`
	RangeEndMinutes   int           `json:"range_end_minutes" mapstructure:"range_end_minutes"`

	RespectRingerMode  bool `json:"respect_ringer_mode" mapstructure:"respect_ringer_mode"`
	RespectCalls       bool `json:"respect_calls" mapstructure:"respect_calls"`
	RemindWhenScreenOn bool `json:"remind_when_screen_on" mapstructure:"remind_when_screen_on"`
	ForceWakeLock      bool `json:"force_wakelock" mapstructure:"force_wakelock"`

	DismissNotification  bool `json:"dismiss_notification" mapstructure:"dismiss_notification"`
	DismissImmediately   bool `json:"dismiss_immediately" mapstructure:"dismiss_immediately"`
	DismissAlongReminded bool `json:"dismiss_along_reminded" mapstructure:"dismiss_along_reminded"`

	Ringtone         string `json:"ringtone" mapstructure:"ringtone"`
	VibrationEnabled bool   `json:"vibration_enabled" mapstructure:"vibration_enabled"`
	VibrationPattern string `json:"vibration_pattern" mapstructure:"vibration_pattern"`
}

// Interval returns the configured reminder interval as a duration.
func (c ReminderConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// PackageSelected reports whether the package is in the selected set.
func (c ReminderConfig) PackageSelected(pkg string) bool {
	for _, p := range c.Packages {
		if p == pkg {
			return true
		}
	}
	return false
}

// Validate checks the configuration snapshot at the configuration boundary.
// The core assumes snapshots it receives have already passed this check.
func (c ReminderConfig) Validate() error {
	if c.IntervalSeconds <= 0 {
		return ErrInvalidInterval
	}
	if c.SchedulerEnabled {
		if !IsValidSchedulerMode(c.SchedulerMode) {
			return fmt.Errorf("invalid scheduler mode %q", c.SchedulerMode)
		}
		if c.RangeBeginMinutes < 0 || c.RangeBeginMinutes >= 24*60 {
			return ErrInvalidRangeMinute
		}
		if c.RangeEndMinutes < 0 || c.RangeEndMinutes >= 24*60 {
			return ErrInvalidRangeMinute
		}
	}
	if c.VibrationEnabled {
		if _, err := ParseVibrationPattern(c.VibrationPattern); err != nil {
			return fmt.Errorf("invalid vibration pattern %q: %w", c.VibrationPattern, err)
		}
	}
	return nil
}

// ParseVibrationPattern parses a comma-separated list of millisecond
// durations into alternating vibrate/pause segments. An empty string yields
// an empty pattern, not an error, so a default/fallback value never crashes
// the playback path.
func ParseVibrationPattern(s string) ([]time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	pattern := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		ms, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("segment %q is not a millisecond count", part)
		}
		if ms < 0 {
			return nil, fmt.Errorf("segment %q is negative", part)
		}
		pattern = append(pattern, time.Duration(ms)*time.Millisecond)
	}
	return pattern, nil
}

// PatternDuration returns the total duration of a vibration pattern.
func PatternDuration(pattern []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range pattern {
		total += d
	}
	return total
}
