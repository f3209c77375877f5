// Package schedule computes scheduler-window adjustments for the next
// reminder wake time.
package schedule

import (
	"log/slog"
	"time"

	"github.com/EchoNotify/EchoNotify/internal/models"
)

// NextWakeTime adjusts a naive next-wake candidate (typically now+interval)
// against the configured daily window. A zero return value means no
// adjustment is needed and plain interval scheduling applies.
//
// Working-period mode confines reminders to [begin, end] of each day:
// candidates before the window move to today's begin, candidates after it
// move to the next future begin. Non-working-period mode suppresses
// reminders inside [begin, end): candidates inside the window move to its
// end.
//
// A window whose end precedes its begin (wrapping midnight) is not given
// special treatment; the calculation runs on same-day timestamps as below.
func NextWakeTime(mode models.SchedulerMode, beginMinutes, endMinutes int, naive time.Time) time.Time {
	if naive.IsZero() {
		return time.Time{}
	}

	year, month, day := naive.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, naive.Location())
	rangeBegin := dayStart.Add(time.Duration(beginMinutes) * time.Minute)
	rangeEnd := dayStart.Add(time.Duration(endMinutes) * time.Minute)

	switch mode {
	case models.SchedulerModeWorking:
		if naive.Before(rangeBegin) {
			slog.Debug("schedule.NextWakeTime: before working window, moving to begin", "naive", naive, "begin", rangeBegin)
			return rangeBegin
		}
		if naive.After(rangeEnd) {
			next := rangeBegin
			if !next.After(naive) {
				next = next.AddDate(0, 0, 1)
			}
			// Defensive: never return a wake earlier than the naive
			// candidate, that would violate the minimum interval.
			if next.Before(naive) {
				slog.Warn("schedule.NextWakeTime: computed begin precedes naive candidate, falling back", "naive", naive, "computed", next)
				return time.Time{}
			}
			slog.Debug("schedule.NextWakeTime: after working window, moving to next begin", "naive", naive, "next", next)
			return next
		}
		return time.Time{}

	case models.SchedulerModeNonWorking:
		if !naive.Before(rangeBegin) && naive.Before(rangeEnd) {
			slog.Debug("schedule.NextWakeTime: inside non-working window, moving to end", "naive", naive, "end", rangeEnd)
			return rangeEnd
		}
		return time.Time{}

	default:
		slog.Warn("schedule.NextWakeTime: unknown scheduler mode", "mode", mode)
		return time.Time{}
	}
}
