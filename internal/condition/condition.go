// Package condition holds the pure decision logic for the reminder cycle:
// whether any tracked notification still warrants alarm activity, and
// whether a reminder may start under the current audio environment.
package condition

import (
	"log/slog"

	"github.com/EchoNotify/EchoNotify/internal/models"
)

// Evaluator bundles the reminder predicates. It carries no state; it exists
// as a type so the controller can take it as an injected collaborator.
type Evaluator struct{}

// HasActionable reports whether at least one record is actionable: its
// package is selected, it is not ignored, and it is not excluded by the
// ongoing-notification filter. The check short-circuits on the first match.
//
// As an allowed, idempotent side effect it prunes ignored entries that no
// longer correspond to any tracked record.
func (Evaluator) HasActionable(records []models.NotificationRecord, ignored *models.IgnoredSet, cfg models.ReminderConfig) bool {
	if ignored != nil {
		keep := make(map[string]struct{}, len(records))
		for _, r := range records {
			keep[r.Key] = struct{}{}
		}
		if pruned := ignored.PruneExcept(keep); pruned > 0 {
			slog.Debug("Evaluator.HasActionable pruned stale ignores", "pruned", pruned)
		}
	}

	for _, r := range records {
		if !cfg.PackageSelected(r.Package) {
			continue
		}
		if ignored != nil && ignored.Contains(r.Key) {
			continue
		}
		if cfg.IgnoreOngoing && r.Ongoing() {
			continue
		}
		return true
	}
	return false
}

// CanStartReminder reports whether a reminder cycle may run at all. It
// returns false when reminders are globally disabled. When ringer-mode
// respect is enabled it also returns false on a silent ringer, while
// do-not-disturb is active, or on a vibrate-only ringer with vibration
// disabled in the configuration.
func (Evaluator) CanStartReminder(cfg models.ReminderConfig, ringer models.RingerMode, dndEnabled bool) bool {
	if !cfg.Enabled {
		return false
	}
	if !cfg.RespectRingerMode {
		return true
	}
	if dndEnabled {
		return false
	}
	switch ringer {
	case models.RingerSilent:
		return false
	case models.RingerVibrate:
		return cfg.VibrationEnabled
	default:
		return true
	}
}
