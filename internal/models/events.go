// Package models defines the tagged event union fed into the reminder cycle
// controller. All external triggers, whatever their transport, arrive as one
// of these variants so the controller can process them on a single goroutine.
package models

// EventType identifies the variant of an Event.
type EventType string

const (
	// EventPosted reports a newly observed notification.
	EventPosted EventType = "posted"
	// EventRemoved reports that a notification left the shade.
	EventRemoved EventType = "removed"
	// EventReconcile carries a full snapshot for sources without
	// reliable posted/removed callbacks.
	EventReconcile EventType = "reconcile"
	// EventConfigChanged reports that a configuration value changed.
	EventConfigChanged EventType = "config_changed"
	// EventRingerChanged reports a ringer mode change.
	EventRingerChanged EventType = "ringer_changed"
	// EventDndChanged reports a do-not-disturb toggle.
	EventDndChanged EventType = "dnd_changed"
	// EventCallChanged reports a call becoming active or ending.
	EventCallChanged EventType = "call_changed"
	// EventUserDismissed reports that the user closed the dismiss
	// notification, asking for reminders to stop.
	EventUserDismissed EventType = "user_dismissed"
	// EventWakeFired reports that a scheduled reminder wake elapsed.
	EventWakeFired EventType = "wake_fired"
)

// Event is the tagged input variant consumed by the controller loop.
// Only the fields relevant to the Type are populated.
type Event struct {
	Type       EventType
	Record     NotificationRecord
	Snapshot   []NotificationRecord
	ConfigKey  string
	RingerMode RingerMode
	DndEnabled bool
	CallActive bool
}

// CycleStatus is the externally observable summary of the reminder cycle,
// served by the status API.
type CycleStatus struct {
	Active           bool   `json:"active"`
	RemainingRepeats int    `json:"remaining_repeats"`
	NextWakeAt       int64  `json:"next_wake_at,omitempty"`
	ActiveCount      int    `json:"active_count"`
	IgnoredCount     int    `json:"ignored_count"`
	WakeLockHeld     bool   `json:"wakelock_held"`
	LastPlaybackAt   int64  `json:"last_playback_at,omitempty"`
	StoppedReason    string `json:"stopped_reason,omitempty"`
}

// HistoryEntry records one fired reminder for the history API.
type HistoryEntry struct {
	FiredAt int64 `json:"fired_at"`
	Count   int   `json:"count"`
	Skipped bool  `json:"skipped"`
}
