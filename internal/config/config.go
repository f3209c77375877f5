// Package config loads and watches the EchoNotify configuration.
//
// Configuration comes from a YAML file with environment overrides. Values
// are validated here, at the boundary: the core packages assume the
// snapshots they receive are sane, and unusable values degrade to
// defaults with a logged warning instead of crashing the daemon.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/EchoNotify/EchoNotify/internal/models"
)

// Defaults applied when the configuration file or a value is missing.
const (
	DefaultIntervalSeconds   = 300
	DefaultRepeats           = 5
	DefaultRangeBeginMinutes = 8 * 60
	DefaultRangeEndMinutes   = 22 * 60
	DefaultVibrationPattern  = "500,500"
	DefaultRingtone          = "/usr/share/sounds/freedesktop/stereo/message-new-instant.oga"
	DefaultPollSeconds       = 60
	DefaultRetentionDays     = 30
)

// AppConfig holds the daemon-level settings that are fixed for the
// lifetime of the process.
type AppConfig struct {
	DatabaseDSN          string   `mapstructure:"database_dsn"`
	APIAddr              string   `mapstructure:"api_addr"`
	PlayerCommand        string   `mapstructure:"player_command"`
	PlayerArgs           []string `mapstructure:"player_args"`
	VibratorCommand      string   `mapstructure:"vibrator_command"`
	VibratorArgs         []string `mapstructure:"vibrator_args"`
	ObserverMode         string   `mapstructure:"observer_mode"`
	PollIntervalSeconds  int      `mapstructure:"poll_interval_seconds"`
	HistoryRetentionDays int      `mapstructure:"history_retention_days"`
}

// PollInterval returns the snapshot poll interval as a duration.
func (c AppConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// HistoryRetention returns the history retention window as a duration.
func (c AppConfig) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}

type fileConfig struct {
	AppConfig `mapstructure:",squash"`
	Reminder  models.ReminderConfig `mapstructure:"reminder"`
}

// Manager owns the live configuration. Reads are snapshots and safe from
// any goroutine; the file watcher refreshes them in place.
type Manager struct {
	v *viper.Viper

	mu       sync.RWMutex
	app      AppConfig
	reminder models.ReminderConfig
}

// NewManager creates a Manager reading from the given config file path, or
// from the default search paths when the path is empty.
func NewManager(path string) *Manager {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/echonotify")
		v.AddConfigPath("/etc/echonotify/")
	}
	v.SetEnvPrefix("ECHONOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return &Manager{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_dsn", "echonotify.db")
	v.SetDefault("api_addr", "127.0.0.1:8750")
	v.SetDefault("player_command", "paplay")
	v.SetDefault("vibrator_command", "")
	v.SetDefault("observer_mode", "dbus")
	v.SetDefault("poll_interval_seconds", DefaultPollSeconds)
	v.SetDefault("history_retention_days", DefaultRetentionDays)

	v.SetDefault("reminder.enabled", true)
	v.SetDefault("reminder.interval_seconds", DefaultIntervalSeconds)
	v.SetDefault("reminder.repeats", DefaultRepeats)
	v.SetDefault("reminder.limit_repeats", false)
	v.SetDefault("reminder.packages", []string{})
	v.SetDefault("reminder.ignore_ongoing", true)
	v.SetDefault("reminder.scheduler_enabled", false)
	v.SetDefault("reminder.scheduler_mode", string(models.SchedulerModeWorking))
	v.SetDefault("reminder.range_begin_minutes", DefaultRangeBeginMinutes)
	v.SetDefault("reminder.range_end_minutes", DefaultRangeEndMinutes)
	v.SetDefault("reminder.respect_ringer_mode", true)
	v.SetDefault("reminder.respect_calls", true)
	v.SetDefault("reminder.remind_when_screen_on", false)
	v.SetDefault("reminder.force_wakelock", false)
	v.SetDefault("reminder.dismiss_notification", true)
	v.SetDefault("reminder.dismiss_immediately", false)
	v.SetDefault("reminder.dismiss_along_reminded", false)
	v.SetDefault("reminder.ringtone", DefaultRingtone)
	v.SetDefault("reminder.vibration_enabled", false)
	v.SetDefault("reminder.vibration_pattern", DefaultVibrationPattern)
}

// Load reads the configuration and applies boundary validation.
func (m *Manager) Load() error {
	if err := m.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Info("Config file not found, using defaults")
		} else {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg fileConfig
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	reminder := sanitizeReminder(cfg.Reminder)

	m.mu.Lock()
	m.app = cfg.AppConfig
	m.reminder = reminder
	m.mu.Unlock()

	slog.Info("Config loaded",
		"file", m.v.ConfigFileUsed(),
		"enabled", reminder.Enabled,
		"interval_s", reminder.IntervalSeconds,
		"packages", len(reminder.Packages))
	return nil
}

// Watch reloads the configuration when the file changes and invokes
// onChange with the changed file name. It must be called after Load.
func (m *Manager) Watch(onChange func(name string)) {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("Config file changed, reloading", "file", e.Name)
		if err := m.Load(); err != nil {
			slog.Error("Config reload failed, keeping previous values", "error", err)
			return
		}
		if onChange != nil {
			onChange(e.Name)
		}
	})
	m.v.WatchConfig()
}

// App returns the daemon-level configuration snapshot.
func (m *Manager) App() AppConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.app
}

// Reminder returns the current reminder configuration snapshot.
func (m *Manager) Reminder() models.ReminderConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reminder
}

// SetReminder replaces the reminder configuration after sanitizing it,
// used by the settings API. The sanitized result is returned.
func (m *Manager) SetReminder(cfg models.ReminderConfig) models.ReminderConfig {
	cfg = sanitizeReminder(cfg)
	m.mu.Lock()
	m.reminder = cfg
	m.mu.Unlock()
	return cfg
}

// sanitizeReminder degrades unusable values to defaults so a bad config
// file never takes the daemon down.
func sanitizeReminder(cfg models.ReminderConfig) models.ReminderConfig {
	if cfg.IntervalSeconds <= 0 {
		slog.Warn("Config: non-positive reminder interval, using default",
			"got", cfg.IntervalSeconds, "default", DefaultIntervalSeconds)
		cfg.IntervalSeconds = DefaultIntervalSeconds
	}
	if cfg.Repeats < 0 {
		slog.Warn("Config: negative repeat count, using 0", "got", cfg.Repeats)
		cfg.Repeats = 0
	}
	if cfg.SchedulerEnabled {
		if !models.IsValidSchedulerMode(cfg.SchedulerMode) {
			slog.Warn("Config: unknown scheduler mode, disabling scheduler", "mode", cfg.SchedulerMode)
			cfg.SchedulerEnabled = false
		}
		if cfg.RangeBeginMinutes < 0 || cfg.RangeBeginMinutes >= 24*60 ||
			cfg.RangeEndMinutes < 0 || cfg.RangeEndMinutes >= 24*60 {
			slog.Warn("Config: scheduler window out of range, disabling scheduler",
				"begin", cfg.RangeBeginMinutes, "end", cfg.RangeEndMinutes)
			cfg.SchedulerEnabled = false
		}
	}
	if cfg.VibrationEnabled {
		if _, err := models.ParseVibrationPattern(cfg.VibrationPattern); err != nil {
			slog.Warn("Config: invalid vibration pattern, using default",
				"pattern", cfg.VibrationPattern, "default", DefaultVibrationPattern, "error", err)
			cfg.VibrationPattern = DefaultVibrationPattern
		}
	}
	return cfg
}
