package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/joho/godotenv"

	"github.com/EchoNotify/EchoNotify/internal/alerter"
	"github.com/EchoNotify/EchoNotify/internal/api"
	"github.com/EchoNotify/EchoNotify/internal/config"
	"github.com/EchoNotify/EchoNotify/internal/cycle"
	"github.com/EchoNotify/EchoNotify/internal/environ"
	"github.com/EchoNotify/EchoNotify/internal/lockfile"
	"github.com/EchoNotify/EchoNotify/internal/models"
	"github.com/EchoNotify/EchoNotify/internal/observer"
	"github.com/EchoNotify/EchoNotify/internal/playback"
	"github.com/EchoNotify/EchoNotify/internal/registry"
	"github.com/EchoNotify/EchoNotify/internal/scheduler"
	"github.com/EchoNotify/EchoNotify/internal/store"
	"github.com/EchoNotify/EchoNotify/internal/timer"
	"github.com/EchoNotify/EchoNotify/internal/util"
	"github.com/EchoNotify/EchoNotify/internal/wakelock"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for EchoNotify state data
	DefaultStateDir = "/var/lib/echonotify"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "echonotify.db"
	// SnapshotFileName is the snapshot file read by the polling observer
	SnapshotFileName = "snapshot.json"
	// AppName identifies EchoNotify to the notification server
	AppName = "EchoNotify"
)

func main() {
	// Load environment configuration before the logger so the debug
	// toggle from a .env file is honored
	envConfig := loadEnvironmentConfig()

	// Initialize structured logger
	initializeLogger(envConfig.Debug)

	// Parse command line flags
	flags := parseCommandLineFlags(envConfig)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping EchoNotify with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "config_file", *flags.configFile)
	if err := run(flags); err != nil {
		slog.Error("EchoNotify failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("EchoNotify exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	ConfigFile  string
	APIAddr     string
	Debug       bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir   *string
	configFile *string
	dbDSN      *string
	apiAddr    *string
}

// initializeLogger sets up structured logging
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("ECHONOTIFY_STATE_DIR"),
		ConfigFile:  os.Getenv("ECHONOTIFY_CONFIG"),
		APIAddr:     os.Getenv("ECHONOTIFY_API_ADDR"),
		Debug:       util.ParseBoolEnv("ECHONOTIFY_DEBUG", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ECHONOTIFY_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("ECHONOTIFY_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:   flag.String("state-dir", config.StateDir, "Directory for EchoNotify state data (overrides ECHONOTIFY_STATE_DIR)"),
		configFile: flag.String("config", config.ConfigFile, "Path to the settings file (overrides ECHONOTIFY_CONFIG)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "Database DSN (overrides DATABASE_URL and the settings file)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "REST API listen address (overrides the settings file)"),
	}
	flag.Parse()
	return flags
}

// ensureDirectoriesExist creates required directories
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", *flags.stateDir, err)
	}
	return nil
}

// buildStore opens the backing store matching the DSN style.
func buildStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Opening Postgres store")
		st, err := store.NewPostgresStore(store.WithPostgresDSN(dsn))
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	slog.Debug("Opening SQLite store", "path", dsn)
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	if err != nil {
		return nil, err
	}
	return st, nil
}

// snapshotFromFile returns a SnapshotFunc that reads the currently showing
// notifications from a JSON file maintained by an external capture tool.
func snapshotFromFile(path string) observer.SnapshotFunc {
	return func(ctx context.Context) ([]models.NotificationRecord, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot file: %w", err)
		}
		var records []models.NotificationRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("snapshot file is not valid JSON: %w", err)
		}
		return records, nil
	}
}

func run(flags Flags) error {
	fileLock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	defer fileLock.Release()

	manager := config.NewManager(*flags.configFile)
	if err := manager.Load(); err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	app := manager.App()
	if *flags.apiAddr != "" {
		app.APIAddr = *flags.apiAddr
	}

	dsn := app.DatabaseDSN
	if *flags.dbDSN != "" {
		dsn = *flags.dbDSN
	}
	if store.DetectDSNType(dsn) == "sqlite" && !filepath.IsAbs(dsn) {
		dsn = filepath.Join(*flags.stateDir, dsn)
	}
	st, err := buildStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	clock := timer.RealClock{}
	wake := timer.NewWakeTimer(clock)
	reg := registry.New()

	var sleepLock, vibLock wakelock.Lock
	if sysConn, sysErr := dbus.ConnectSystemBus(); sysErr != nil {
		slog.Warn("EchoNotify: system bus unavailable, wake locks disabled", "error", sysErr)
		sleepLock, vibLock = wakelock.NewNoop(), wakelock.NewNoop()
	} else {
		sleepLock, vibLock = wakelock.NewInhibitor(sysConn), wakelock.NewInhibitor(sysConn)
	}

	// The controller is assigned below; D-Bus callbacks only fire once it
	// is running, so the late binding is safe.
	var ctrl *cycle.Controller

	sessConn, sessErr := dbus.ConnectSessionBus()
	var envOpts []environ.Option
	if sessErr == nil {
		envOpts = append(envOpts, environ.WithScreenQuery(environ.ScreensaverQuery(sessConn)))
	}
	envState := environ.NewState(envOpts...)

	var alrt cycle.Alerter = alerter.Noop{}
	var closeByID func(uint32) error
	if sessErr != nil {
		slog.Warn("EchoNotify: session bus unavailable, dismiss notification disabled", "error", sessErr)
	} else {
		dbusAlerter, alertErr := alerter.NewDBus(sessConn, AppName, func() {
			ctrl.Dispatch(models.Event{Type: models.EventUserDismissed})
		})
		if alertErr != nil {
			slog.Warn("EchoNotify: failed to set up dismiss notification", "error", alertErr)
		} else {
			alrt = dbusAlerter
			closeByID = dbusAlerter.CloseNotification
		}
	}

	player := playback.NewExecPlayer(app.PlayerCommand, app.PlayerArgs...)
	var vibrator playback.Vibrator = playback.NoopVibrator{}
	if app.VibratorCommand != "" {
		vibrator = playback.NewExecVibrator(app.VibratorCommand, app.VibratorArgs...)
	}
	coord := playback.New(player, vibrator, vibLock, clock)

	var dbusSrc *observer.DBusSource
	opts := []cycle.Option{cycle.WithStore(st)}
	if closeByID != nil {
		opts = append(opts, cycle.WithNotificationCloser(func(records []models.NotificationRecord) {
			if dbusSrc == nil {
				return
			}
			for _, rec := range records {
				id, ok := dbusSrc.IDForKey(rec.Key)
				if !ok {
					continue
				}
				if err := closeByID(id); err != nil {
					slog.Warn("EchoNotify: failed to close reminded notification", "key", rec.Key, "error", err)
				}
			}
		}))
	}
	ctrl = cycle.New(reg, coord, sleepLock, wake, clock, alrt, envState, manager.Reminder, opts...)

	var source interface {
		Run(ctx context.Context) error
	}
	if app.ObserverMode == "poll" {
		snapshotPath := filepath.Join(*flags.stateDir, SnapshotFileName)
		slog.Info("EchoNotify: using polling observer", "path", snapshotPath, "interval", app.PollInterval())
		source = observer.NewPollSource(ctrl, snapshotFromFile(snapshotPath), app.PollInterval(), clock)
	} else {
		dbusSrc = observer.NewDBusSource(ctrl, AppName, clock)
		source = dbusSrc
	}

	manager.Watch(func(name string) {
		ctrl.Dispatch(models.Event{Type: models.EventConfigChanged, ConfigKey: name})
	})

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.RegisterHistoryPrune(st, app.HistoryRetention()); err != nil {
		slog.Warn("EchoNotify: failed to schedule history pruning", "error", err)
	}

	server := api.NewServer(app.APIAddr, ctrl, envState, manager, st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 3)
	go func() { errc <- ctrl.Run(ctx) }()
	go func() { errc <- server.Run(ctx) }()
	go func() { errc <- source.Run(ctx) }()

	slog.Info("EchoNotify running", "api_addr", app.APIAddr, "observer_mode", app.ObserverMode)

	var firstErr error
	for i := 0; i < 3; i++ {
		err := <-errc
		stop()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
