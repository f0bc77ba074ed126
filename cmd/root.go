package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dosetap/dosetap/internal/config"
	"github.com/dosetap/dosetap/internal/engine"
	"github.com/dosetap/dosetap/internal/flags"
	"github.com/dosetap/dosetap/internal/infrastructure/sqlite"
	"github.com/dosetap/dosetap/internal/log"
	"github.com/dosetap/dosetap/internal/notify"
	"github.com/dosetap/dosetap/internal/tracing"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dosetap",
	Short: "Two-dose nightly dosing tracker",
	Long: `Tracks a two-dose nightly medication regimen: which logical night a dose
belongs to, where the dose-2 window stands, and when a session closes.
Sessions roll over at the configured evening hour, not at midnight.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.dosetap/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"enable debug logging")
	rootCmd.PersistentFlags().String("db", "",
		"path to the dosing database")

	_ = viper.BindPFlag("db_path", rootCmd.PersistentFlags().Lookup("db"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("db_path", config.DefaultDBPath())
	viper.SetDefault("window.min_interval_minutes", defaults.Window.MinIntervalMinutes)
	viper.SetDefault("window.max_interval_minutes", defaults.Window.MaxIntervalMinutes)
	viper.SetDefault("window.snooze_extension_minutes", defaults.Window.SnoozeExtensionMinutes)
	viper.SetDefault("window.max_snoozes", defaults.Window.MaxSnoozes)
	viper.SetDefault("window.near_close_threshold_minutes", defaults.Window.NearCloseThresholdMinutes)
	viper.SetDefault("schedule.rollover_hour", defaults.Schedule.RolloverHour)
	viper.SetDefault("schedule.prep_time", defaults.Schedule.PrepTime)
	viper.SetDefault("schedule.wake_time", defaults.Schedule.WakeTime)
	viper.SetDefault("schedule.checkin_grace_hours", defaults.Schedule.CheckInGraceHours)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .dosetap/config.yaml (current directory)
		// 2. ~/.dosetap/config.yaml (user config)
		if _, err := os.Stat(filepath.Join(".dosetap", "config.yaml")); err == nil {
			viper.SetConfigFile(filepath.Join(".dosetap", "config.yaml"))
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".dosetap"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// Missing config is fine, defaults apply. A default file is only
		// written by the init command, never implicitly.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "reading config: %v\n", err)
		}
	}

	_ = viper.Unmarshal(&cfg)

	if debugFlag || os.Getenv("DOSETAP_DEBUG") != "" {
		logPath := os.Getenv("DOSETAP_LOG")
		if logPath == "" {
			logPath = "debug.log"
		}
		if _, err := log.Init(logPath); err != nil {
			fmt.Fprintf(os.Stderr, "initializing logging: %v\n", err)
		}
	}
}

// runtime bundles everything a command needs to talk to the engine.
type runtime struct {
	engine   *engine.Engine
	db       *sqlite.DB
	tracing  *tracing.Provider
	registry *flags.Registry
}

func (r *runtime) close() {
	if r.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.tracing.Shutdown(ctx)
	}
	if r.db != nil {
		_ = r.db.Close()
	}
}

// openRuntime builds the engine stack from the loaded configuration.
func openRuntime(mods ...func(*engine.Options)) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = config.DefaultDBPath()
	}
	db, err := sqlite.NewDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	provider, err := tracing.NewProvider(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	registry := flags.New(cfg.Flags)
	opts := engine.Options{
		EventLog:  db.EventLog(),
		Scheduler: notify.NewLogScheduler(),
		Rules:     cfg.Window.Rules(),
		Schedule:  cfg.Schedule,
		Flags:     registry,
		Tracer:    provider.Tracer(),
	}
	for _, mod := range mods {
		mod(&opts)
	}
	eng := engine.New(opts)

	return &runtime{
		engine:   eng,
		db:       db,
		tracing:  provider,
		registry: registry,
	}, nil
}

// withRuntime runs fn against a fully wired engine and tears it down after.
func withRuntime(fn func(ctx context.Context, rt *runtime) error, mods ...func(*engine.Options)) error {
	rt, err := openRuntime(mods...)
	if err != nil {
		return err
	}
	defer rt.close()
	return fn(context.Background(), rt)
}

// parseAt interprets a --at value: RFC 3339, or a bare HH:MM meaning the
// nearest past occurrence of that wall time. Empty means now.
func parseAt(value string) (time.Time, error) {
	if value == "" {
		return time.Now(), nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	hour, minute, err := config.ParseClockTime(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at value %q (want RFC 3339 or HH:MM)", value)
	}
	now := time.Now()
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if at.After(now) {
		at = at.AddDate(0, 0, -1)
	}
	return at, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
