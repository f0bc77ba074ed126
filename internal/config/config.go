// Package config provides configuration types, defaults, and persistence for
// dosetap.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dosetap/dosetap/internal/sessions/domain"
)

// WindowConfig holds the dose-window timing constants.
type WindowConfig struct {
	MinIntervalMinutes        int `mapstructure:"min_interval_minutes"`
	MaxIntervalMinutes        int `mapstructure:"max_interval_minutes"`
	SnoozeExtensionMinutes    int `mapstructure:"snooze_extension_minutes"`
	MaxSnoozes                int `mapstructure:"max_snoozes"`
	NearCloseThresholdMinutes int `mapstructure:"near_close_threshold_minutes"`
}

// Rules converts the config into domain window rules.
func (w WindowConfig) Rules() domain.WindowRules {
	return domain.WindowRules{
		MinIntervalMinutes:        w.MinIntervalMinutes,
		MaxIntervalMinutes:        w.MaxIntervalMinutes,
		SnoozeExtensionMinutes:    w.SnoozeExtensionMinutes,
		MaxSnoozes:                w.MaxSnoozes,
		NearCloseThresholdMinutes: w.NearCloseThresholdMinutes,
	}
}

// ScheduleConfig holds the user's nightly schedule boundaries.
type ScheduleConfig struct {
	// RolloverHour is the local hour at which a new night begins.
	RolloverHour int `mapstructure:"rollover_hour"`

	// PrepTime is the local time (HH:MM) at which preparation for the next
	// night begins; an open session started before it rolls over once it
	// passes.
	PrepTime string `mapstructure:"prep_time"`

	// WakeTime is the expected local wake time (HH:MM).
	WakeTime string `mapstructure:"wake_time"`

	// CheckInGraceHours is added to wake time to form the missed check-in
	// cutoff.
	CheckInGraceHours int `mapstructure:"checkin_grace_hours"`
}

// TracingConfig holds tracing configuration for engine mutations.
type TracingConfig struct {
	// Enabled controls whether tracing is active. Default: false.
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the export backend: "none", "file", "stdout", "otlp".
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for the "file" exporter.
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for the "otlp" exporter.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate"`
}

// Config holds all configuration options for dosetap.
type Config struct {
	// DBPath is the event-log database file. Default: ~/.dosetap/dosetap.db.
	DBPath string `mapstructure:"db_path"`

	Window   WindowConfig    `mapstructure:"window"`
	Schedule ScheduleConfig  `mapstructure:"schedule"`
	Tracing  TracingConfig   `mapstructure:"tracing"`
	Flags    map[string]bool `mapstructure:"flags"`
}

// Defaults returns the stock configuration.
func Defaults() Config {
	rules := domain.DefaultWindowRules()
	return Config{
		Window: WindowConfig{
			MinIntervalMinutes:        rules.MinIntervalMinutes,
			MaxIntervalMinutes:        rules.MaxIntervalMinutes,
			SnoozeExtensionMinutes:    rules.SnoozeExtensionMinutes,
			MaxSnoozes:                rules.MaxSnoozes,
			NearCloseThresholdMinutes: rules.NearCloseThresholdMinutes,
		},
		Schedule: ScheduleConfig{
			RolloverHour:      domain.DefaultRolloverHour,
			PrepTime:          "20:30",
			WakeTime:          "07:00",
			CheckInGraceHours: 4,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// DefaultDBPath returns the database path under the user's home directory.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "dosetap.db"
	}
	return filepath.Join(home, ".dosetap", "dosetap.db")
}

// ParseClockTime parses an HH:MM schedule entry.
func ParseClockTime(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM): %w", value, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Validate checks the configuration for values the engine cannot work with.
func (c Config) Validate() error {
	if c.Schedule.RolloverHour < 0 || c.Schedule.RolloverHour > 23 {
		return fmt.Errorf("schedule.rollover_hour must be 0-23, got %d", c.Schedule.RolloverHour)
	}
	if c.Window.MinIntervalMinutes <= 0 {
		return fmt.Errorf("window.min_interval_minutes must be positive, got %d", c.Window.MinIntervalMinutes)
	}
	if c.Window.MaxIntervalMinutes <= c.Window.MinIntervalMinutes {
		return fmt.Errorf("window.max_interval_minutes (%d) must exceed min_interval_minutes (%d)",
			c.Window.MaxIntervalMinutes, c.Window.MinIntervalMinutes)
	}
	if c.Window.SnoozeExtensionMinutes < 0 || c.Window.MaxSnoozes < 0 {
		return fmt.Errorf("window snooze settings must not be negative")
	}
	if c.Window.NearCloseThresholdMinutes < 0 {
		return fmt.Errorf("window.near_close_threshold_minutes must not be negative")
	}
	if _, _, err := ParseClockTime(c.Schedule.PrepTime); err != nil {
		return fmt.Errorf("schedule.prep_time: %w", err)
	}
	if _, _, err := ParseClockTime(c.Schedule.WakeTime); err != nil {
		return fmt.Errorf("schedule.wake_time: %w", err)
	}
	if c.Schedule.CheckInGraceHours < 0 {
		return fmt.Errorf("schedule.checkin_grace_hours must not be negative, got %d", c.Schedule.CheckInGraceHours)
	}
	switch c.Tracing.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be one of none, file, stdout, otlp; got %q", c.Tracing.Exporter)
	}
	return nil
}
