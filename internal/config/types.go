package config

import (
	"fmt"
	"time"

	"rotabot/internal/schedule"
)

// Config is the process-wide configuration, read once at startup.
// Secrets and ops knobs may be overridden from the environment (see load.go).
type Config struct {
	Telegram TelegramConfig `json:"telegram"`

	// Admins is the static allow-list of privileged user ids.
	Admins []int64 `json:"admins"`

	// Timezone is the IANA zone both triggers are evaluated in.
	Timezone string `json:"timezone"`

	// Reminder and AutoPop are the default trigger times; a schedule stored
	// by /setschedule or /setautopop takes precedence at boot.
	Reminder schedule.Spec `json:"reminder"`
	AutoPop  schedule.Spec `json:"autopop"`

	// MaxPulses bounds reminder escalation before auto-pop advances the queue.
	MaxPulses int `json:"max_pulses"`

	Storage StorageConfig `json:"storage"`
	Logging LoggingConfig `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RatePerSec caps outbound sends; 0 keeps the gateway default.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Default mirrors the stock deployment: remind Tuesday 09:00, auto-pop
// Monday 18:00, three escalation pulses.
func Default() Config {
	return Config{
		Timezone:  "UTC",
		Reminder:  schedule.Spec{Day: 1, Hour: 9, Minute: 0},
		AutoPop:   schedule.Spec{Day: 0, Hour: 18, Minute: 0},
		MaxPulses: 3,
		Storage:   StorageConfig{Path: "./rotabot.db"},
		Logging:   LoggingConfig{Level: "info", Console: true},
	}
}

func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required (or set TELEGRAM_BOT_TOKEN)")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if err := c.Reminder.Validate(); err != nil {
		return fmt.Errorf("reminder schedule: %w", err)
	}
	if err := c.AutoPop.Validate(); err != nil {
		return fmt.Errorf("autopop schedule: %w", err)
	}
	if c.MaxPulses <= 0 {
		return fmt.Errorf("max_pulses must be positive, got %d", c.MaxPulses)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := c.PollTimeout(); err != nil {
		return err
	}
	if _, err := c.BusyTimeout(); err != nil {
		return err
	}
	return nil
}

func (c *Config) PollTimeout() (time.Duration, error) {
	return parseDuration("telegram.poll_timeout", c.Telegram.PollTimeout)
}

func (c *Config) BusyTimeout() (time.Duration, error) {
	return parseDuration("storage.busy_timeout", c.Storage.BusyTimeout)
}

// Location resolves the configured timezone. Validate() must have passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}
