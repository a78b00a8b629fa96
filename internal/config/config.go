// Package config handles TOML configuration loading with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"

	"github.com/setevik/sosdesk/internal/format"
)

// Config is the top-level configuration for sosdesk.
type Config struct {
	Society   SocietyConfig   `toml:"society"`
	Server    ServerConfig    `toml:"server"`
	Ntfy      NtfyConfig      `toml:"ntfy"`
	Cooldown  CooldownConfig  `toml:"cooldown"`
	DB        DBConfig        `toml:"db"`
	Digest    DigestConfig    `toml:"digest"`
	Intake    IntakeConfig    `toml:"intake"`
	Directory DirectoryConfig `toml:"directory"`
	Log       LogConfig       `toml:"log"`
}

// SocietyConfig identifies the society this desk serves.
type SocietyConfig struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Timezone string `toml:"timezone"`
}

// ServerConfig controls the dashboard HTTP API.
type ServerConfig struct {
	Listen          string   `toml:"listen"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// NtfyConfig controls the ntfy notification targets.
type NtfyConfig struct {
	URL         string            `toml:"url"`
	DigestURL   string            `toml:"digest_url"`
	PriorityMap map[string]string `toml:"priority_map"`
	AlertTypes  []string          `toml:"alert_types"`
}

// CooldownConfig controls duplicate-alert suppression per flat and type.
type CooldownConfig struct {
	Window             Duration `toml:"window"`
	AggregateThreshold int      `toml:"aggregate_threshold"`
}

// DBConfig controls incident storage.
type DBConfig struct {
	Path          string   `toml:"path"`
	Retention     Duration `toml:"retention"`
	PurgeSchedule string   `toml:"purge_schedule"`
}

// DigestConfig controls the scheduled incident digest.
type DigestConfig struct {
	Schedule string   `toml:"schedule"`
	Window   Duration `toml:"window"`
}

// IntakeConfig controls the device signal bridge. The command must print one
// JSON object per line on stdout.
type IntakeConfig struct {
	Command     string   `toml:"command"`
	Args        []string `toml:"args"`
	RestartWait Duration `toml:"restart_wait"`
	// MaxFailures is how many consecutive unhealthy bridge runs end intake
	// (and with it the serve process). 0 retries forever.
	MaxFailures int `toml:"max_failures"`
}

// DirectoryConfig points at the residents/staff YAML file.
type DirectoryConfig struct {
	Path string `toml:"path"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration wraps time.Duration for TOML string parsing (e.g. "5m", "1h", "30d").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = format.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Society: SocietyConfig{
			ID:       "sunrise",
			Name:     "Sunrise Apartments",
			Timezone: "Local",
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:8080",
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Ntfy: NtfyConfig{
			PriorityMap: map[string]string{
				"sos":            "urgent",
				"fire_alarm":     "urgent",
				"gas_leak":       "urgent",
				"fall_detection": "high",
				"smoke_detector": "high",
			},
			AlertTypes: []string{"sos", "fire_alarm", "smoke_detector", "gas_leak", "fall_detection"},
		},
		Cooldown: CooldownConfig{
			Window:             Duration{5 * time.Minute},
			AggregateThreshold: 3,
		},
		DB: DBConfig{
			Retention:     Duration{90 * 24 * time.Hour},
			PurgeSchedule: "@daily",
		},
		Digest: DigestConfig{
			Schedule: "0 21 * * *",
			Window:   Duration{24 * time.Hour},
		},
		Intake: IntakeConfig{
			RestartWait: Duration{5 * time.Second},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, "sosdesk", "config.toml")
}

// Load reads configuration from the given path, falling back to defaults
// for any unset fields. If the file does not exist, returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Location returns the society's time zone, used to decide what "today" is.
func (c *Config) Location() (*time.Location, error) {
	switch c.Society.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		loc, err := time.LoadLocation(c.Society.Timezone)
		if err != nil {
			return nil, fmt.Errorf("society timezone: %w", err)
		}
		return loc, nil
	}
}

// DBPath returns the configured database path, or the default under the
// user's data directory.
func (c *Config) DBPath() string {
	if c.DB.Path != "" {
		return c.DB.Path
	}
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "sosdesk", "incidents.db")
}

// DigestTopic returns the ntfy URL digests are sent to. Falls back to the
// alert URL.
func (c *Config) DigestTopic() string {
	if c.Ntfy.DigestURL != "" {
		return c.Ntfy.DigestURL
	}
	return c.Ntfy.URL
}

// ShouldAlert returns true if the given incident type is in the configured
// alert types.
func (c *Config) ShouldAlert(incidentType string) bool {
	for _, t := range c.Ntfy.AlertTypes {
		if strings.EqualFold(t, incidentType) {
			return true
		}
	}
	return false
}

// NtfyPriority maps an incident type to an ntfy priority string.
func (c *Config) NtfyPriority(incidentType string) string {
	if p, ok := c.Ntfy.PriorityMap[incidentType]; ok {
		return p
	}
	return "default"
}
