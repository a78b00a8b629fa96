package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Society.ID == "" {
		t.Error("default society ID should not be empty")
	}
	if cfg.Server.Listen != "127.0.0.1:8080" {
		t.Errorf("default listen = %q", cfg.Server.Listen)
	}
	if cfg.Cooldown.Window.Duration != 5*time.Minute {
		t.Errorf("default cooldown window = %v, want %v", cfg.Cooldown.Window.Duration, 5*time.Minute)
	}
	if cfg.Cooldown.AggregateThreshold != 3 {
		t.Errorf("default aggregate threshold = %d, want 3", cfg.Cooldown.AggregateThreshold)
	}
	if cfg.DB.Retention.Duration != 90*24*time.Hour {
		t.Errorf("default retention = %v", cfg.DB.Retention.Duration)
	}
	if cfg.Digest.Schedule != "0 21 * * *" {
		t.Errorf("default digest schedule = %q", cfg.Digest.Schedule)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default log level = %q, want %q", cfg.Log.Level, "info")
	}
	if len(cfg.Ntfy.AlertTypes) != 5 {
		t.Errorf("default alert types count = %d, want 5", len(cfg.Ntfy.AlertTypes))
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("loading nonexistent config should return defaults, got error: %v", err)
	}
	if cfg.Society.Name != "Sunrise Apartments" {
		t.Errorf("society name = %q, want default", cfg.Society.Name)
	}
}

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
[society]
id = "golden"
name = "Golden Heights Residency"
timezone = "Asia/Kolkata"

[server]
listen = ":9090"

[ntfy]
url = "https://ntfy.sh/golden-desk"
alert_types = ["sos", "fire_alarm"]

[cooldown]
window = "10m"
aggregate_threshold = 5

[db]
path = "/var/lib/sosdesk/incidents.db"
retention = "30d"

[digest]
schedule = "0 8 * * *"
window = "7d"

[intake]
command = "mosquitto_sub"
args = ["-t", "society/+/alarm"]
restart_wait = "2s"
max_failures = 4

[directory]
path = "/etc/sosdesk/directory.yaml"

[log]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	if cfg.Society.ID != "golden" {
		t.Errorf("society.id = %q, want %q", cfg.Society.ID, "golden")
	}
	if cfg.Server.Listen != ":9090" {
		t.Errorf("server.listen = %q", cfg.Server.Listen)
	}
	if cfg.Server.ShutdownTimeout.Duration != 10*time.Second {
		t.Errorf("unset shutdown_timeout should keep default, got %v", cfg.Server.ShutdownTimeout.Duration)
	}
	if cfg.Ntfy.URL != "https://ntfy.sh/golden-desk" {
		t.Errorf("ntfy.url = %q", cfg.Ntfy.URL)
	}
	if len(cfg.Ntfy.AlertTypes) != 2 {
		t.Errorf("alert_types count = %d, want 2", len(cfg.Ntfy.AlertTypes))
	}
	if cfg.Cooldown.Window.Duration != 10*time.Minute {
		t.Errorf("cooldown.window = %v, want 10m", cfg.Cooldown.Window.Duration)
	}
	if cfg.Cooldown.AggregateThreshold != 5 {
		t.Errorf("cooldown.aggregate_threshold = %d, want 5", cfg.Cooldown.AggregateThreshold)
	}
	if cfg.DB.Retention.Duration != 30*24*time.Hour {
		t.Errorf("db.retention = %v, want 30d", cfg.DB.Retention.Duration)
	}
	if cfg.DBPath() != "/var/lib/sosdesk/incidents.db" {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}
	if cfg.Digest.Window.Duration != 7*24*time.Hour {
		t.Errorf("digest.window = %v", cfg.Digest.Window.Duration)
	}
	if cfg.Intake.Command != "mosquitto_sub" || len(cfg.Intake.Args) != 2 {
		t.Errorf("intake = %+v", cfg.Intake)
	}
	if cfg.Intake.RestartWait.Duration != 2*time.Second {
		t.Errorf("intake.restart_wait = %v", cfg.Intake.RestartWait.Duration)
	}
	if cfg.Intake.MaxFailures != 4 {
		t.Errorf("intake.max_failures = %d, want 4", cfg.Intake.MaxFailures)
	}
	if cfg.Directory.Path != "/etc/sosdesk/directory.yaml" {
		t.Errorf("directory.path = %q", cfg.Directory.Path)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want %q", cfg.Log.Level, "debug")
	}

	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc.String() != "Asia/Kolkata" {
		t.Errorf("Location = %q", loc.String())
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(path, []byte("not valid [[[ toml"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid TOML, got nil")
	}
}

func TestLoadInvalidTimezone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(path, []byte("[society]\ntimezone = \"Mars/Olympus\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestDigestTopicFallback(t *testing.T) {
	cfg := Default()
	cfg.Ntfy.URL = "https://ntfy.sh/alerts"
	if got := cfg.DigestTopic(); got != "https://ntfy.sh/alerts" {
		t.Errorf("DigestTopic() = %q, want alert URL", got)
	}
	cfg.Ntfy.DigestURL = "https://ntfy.sh/digest"
	if got := cfg.DigestTopic(); got != "https://ntfy.sh/digest" {
		t.Errorf("DigestTopic() = %q, want digest URL", got)
	}
}

func TestShouldAlert(t *testing.T) {
	cfg := Default()
	cfg.Ntfy.AlertTypes = []string{"sos", "FIRE_ALARM"}

	if !cfg.ShouldAlert("sos") {
		t.Error("sos should be alerted")
	}
	if !cfg.ShouldAlert("fire_alarm") {
		t.Error("fire_alarm should match case-insensitively")
	}
	if cfg.ShouldAlert("smoke_detector") {
		t.Error("smoke_detector should not be alerted")
	}
}

func TestNtfyPriority(t *testing.T) {
	cfg := Default()

	if p := cfg.NtfyPriority("sos"); p != "urgent" {
		t.Errorf("sos priority = %q, want %q", p, "urgent")
	}
	if p := cfg.NtfyPriority("fall_detection"); p != "high" {
		t.Errorf("fall_detection priority = %q, want %q", p, "high")
	}
	if p := cfg.NtfyPriority("unknown"); p != "default" {
		t.Errorf("unknown priority = %q, want %q", p, "default")
	}
}
