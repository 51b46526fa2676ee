package healthsync

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config configures the health sync engine. Scalar settings are
// YAML-loadable; collaborators (transport, blob writer, device registry) are
// injected by the surrounding application.
type Config struct {
	// DatabasePath is the SQLite file used when no Store is injected.
	DatabasePath string `yaml:"database_path"`

	// DeviceSerial identifies the connected device in the device registry,
	// for staleness filtering of incoming records.
	DeviceSerial string `yaml:"device_serial"`

	// ForegroundSyncInterval is the poll cadence while the companion health
	// view is open. Default: 1 minute.
	ForegroundSyncInterval time.Duration `yaml:"foreground_sync_interval"`

	// BackgroundSyncInterval is the poll cadence otherwise. Default: 15
	// minutes.
	BackgroundSyncInterval time.Duration `yaml:"background_sync_interval"`

	// MinSyncSpacing suppresses a sync request when one was already sent
	// within this window. Default: 60 seconds.
	MinSyncSpacing time.Duration `yaml:"min_sync_spacing"`

	// StatPushTimeout bounds each individual stat blob write. Default: 5
	// seconds.
	StatPushTimeout time.Duration `yaml:"stat_push_timeout"`

	// RetentionDays prunes samples and overlays older than this many days.
	// Zero disables pruning.
	RetentionDays int `yaml:"retention_days"`

	// DecodeWorkers bounds concurrent decode/persist tasks per connection.
	// Default: 4.
	DecodeWorkers int `yaml:"decode_workers"`

	// Timezone is an IANA zone name for day-boundary computations. Empty
	// uses the process-local zone.
	Timezone string `yaml:"timezone"`

	// Journal configures the optional raw payload journal.
	Journal JournalConfig `yaml:"journal"`

	// Stream configures the optional live update hub.
	Stream StreamConfig `yaml:"stream"`

	// Transport is the device link. Required.
	Transport Transport `yaml:"-"`

	// Blobs writes stat blobs to the device. Required for stat pushes.
	Blobs BlobWriter `yaml:"-"`

	// Devices looks up last-connected timestamps for staleness filtering.
	// Optional: when nil, no filtering is applied.
	Devices DeviceRegistry `yaml:"-"`

	// Store overrides the SQLite store opened at DatabasePath. Optional.
	Store Store `yaml:"-"`

	// Uploader receives diagnostic chunks from the device. Optional: when
	// nil, diagnostic sessions are drained and dropped.
	Uploader ChunkUploader `yaml:"-"`

	// Logger overrides slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		DatabasePath:           "health.db",
		ForegroundSyncInterval: time.Minute,
		BackgroundSyncInterval: 15 * time.Minute,
		MinSyncSpacing:         60 * time.Second,
		StatPushTimeout:        defaultStatPushTimeout,
		DecodeWorkers:          4,
		Journal:                DefaultJournalConfig(),
		Stream:                 DefaultStreamConfig(),
	}
}

// LoadConfig reads a YAML configuration file, applying defaults for any
// field the file does not set.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// location resolves the configured timezone, falling back to time.Local.
func (c Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) applyDefaults() {
	if c.ForegroundSyncInterval <= 0 {
		c.ForegroundSyncInterval = time.Minute
	}
	if c.BackgroundSyncInterval <= 0 {
		c.BackgroundSyncInterval = 15 * time.Minute
	}
	if c.MinSyncSpacing <= 0 {
		c.MinSyncSpacing = 60 * time.Second
	}
	if c.StatPushTimeout <= 0 {
		c.StatPushTimeout = defaultStatPushTimeout
	}
	if c.DecodeWorkers <= 0 {
		c.DecodeWorkers = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
