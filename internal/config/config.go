package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/nordic-dfu/internal/dfu"
)

// Config holds all application configuration.
type Config struct {
	Platform string          `yaml:"platform"` // "auto", "android" or "ios"
	Transfer TransferConfig  `yaml:"transfer"`
	Android  AndroidConfig   `yaml:"android"`
	Ios      IosConfig       `yaml:"ios"`
	Scan     ScanConfig      `yaml:"scan"`
	Events   EventsConfig    `yaml:"events"`
	Firmware FirmwareConfig  `yaml:"firmware"`
	Sim      SimulatorConfig `yaml:"simulator"`
	LogLevel string          `yaml:"log_level"`
}

// TransferConfig holds the platform-agnostic transfer options. Pointer
// fields stay nil when the key is missing from the file.
type TransferConfig struct {
	DisableResume                         *bool          `yaml:"disable_resume,omitempty"`
	PacketReceiptNotificationParameter    *int           `yaml:"packet_receipt_notification_parameter,omitempty"`
	PrepareDataObjectDelay                *time.Duration `yaml:"prepare_data_object_delay,omitempty"`
	ForceScanningForNewAddressInLegacyDfu *bool          `yaml:"force_scanning_for_new_address_in_legacy_dfu,omitempty"`
}

// AndroidConfig holds options only the Android engine understands.
type AndroidConfig struct {
	DeviceName      *string        `yaml:"device_name,omitempty"`
	KeepBond        *bool          `yaml:"keep_bond,omitempty"`
	NumberOfRetries *int           `yaml:"number_of_retries,omitempty"`
	RebootTime      *time.Duration `yaml:"reboot_time,omitempty"`
	RestoreBond     *bool          `yaml:"restore_bond,omitempty"`
}

// IosConfig holds options only the iOS engine understands.
type IosConfig struct {
	ConnectionTimeout *time.Duration `yaml:"connection_timeout,omitempty"`
}

// ScanConfig holds BLE discovery settings.
type ScanConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// EventsConfig holds event forwarding settings. Forwarding is off when
// NatsURL is empty.
type EventsConfig struct {
	NatsURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// FirmwareConfig holds settings for remote firmware packages.
type FirmwareConfig struct {
	CacheDir string `yaml:"cache_dir"` // downloaded http(s) packages land here
}

// SimulatorConfig tunes the simulated engine used by the CLI.
type SimulatorConfig struct {
	StepDelay     time.Duration `yaml:"step_delay"`
	ProgressSteps int           `yaml:"progress_steps"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "nordic-dfu")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

const defaultHeader = `# nordic-dfu configuration
# Transfer, android and ios options are optional; unset keys leave the
# native engine defaults in place.
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the written path, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Default returns a Config with sensible default values. Transfer and
// platform options are left unset so the engines apply their own defaults.
func Default() *Config {
	return &Config{
		Platform: "auto",
		Scan: ScanConfig{
			Timeout: 5 * time.Second,
		},
		Events: EventsConfig{
			SubjectPrefix: "dfu",
		},
		Firmware: FirmwareConfig{
			CacheDir: "~/.cache/nordic-dfu",
		},
		Sim: SimulatorConfig{
			StepDelay:     150 * time.Millisecond,
			ProgressSteps: 20,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Platform {
	case "auto", "android", "ios":
	default:
		return fmt.Errorf("platform must be \"auto\", \"android\" or \"ios\", got %q", c.Platform)
	}

	if d := c.Transfer.PrepareDataObjectDelay; d != nil && *d < 0 {
		return fmt.Errorf("transfer.prepare_data_object_delay must be >= 0")
	}

	if n := c.Android.NumberOfRetries; n != nil && *n < 0 {
		return fmt.Errorf("android.number_of_retries must be >= 0")
	}

	if d := c.Android.RebootTime; d != nil && *d < 0 {
		return fmt.Errorf("android.reboot_time must be >= 0")
	}

	if d := c.Ios.ConnectionTimeout; d != nil && *d <= 0 {
		return fmt.Errorf("ios.connection_timeout must be > 0")
	}

	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("scan.timeout must be > 0")
	}

	if c.Events.NatsURL != "" && c.Events.SubjectPrefix == "" {
		return fmt.Errorf("events.subject_prefix must not be empty when events.nats_url is set")
	}

	if c.Firmware.CacheDir == "" {
		return fmt.Errorf("firmware.cache_dir must not be empty")
	}

	if c.Sim.ProgressSteps <= 0 {
		return fmt.Errorf("simulator.progress_steps must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// Request builds a start request for the given device and firmware from
// the configured transfer and platform options.
func (c *Config) Request(deviceAddress, fileLocation string) dfu.Request {
	return dfu.Request{
		DeviceAddress: deviceAddress,
		FileLocation:  fileLocation,
		Transfer: dfu.TransferOptions{
			DisableResume:                         dfu.FromPtr(c.Transfer.DisableResume),
			PacketReceiptNotificationParameter:    dfu.FromPtr(c.Transfer.PacketReceiptNotificationParameter),
			PrepareDataObjectDelay:                dfu.FromPtr(c.Transfer.PrepareDataObjectDelay),
			ForceScanningForNewAddressInLegacyDfu: dfu.FromPtr(c.Transfer.ForceScanningForNewAddressInLegacyDfu),
		},
		Android: dfu.AndroidOptions{
			DeviceName:      dfu.FromPtr(c.Android.DeviceName),
			KeepBond:        dfu.FromPtr(c.Android.KeepBond),
			NumberOfRetries: dfu.FromPtr(c.Android.NumberOfRetries),
			RebootTime:      dfu.FromPtr(c.Android.RebootTime),
			RestoreBond:     dfu.FromPtr(c.Android.RestoreBond),
		},
		Ios: dfu.IosOptions{
			ConnectionTimeout: dfu.FromPtr(c.Ios.ConnectionTimeout),
		},
	}
}

// PlatformFunc returns the platform selector for the coordinator. "auto"
// detects the host on every call.
func (c *Config) PlatformFunc() func() dfu.Platform {
	switch c.Platform {
	case "android":
		return func() dfu.Platform { return dfu.PlatformAndroid }
	case "ios":
		return func() dfu.Platform { return dfu.PlatformIOS }
	default:
		return dfu.HostPlatform
	}
}

// ParseLogLevel maps a log_level value onto a slog level. Unknown values
// fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FirmwareCacheDir returns the cache directory with ~ expanded.
func (c *Config) FirmwareCacheDir() string {
	return expandTilde(c.Firmware.CacheDir)
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
