package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/nordic-dfu/internal/dfu"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Platform != "auto" {
		t.Errorf("Platform = %q, want %q", cfg.Platform, "auto")
	}
	if cfg.Transfer.PacketReceiptNotificationParameter != nil {
		t.Error("Transfer.PacketReceiptNotificationParameter should be unset by default")
	}
	if cfg.Android.DeviceName != nil {
		t.Error("Android.DeviceName should be unset by default")
	}
	if cfg.Scan.Timeout != 5*time.Second {
		t.Errorf("Scan.Timeout = %v, want 5s", cfg.Scan.Timeout)
	}
	if cfg.Events.NatsURL != "" {
		t.Errorf("Events.NatsURL = %q, want empty", cfg.Events.NatsURL)
	}
	if cfg.Events.SubjectPrefix != "dfu" {
		t.Errorf("Events.SubjectPrefix = %q, want %q", cfg.Events.SubjectPrefix, "dfu")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
platform: android
transfer:
  disable_resume: true
  packet_receipt_notification_parameter: 0
  prepare_data_object_delay: 400ms
android:
  device_name: DfuTarg
  keep_bond: false
  number_of_retries: 3
  reboot_time: 1s
ios:
  connection_timeout: 10s
scan:
  timeout: 8s
events:
  nats_url: nats://127.0.0.1:4222
  subject_prefix: fleet.dfu
log_level: debug
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Platform != "android" {
		t.Errorf("Platform = %q, want %q", cfg.Platform, "android")
	}
	if cfg.Transfer.DisableResume == nil || !*cfg.Transfer.DisableResume {
		t.Errorf("Transfer.DisableResume = %v, want true", cfg.Transfer.DisableResume)
	}
	if cfg.Transfer.PacketReceiptNotificationParameter == nil || *cfg.Transfer.PacketReceiptNotificationParameter != 0 {
		t.Errorf("Transfer.PacketReceiptNotificationParameter should be present and 0")
	}
	if cfg.Transfer.PrepareDataObjectDelay == nil || *cfg.Transfer.PrepareDataObjectDelay != 400*time.Millisecond {
		t.Errorf("Transfer.PrepareDataObjectDelay = %v, want 400ms", cfg.Transfer.PrepareDataObjectDelay)
	}
	if cfg.Transfer.ForceScanningForNewAddressInLegacyDfu != nil {
		t.Error("Transfer.ForceScanningForNewAddressInLegacyDfu should stay unset")
	}
	if cfg.Android.DeviceName == nil || *cfg.Android.DeviceName != "DfuTarg" {
		t.Errorf("Android.DeviceName = %v, want DfuTarg", cfg.Android.DeviceName)
	}
	if cfg.Android.KeepBond == nil || *cfg.Android.KeepBond {
		t.Error("Android.KeepBond should be present and false")
	}
	if cfg.Android.RebootTime == nil || *cfg.Android.RebootTime != time.Second {
		t.Errorf("Android.RebootTime = %v, want 1s", cfg.Android.RebootTime)
	}
	if cfg.Ios.ConnectionTimeout == nil || *cfg.Ios.ConnectionTimeout != 10*time.Second {
		t.Errorf("Ios.ConnectionTimeout = %v, want 10s", cfg.Ios.ConnectionTimeout)
	}
	if cfg.Scan.Timeout != 8*time.Second {
		t.Errorf("Scan.Timeout = %v, want 8s", cfg.Scan.Timeout)
	}
	if cfg.Events.SubjectPrefix != "fleet.dfu" {
		t.Errorf("Events.SubjectPrefix = %q, want %q", cfg.Events.SubjectPrefix, "fleet.dfu")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	cfgPath := writeConfig(t, "log_level: warn\n")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Platform != "auto" {
		t.Errorf("Platform = %q, want default %q", cfg.Platform, "auto")
	}
	if cfg.Sim.ProgressSteps != 20 {
		t.Errorf("Sim.ProgressSteps = %d, want default 20", cfg.Sim.ProgressSteps)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	if err := os.WriteFile(filepath.Join(tmpHome, "dfu.yaml"), []byte("platform: ios\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load("~/dfu.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Platform != "ios" {
		t.Errorf("Platform = %q, want %q", cfg.Platform, "ios")
	}
}

func TestFirmwareCacheDir(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	cfg := Default()
	want := filepath.Join(tmpHome, ".cache", "nordic-dfu")
	if got := cfg.FirmwareCacheDir(); got != want {
		t.Errorf("FirmwareCacheDir() = %q, want %q", got, want)
	}

	cfg.Firmware.CacheDir = "/var/cache/dfu"
	if got := cfg.FirmwareCacheDir(); got != "/var/cache/dfu" {
		t.Errorf("FirmwareCacheDir() = %q, want %q", got, "/var/cache/dfu")
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, "transfer: [not, a, map\n")
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	neg := -1
	negDur := -time.Second
	zeroDur := time.Duration(0)

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid platform",
			modify:  func(c *Config) { c.Platform = "windows" },
			wantErr: true,
		},
		{
			name:    "negative prepare delay",
			modify:  func(c *Config) { c.Transfer.PrepareDataObjectDelay = &negDur },
			wantErr: true,
		},
		{
			name:    "negative prn is accepted",
			modify:  func(c *Config) { c.Transfer.PacketReceiptNotificationParameter = &neg },
			wantErr: false,
		},
		{
			name:    "negative retries",
			modify:  func(c *Config) { c.Android.NumberOfRetries = &neg },
			wantErr: true,
		},
		{
			name:    "negative reboot time",
			modify:  func(c *Config) { c.Android.RebootTime = &negDur },
			wantErr: true,
		},
		{
			name:    "zero connection timeout",
			modify:  func(c *Config) { c.Ios.ConnectionTimeout = &zeroDur },
			wantErr: true,
		},
		{
			name:    "zero scan timeout",
			modify:  func(c *Config) { c.Scan.Timeout = 0 },
			wantErr: true,
		},
		{
			name: "nats without subject prefix",
			modify: func(c *Config) {
				c.Events.NatsURL = "nats://localhost:4222"
				c.Events.SubjectPrefix = ""
			},
			wantErr: true,
		},
		{
			name:    "empty firmware cache dir",
			modify:  func(c *Config) { c.Firmware.CacheDir = "" },
			wantErr: true,
		},
		{
			name:    "zero simulator steps",
			modify:  func(c *Config) { c.Sim.ProgressSteps = 0 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequestCarriesTriState(t *testing.T) {
	cfgPath := writeConfig(t, `
transfer:
  packet_receipt_notification_parameter: 0
android:
  number_of_retries: 0
`)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	req := cfg.Request("AA:BB:CC:DD:EE:FF", "file:///fw.zip")
	if req.DeviceAddress != "AA:BB:CC:DD:EE:FF" || req.FileLocation != "file:///fw.zip" {
		t.Errorf("Request() target = %q %q", req.DeviceAddress, req.FileLocation)
	}
	if v, ok := req.Transfer.PacketReceiptNotificationParameter.Get(); !ok || v != 0 {
		t.Errorf("PRN = %d, %v, want present 0", v, ok)
	}
	if v, ok := req.Android.NumberOfRetries.Get(); !ok || v != 0 {
		t.Errorf("NumberOfRetries = %d, %v, want present 0", v, ok)
	}
	if req.Transfer.DisableResume.IsSet() {
		t.Error("DisableResume should be absent")
	}
	if req.Ios.ConnectionTimeout.IsSet() {
		t.Error("ConnectionTimeout should be absent")
	}

	android := dfu.Normalize(req, dfu.PlatformAndroid).Android
	if enabled, ok := android.PacketReceiptNotificationsEnabled.Get(); !ok || enabled {
		t.Error("PRN 0 from config should disable notifications on android")
	}
}

func TestPlatformFunc(t *testing.T) {
	tests := []struct {
		platform string
		want     dfu.Platform
	}{
		{"android", dfu.PlatformAndroid},
		{"ios", dfu.PlatformIOS},
		{"auto", dfu.HostPlatform()},
	}

	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			cfg := Default()
			cfg.Platform = tt.platform
			if got := cfg.PlatformFunc()(); got != tt.want {
				t.Errorf("PlatformFunc()() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "nordic-dfu", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# nordic-dfu") {
		t.Error("written config should start with header comment")
	}
	if strings.Contains(string(data), "null") {
		t.Errorf("written config should omit unset options, got:\n%s", data)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Scan.Timeout != 5*time.Second {
		t.Errorf("written config Scan.Timeout = %v, want 5s", cfg.Scan.Timeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "nordic-dfu")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("platform: ios\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
