package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Device    DeviceConfig    `yaml:"device"`
	Capture   CaptureConfig   `yaml:"capture"`
	Inference InferenceConfig `yaml:"inference"`
	Archive   ArchiveConfig   `yaml:"archive"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Admin     AdminConfig     `yaml:"admin"`
	UI        UIConfig        `yaml:"ui"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// LoadedFrom records the file or directory the config came from.
	LoadedFrom string `yaml:"-"`
}

// ServerConfig contains general gateway settings.
type ServerConfig struct {
	Name   string `yaml:"name"`
	NodeID string `yaml:"node_id"`
}

// DeviceConfig contains the camera-facing listener settings. The camera
// dials in; the gateway never dials out to it.
type DeviceConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// CaptureConfig controls the capture sequence and frame sizing.
type CaptureConfig struct {
	ResolutionSelector int    `yaml:"resolution_selector"`
	Width              int    `yaml:"width"`
	Height             int    `yaml:"height"`
	SettleDelayMS      int    `yaml:"settle_delay_ms"`
	ReceiveTimeoutSecs int    `yaml:"receive_timeout_seconds"`
	AwaitDeviceSecs    int    `yaml:"await_device_seconds"`
	RingSize           int    `yaml:"ring_size"`
	DumpFrames         bool   `yaml:"dump_frames"`
	FramesDir          string `yaml:"frames_dir"`
	DumpMaxFiles       int    `yaml:"dump_max_files"`
}

// MaxFrameBytes bounds frame assembly: a sensor frame at the configured
// resolution is at most width*height*2 bytes (16 bits per pixel).
func (c CaptureConfig) MaxFrameBytes() int {
	return c.Width * c.Height * 2
}

// InferenceConfig contains classification service settings.
type InferenceConfig struct {
	Enabled        bool         `yaml:"enabled"`
	URL            string       `yaml:"url"`
	APIKey         string       `yaml:"api_key"`
	Model          string       `yaml:"model"`
	TimeoutSeconds int          `yaml:"timeout_seconds"`
	Cache          CacheConfig  `yaml:"cache"`
	Labels         LabelsConfig `yaml:"labels"`
}

// CacheConfig controls the on-disk result cache.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`
	TTLHours int    `yaml:"ttl_hours"`
}

// LabelsConfig maps service labels onto a canonical set.
type LabelsConfig struct {
	Canonical       []string `yaml:"canonical"`
	MaxEditDistance int      `yaml:"max_edit_distance"`
}

// ArchiveConfig contains SQLite capture history settings.
type ArchiveConfig struct {
	Enabled                bool   `yaml:"enabled"`
	DBPath                 string `yaml:"db_path"`
	QueueSize              int    `yaml:"queue_size"`
	BatchSize              int    `yaml:"batch_size"`
	BatchIntervalMS        int    `yaml:"batch_interval_ms"`
	BusyTimeoutMS          int    `yaml:"busy_timeout_ms"`
	CleanupIntervalSeconds int    `yaml:"cleanup_interval_seconds"`
	RetentionDays          int    `yaml:"retention_days"`
	RetentionFailedDays    int    `yaml:"retention_failed_days"`
	PreflightTimeoutMS     int    `yaml:"preflight_timeout_ms"`
}

// MQTTConfig contains capture event publishing settings.
type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Broker    string `yaml:"broker"`
	Port      int    `yaml:"port"`
	Topic     string `yaml:"topic"`
	QoS       int    `yaml:"qos"`
	QueueSize int    `yaml:"queue_size"`
}

// AdminConfig contains admin interface settings.
type AdminConfig struct {
	HTTPPort    int    `yaml:"http_port"`
	BindAddress string `yaml:"bind_address"`
}

// UIConfig selects and sizes the console surface.
type UIConfig struct {
	// Mode is auto, tview, ansi, or headless. Auto picks tview on a
	// terminal and headless otherwise.
	Mode        string       `yaml:"mode"`
	RefreshMS   int          `yaml:"refresh_ms"`
	Color       bool         `yaml:"color"`
	ClearScreen bool         `yaml:"clear_screen"`
	PaneLines   UIPaneConfig `yaml:"pane_lines"`
}

// UIPaneConfig sets per-pane line counts for the ANSI renderer.
type UIPaneConfig struct {
	Stats     int `yaml:"stats"`
	Captures  int `yaml:"captures"`
	Inference int `yaml:"inference"`
	Device    int `yaml:"device"`
	System    int `yaml:"system"`
}

// LoggingConfig contains daily file logging settings.
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// SchedulerConfig drives periodic automated captures.
type SchedulerConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

// Load reads configuration from a YAML file, or from every *.yaml/*.yml
// file in a directory merged in lexical order (later files override earlier
// ones). Defaults are applied and the result validated.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config path: %w", err)
	}

	var cfg Config
	if info.IsDir() {
		if err := loadDirectory(path, &cfg); err != nil {
			return nil, err
		}
	} else {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.LoadedFrom = path
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(filename), err)
	}
	return nil
}

func loadDirectory(dir string, cfg *Config) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read config directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("no yaml files in config directory %s", dir)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := loadFile(filepath.Join(dir, name), cfg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "camgate"
	}
	if c.Server.NodeID == "" {
		c.Server.NodeID = "CAMGATE-1"
	}
	if c.Device.ListenAddress == "" {
		c.Device.ListenAddress = "0.0.0.0:8900"
	}

	if c.Capture.ResolutionSelector == 0 {
		c.Capture.ResolutionSelector = 0x18
	}
	if c.Capture.Width == 0 {
		c.Capture.Width = 320
	}
	if c.Capture.Height == 0 {
		c.Capture.Height = 240
	}
	if c.Capture.SettleDelayMS == 0 {
		c.Capture.SettleDelayMS = 500
	}
	if c.Capture.ReceiveTimeoutSecs == 0 {
		c.Capture.ReceiveTimeoutSecs = 20
	}
	if c.Capture.AwaitDeviceSecs == 0 {
		c.Capture.AwaitDeviceSecs = 10
	}
	if c.Capture.RingSize == 0 {
		c.Capture.RingSize = 200
	}
	if c.Capture.FramesDir == "" {
		c.Capture.FramesDir = "data/frames"
	}
	if c.Capture.DumpMaxFiles == 0 {
		c.Capture.DumpMaxFiles = 500
	}

	if c.Inference.TimeoutSeconds == 0 {
		c.Inference.TimeoutSeconds = 15
	}
	if c.Inference.Cache.Path == "" {
		c.Inference.Cache.Path = "data/inference-cache"
	}
	if c.Inference.Cache.TTLHours == 0 {
		c.Inference.Cache.TTLHours = 24
	}
	if c.Inference.Labels.MaxEditDistance == 0 {
		c.Inference.Labels.MaxEditDistance = 2
	}

	if c.Archive.DBPath == "" {
		c.Archive.DBPath = "data/captures.db"
	}
	if c.Archive.QueueSize == 0 {
		c.Archive.QueueSize = 10000
	}
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = 50
	}
	if c.Archive.BatchIntervalMS == 0 {
		c.Archive.BatchIntervalMS = 1000
	}
	if c.Archive.BusyTimeoutMS == 0 {
		c.Archive.BusyTimeoutMS = 5000
	}
	if c.Archive.CleanupIntervalSeconds == 0 {
		c.Archive.CleanupIntervalSeconds = 3600
	}
	if c.Archive.RetentionDays == 0 {
		c.Archive.RetentionDays = 30
	}
	if c.Archive.RetentionFailedDays == 0 {
		c.Archive.RetentionFailedDays = 7
	}
	if c.Archive.PreflightTimeoutMS == 0 {
		c.Archive.PreflightTimeoutMS = 2000
	}

	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "camgate/captures"
	}
	if c.MQTT.QueueSize == 0 {
		c.MQTT.QueueSize = 1000
	}

	if c.Admin.HTTPPort == 0 {
		c.Admin.HTTPPort = 8181
	}
	if c.Admin.BindAddress == "" {
		c.Admin.BindAddress = "127.0.0.1"
	}

	if c.UI.Mode == "" {
		c.UI.Mode = "auto"
	}
	if c.UI.RefreshMS == 0 {
		c.UI.RefreshMS = 1000
	}
	if c.UI.PaneLines.Stats == 0 {
		c.UI.PaneLines.Stats = 8
	}
	if c.UI.PaneLines.Captures == 0 {
		c.UI.PaneLines.Captures = 8
	}
	if c.UI.PaneLines.Inference == 0 {
		c.UI.PaneLines.Inference = 6
	}
	if c.UI.PaneLines.Device == 0 {
		c.UI.PaneLines.Device = 4
	}
	if c.UI.PaneLines.System == 0 {
		c.UI.PaneLines.System = 8
	}

	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = 7
	}

	if c.Scheduler.IntervalSeconds == 0 {
		c.Scheduler.IntervalSeconds = 300
	}
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture: width and height must be positive, got %dx%d", c.Capture.Width, c.Capture.Height)
	}
	if c.Capture.ResolutionSelector < 0 || c.Capture.ResolutionSelector > 0xFF {
		return fmt.Errorf("capture: resolution_selector %#x does not fit one byte", c.Capture.ResolutionSelector)
	}
	if c.Capture.ReceiveTimeoutSecs <= 0 {
		return fmt.Errorf("capture: receive_timeout_seconds must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.UI.Mode)) {
	case "auto", "tview", "ansi", "headless":
	default:
		return fmt.Errorf("ui: unknown mode %q (want auto, tview, ansi, or headless)", c.UI.Mode)
	}
	if c.Inference.Enabled {
		if strings.TrimSpace(c.Inference.URL) == "" {
			return fmt.Errorf("inference: url is required when enabled")
		}
		if strings.TrimSpace(c.Inference.Model) == "" {
			return fmt.Errorf("inference: model is required when enabled")
		}
	}
	if c.MQTT.Enabled {
		if strings.TrimSpace(c.MQTT.Broker) == "" {
			return fmt.Errorf("mqtt: broker is required when enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt: qos must be 0, 1, or 2")
		}
	}
	if c.Archive.Enabled && strings.TrimSpace(c.Archive.DBPath) == "" {
		return fmt.Errorf("archive: db_path is required when enabled")
	}
	return nil
}

// Print displays the configuration.
func (c *Config) Print() {
	fmt.Printf("Server: %s (%s)\n", c.Server.Name, c.Server.NodeID)
	fmt.Printf("Device listener: %s\n", c.Device.ListenAddress)
	fmt.Printf("Capture: %dx%d selector=%#02x settle=%dms receive_timeout=%ds\n",
		c.Capture.Width, c.Capture.Height, c.Capture.ResolutionSelector,
		c.Capture.SettleDelayMS, c.Capture.ReceiveTimeoutSecs)
	if c.Inference.Enabled {
		cacheDesc := "off"
		if c.Inference.Cache.Enabled {
			cacheDesc = fmt.Sprintf("%s (ttl %dh)", c.Inference.Cache.Path, c.Inference.Cache.TTLHours)
		}
		fmt.Printf("Inference: %s model=%s cache=%s\n", c.Inference.URL, c.Inference.Model, cacheDesc)
	}
	if c.Archive.Enabled {
		fmt.Printf("Archive: %s (retention %dd complete / %dd failed)\n",
			c.Archive.DBPath, c.Archive.RetentionDays, c.Archive.RetentionFailedDays)
	}
	if c.MQTT.Enabled {
		fmt.Printf("MQTT: %s:%d (topic: %s)\n", c.MQTT.Broker, c.MQTT.Port, c.MQTT.Topic)
	}
	fmt.Printf("Admin: http://%s:%d\n", c.Admin.BindAddress, c.Admin.HTTPPort)
	if c.Scheduler.Enabled {
		fmt.Printf("Scheduler: capture every %ds\n", c.Scheduler.IntervalSeconds)
	}
}
