package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultDuration is the recording time allotted before auto-stop.
const DefaultDuration = 30 * time.Minute

// Config holds all configuration for the recorder
type Config struct {
	Recording RecordingConfig `yaml:"recording"`
	Capture   CaptureConfig   `yaml:"capture"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	Output    OutputConfig    `yaml:"output"`
	Control   ControlConfig   `yaml:"control"`
	Health    HealthConfig    `yaml:"health"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RecordingConfig holds session timing configuration
type RecordingConfig struct {
	Duration         time.Duration `yaml:"duration"`
	Countdown        time.Duration `yaml:"countdown"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	AlertRepetitions int           `yaml:"alert_repetitions"`
	AlertInterval    time.Duration `yaml:"alert_interval"`
	AlertDelay       time.Duration `yaml:"alert_delay"`
	LockPath         string        `yaml:"lock_path"`
}

// CaptureConfig holds ffmpeg capture configuration
type CaptureConfig struct {
	FFmpegPath  string        `yaml:"ffmpeg_path"`
	Display     string        `yaml:"display"`
	Microphone  string        `yaml:"microphone"`
	Webcam      string        `yaml:"webcam"`
	FrameRate   int           `yaml:"frame_rate"`
	WebcamSize  int           `yaml:"webcam_size"`
	TempDir     string        `yaml:"temp_dir"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// EncoderConfig holds transcode configuration
type EncoderConfig struct {
	FFmpegPath string        `yaml:"ffmpeg_path"`
	Encoders   []string      `yaml:"encoders"`
	Preset     string        `yaml:"preset"`
	CRF        int           `yaml:"crf"`
	Threads    int           `yaml:"threads"`
	Timeout    time.Duration `yaml:"timeout"`
}

// OutputConfig holds local save configuration
type OutputConfig struct {
	Dir           string        `yaml:"dir"`
	Prefix        string        `yaml:"prefix"`
	Prompt        bool          `yaml:"prompt"`
	PromptTimeout time.Duration `yaml:"prompt_timeout"`
}

// ControlConfig holds gRPC control server configuration
type ControlConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	KeepaliveTime    time.Duration `yaml:"keepalive_time"`
	KeepaliveTimeout time.Duration `yaml:"keepalive_timeout"`
	Timeout          time.Duration `yaml:"timeout"`
}

// HealthConfig holds the health/metrics HTTP server configuration
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ArchiveConfig holds MinIO/S3 configuration for uploading finished recordings
type ArchiveConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Endpoint  string        `yaml:"endpoint"`
	Bucket    string        `yaml:"bucket"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	UseSSL    bool          `yaml:"use_ssl"`
	Region    string        `yaml:"region"`
	Timeout   time.Duration `yaml:"timeout"`
}

// NotifyConfig holds desktop notification and webhook configuration
type NotifyConfig struct {
	Desktop        bool          `yaml:"desktop"`
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads configuration from file and applies environment overrides.
// An empty path means the default location; a missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	cfg.setDefaults()

	if path == "" {
		path = DefaultPath()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	cfg.Output.Dir = expandTilde(cfg.Output.Dir)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
	cfg.Recording.LockPath = expandTilde(cfg.Recording.LockPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) setDefaults() {
	c.Recording = RecordingConfig{
		Duration:         DefaultDuration,
		Countdown:        time.Second,
		TickInterval:     100 * time.Millisecond,
		AlertRepetitions: 3,
		AlertInterval:    time.Second,
		AlertDelay:       500 * time.Millisecond,
		LockPath:         filepath.Join(os.TempDir(), "screenrec.lock"),
	}

	c.Capture = CaptureConfig{
		FFmpegPath:  "ffmpeg",
		FrameRate:   30,
		WebcamSize:  250,
		TempDir:     os.TempDir(),
		StopTimeout: 10 * time.Second,
	}

	c.Encoder = EncoderConfig{
		FFmpegPath: "ffmpeg",
		Encoders:   []string{"h264_nvenc", "h264_qsv", "h264_videotoolbox", "libx264"},
		Preset:     "ultrafast",
		CRF:        17,
		Threads:    4,
		Timeout:    30 * time.Minute,
	}

	c.Output = OutputConfig{
		Dir:           defaultVideosDir(),
		Prefix:        "recording",
		Prompt:        false,
		PromptTimeout: 2 * time.Minute,
	}

	c.Control = ControlConfig{
		Enabled:          true,
		Host:             "127.0.0.1",
		Port:             50061,
		KeepaliveTime:    30 * time.Second,
		KeepaliveTimeout: 10 * time.Second,
		Timeout:          5 * time.Second,
	}

	c.Health = HealthConfig{
		Enabled: false,
		Port:    50062,
	}

	c.Archive = ArchiveConfig{
		Enabled: false,
		Bucket:  "recordings",
		Region:  "us-east-1",
		Timeout: 10 * time.Minute,
	}

	c.Notify = NotifyConfig{
		Desktop:        true,
		WebhookTimeout: 10 * time.Second,
	}

	c.Logging = LoggingConfig{
		Level:      "info",
		Format:     "console",
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

func (c *Config) applyEnvOverrides() {
	// Recording
	if v := os.Getenv("SCREENREC_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Recording.Duration = d
		}
	}
	if v := os.Getenv("SCREENREC_MINUTES"); v != "" {
		if m, err := strconv.Atoi(v); err == nil {
			c.Recording.Duration = DurationFromMinutes(m)
		}
	}
	if v := os.Getenv("SCREENREC_COUNTDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Recording.Countdown = d
		}
	}

	// Capture
	if v := os.Getenv("SCREENREC_FFMPEG_PATH"); v != "" {
		c.Capture.FFmpegPath = v
		c.Encoder.FFmpegPath = v
	}
	if v := os.Getenv("SCREENREC_DISPLAY"); v != "" {
		c.Capture.Display = v
	}
	if v := os.Getenv("SCREENREC_MICROPHONE"); v != "" {
		c.Capture.Microphone = v
	}
	if v := os.Getenv("SCREENREC_WEBCAM"); v != "" {
		c.Capture.Webcam = v
	}

	// Encoder
	if v := os.Getenv("SCREENREC_ENCODERS"); v != "" {
		c.Encoder.Encoders = splitList(v)
	}

	// Output
	if v := os.Getenv("SCREENREC_OUTPUT_DIR"); v != "" {
		c.Output.Dir = expandTilde(v)
	}

	// Control
	if v := os.Getenv("SCREENREC_CONTROL_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			c.Control.Port = port
		}
	}
	if v := os.Getenv("SCREENREC_CONTROL_ENABLED"); v != "" {
		c.Control.Enabled = v == "true"
	}

	// Health
	if v := os.Getenv("SCREENREC_HEALTH_ENABLED"); v != "" {
		c.Health.Enabled = v == "true"
	}
	if v := os.Getenv("SCREENREC_HEALTH_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			c.Health.Port = port
		}
	}

	// Archive
	if v := os.Getenv("SCREENREC_S3_ENABLED"); v != "" {
		c.Archive.Enabled = v == "true"
	}
	if v := os.Getenv("SCREENREC_S3_ENDPOINT"); v != "" {
		c.Archive.Endpoint = v
	}
	if v := os.Getenv("SCREENREC_S3_BUCKET"); v != "" {
		c.Archive.Bucket = v
	}
	if v := os.Getenv("SCREENREC_S3_ACCESS_KEY"); v != "" {
		c.Archive.AccessKey = v
	}
	if v := os.Getenv("SCREENREC_S3_SECRET_KEY"); v != "" {
		c.Archive.SecretKey = v
	}
	if v := os.Getenv("SCREENREC_S3_USE_SSL"); v == "true" {
		c.Archive.UseSSL = true
	}
	if v := os.Getenv("SCREENREC_S3_REGION"); v != "" {
		c.Archive.Region = v
	}

	// Notify
	if v := os.Getenv("SCREENREC_NOTIFY_DESKTOP"); v != "" {
		c.Notify.Desktop = v == "true"
	}
	if v := os.Getenv("SCREENREC_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = v
	}

	// Logging
	if v := os.Getenv("SCREENREC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SCREENREC_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("SCREENREC_LOG_FILE"); v != "" {
		c.Logging.File = expandTilde(v)
	}
}

// Validate rejects settings the recorder cannot run with.
func (c *Config) Validate() error {
	if c.Recording.Duration <= 0 {
		return fmt.Errorf("recording.duration must be positive, got %s", c.Recording.Duration)
	}
	if c.Recording.Countdown < 0 {
		return fmt.Errorf("recording.countdown must not be negative")
	}
	if c.Recording.TickInterval <= 0 {
		return fmt.Errorf("recording.tick_interval must be positive")
	}
	if c.Capture.FrameRate <= 0 {
		return fmt.Errorf("capture.frame_rate must be positive")
	}
	if len(c.Encoder.Encoders) == 0 {
		return fmt.Errorf("encoder.encoders must list at least one encoder")
	}
	if c.Archive.Enabled && c.Archive.Endpoint == "" {
		return fmt.Errorf("archive.endpoint is required when archive is enabled")
	}
	return nil
}

// DurationFromMinutes converts a user-selected minute count into the
// recording duration. N minutes is N real minutes.
func DurationFromMinutes(minutes int) time.Duration {
	if minutes <= 0 {
		return DefaultDuration
	}
	return time.Duration(minutes) * time.Minute
}

// Address returns the control server address
func (c *ControlConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultPath returns $XDG_CONFIG_HOME/screenrec/config.yaml, or the
// ~/.config equivalent. It returns "" when no home directory is known.
func DefaultPath() string {
	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "screenrec")
	} else if home, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(home, ".config", "screenrec")
	} else {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

func defaultVideosDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Videos")
	}
	return filepath.Join(".", "recordings")
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
