package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that reads and writes as a string ("5m", "30s").
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON writes the duration in its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// TelegramConfig configures the Telegram notification channel.
type TelegramConfig struct {
	// BotToken enables the channel when non-empty. Prefer LOGSIFT_TELEGRAM_TOKEN.
	BotToken string `json:"bot_token,omitempty"`
	// ChatID is the admin chat that receives previews and files.
	ChatID string `json:"chat_id,omitempty"`
	// APIBase overrides https://api.telegram.org (tests, proxies).
	APIBase string `json:"api_base,omitempty"`
}

// WebhookConfig configures the generic webhook notification channel.
type WebhookConfig struct {
	URL string `json:"url,omitempty"`
}

// S3Config configures archival of rotated and snapshot files to S3.
type S3Config struct {
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Region string `json:"region,omitempty"`
}

// Config holds application configuration.
type Config struct {
	// ServiceName is attached to every log line.
	ServiceName string `json:"service_name,omitempty"`

	// ListenAddr is the TCP address the ingest server accepts log streams on.
	ListenAddr string `json:"listen_addr,omitempty"`

	// AdminAddr is the bind address for the admin HTTP API. Empty disables it.
	AdminAddr string `json:"admin_addr,omitempty"`

	// DataDir holds the active, rotated and snapshot databases.
	DataDir string `json:"data_dir,omitempty"`

	// RulesPath is the per-origin rule file (JSON, or YAML by extension).
	RulesPath string `json:"rules_path,omitempty"`

	// RotateLimit is the row count at which an origin's database is rotated.
	RotateLimit int `json:"rotate_limit,omitempty"`

	// QueueSize bounds the store engine command queue.
	QueueSize int `json:"queue_size,omitempty"`

	// MaxLineBytes caps a single ingest line.
	MaxLineBytes int `json:"max_line_bytes,omitempty"`

	// ReadIdleTimeout closes ingest connections that send nothing for this long.
	ReadIdleTimeout Duration `json:"read_idle_timeout,omitempty"`

	LogLevel  string `json:"log_level,omitempty"`
	LogPretty bool   `json:"log_pretty,omitempty"`

	// InstanceID identifies this process in logs. Defaults to the hostname.
	InstanceID string `json:"instance_id,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	Telegram TelegramConfig `json:"telegram"`
	Webhook  WebhookConfig  `json:"webhook"`
	S3       S3Config       `json:"s3"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:     "logsift",
		ListenAddr:      "0.0.0.0:9000",
		AdminAddr:       "127.0.0.1:9100",
		DataDir:         "data",
		RulesPath:       "rules.json",
		RotateLimit:     1000,
		QueueSize:       4096,
		MaxLineBytes:    1 << 20,
		ReadIdleTimeout: Duration(5 * time.Minute),
		LogLevel:        "info",
		InstanceID:      hostname(),
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	return LoadFile(filepath.Join(baseDir, "config.json"))
}

// LoadFile loads configuration from a specific file path, then applies
// environment overrides. Missing files yield the defaults.
func LoadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	applyEnv(merged, os.Getenv)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("listen_addr must not be empty")
	}
	if c.RotateLimit < 1 {
		return fmt.Errorf("rotate_limit must be at least 1, got %d", c.RotateLimit)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir must not be empty")
	}
	return nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// applyEnv overrides secrets and deployment knobs from the environment.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("LOGSIFT_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := getenv("LOGSIFT_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := getenv("LOGSIFT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("LOGSIFT_ADMIN_ADDR"); v != "" {
		cfg.AdminAddr = v
	}
	if v := getenv("LOGSIFT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := getenv("LOGSIFT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("LOGSIFT_ROTATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RotateLimit = n
		}
	}
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.ServiceName = pick(overlay.ServiceName, base.ServiceName)
	result.ListenAddr = pick(overlay.ListenAddr, base.ListenAddr)
	result.AdminAddr = pick(overlay.AdminAddr, base.AdminAddr)
	result.DataDir = pick(overlay.DataDir, base.DataDir)
	result.RulesPath = pick(overlay.RulesPath, base.RulesPath)
	result.LogLevel = pick(overlay.LogLevel, base.LogLevel)
	result.InstanceID = pick(overlay.InstanceID, base.InstanceID)

	result.RotateLimit = overlay.RotateLimit
	if result.RotateLimit == 0 {
		result.RotateLimit = base.RotateLimit
	}
	result.QueueSize = overlay.QueueSize
	if result.QueueSize == 0 {
		result.QueueSize = base.QueueSize
	}
	result.MaxLineBytes = overlay.MaxLineBytes
	if result.MaxLineBytes == 0 {
		result.MaxLineBytes = base.MaxLineBytes
	}
	result.ReadIdleTimeout = overlay.ReadIdleTimeout
	if result.ReadIdleTimeout == 0 {
		result.ReadIdleTimeout = base.ReadIdleTimeout
	}

	// Booleans: overlay wins if true, else base
	result.LogPretty = base.LogPretty || overlay.LogPretty

	result.Telegram = TelegramConfig{
		BotToken: pick(overlay.Telegram.BotToken, base.Telegram.BotToken),
		ChatID:   pick(overlay.Telegram.ChatID, base.Telegram.ChatID),
		APIBase:  pick(overlay.Telegram.APIBase, base.Telegram.APIBase),
	}
	result.Webhook = WebhookConfig{URL: pick(overlay.Webhook.URL, base.Webhook.URL)}
	result.S3 = S3Config{
		Bucket: pick(overlay.S3.Bucket, base.S3.Bucket),
		Prefix: pick(overlay.S3.Prefix, base.S3.Prefix),
		Region: pick(overlay.S3.Region, base.S3.Region),
	}

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pick(overlay, base string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}
