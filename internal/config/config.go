package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Exchanges     []ExchangeConfig  `yaml:"exchanges"`
	Symbols       SymbolsConfig     `yaml:"symbols"`
	Detector      DetectorConfig    `yaml:"detector"`
	Persistence   PersistenceConfig `yaml:"persistence"`
	Telegram      TelegramConfig    `yaml:"telegram"`
	Metrics       MetricsConfig     `yaml:"metrics"`
	API           APIConfig         `yaml:"api"`
	Logging       LoggingConfig     `yaml:"logging"`
	StatsInterval time.Duration     `yaml:"stats_interval"`
}

// ExchangeConfig describes one ticker stream.
type ExchangeConfig struct {
	Name          string `yaml:"name"`
	WSURL         string `yaml:"ws_url"`
	Subscribe     string `yaml:"subscribe"`
	RESTURL       string `yaml:"rest_url"`
	BufferSize    int    `yaml:"buffer_size"`
	MaxReconnects int    `yaml:"max_reconnects"`
	Enabled       *bool  `yaml:"enabled"`
}

// IsEnabled reports whether the stream should be started. Streams are
// enabled unless explicitly disabled.
func (e ExchangeConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// SymbolsConfig holds symbol normalization settings shared by all streams.
type SymbolsConfig struct {
	Aliases map[string]string `yaml:"aliases"`
	Quotes  []string          `yaml:"quotes"`
}

// DetectorConfig holds opportunity detection settings.
type DetectorConfig struct {
	MinProfitFactor float64 `yaml:"min_profit_factor"`
	QueueSize       int     `yaml:"queue_size"`
	Notional        float64 `yaml:"notional"`
	FeeRate         float64 `yaml:"fee_rate"`
}

// PersistenceConfig holds database settings.
type PersistenceConfig struct {
	Enabled          bool          `yaml:"enabled"`
	SQLitePath       string        `yaml:"sqlite_path"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// TelegramConfig holds chat notification settings.
type TelegramConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Token       string        `yaml:"token"`
	ChatID      int64         `yaml:"chat_id"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// APIConfig holds the read-only HTTP and websocket API settings.
type APIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Port         int           `yaml:"port"`
	PushInterval time.Duration `yaml:"push_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
// A missing file is not an error: defaults and environment apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	// Set defaults
	cfg.setDefaults()

	// Read YAML file if it exists
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if len(data) > 0 {
		// Expand environment variables in YAML content
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options.
func (c *Config) setDefaults() {
	c.Symbols = SymbolsConfig{
		Aliases: map[string]string{
			"XBT": "BTC",
			"XDG": "DOGE",
		},
		Quotes: []string{"USDT", "USDC", "USD", "EUR", "BTC", "ETH"},
	}
	c.Detector = DetectorConfig{
		MinProfitFactor: 1.0,
		QueueSize:       1000,
	}
	c.Persistence = PersistenceConfig{
		Enabled:          true,
		SQLitePath:       "./data/tickergraph.db",
		SnapshotInterval: 5 * time.Minute,
	}
	c.Telegram = TelegramConfig{
		MinInterval: time.Minute,
	}
	c.Metrics = MetricsConfig{
		Enabled: true,
		Port:    8080,
		Path:    "/metrics",
	}
	c.API = APIConfig{
		Port:         8081,
		PushInterval: 10 * time.Second,
	}
	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
	}
	c.StatsInterval = 15 * time.Second
}

// applyEnvOverrides applies environment variable overrides to configuration.
func (c *Config) applyEnvOverrides() {
	// Detector config
	if v := os.Getenv("DETECTOR_MIN_PROFIT_FACTOR"); v != "" {
		var factor float64
		if _, err := fmt.Sscanf(v, "%f", &factor); err == nil && factor >= 1.0 {
			c.Detector.MinProfitFactor = factor
		}
	}
	if v := os.Getenv("DETECTOR_QUEUE_SIZE"); v != "" {
		var size int
		if _, err := fmt.Sscanf(v, "%d", &size); err == nil && size > 0 {
			c.Detector.QueueSize = size
		}
	}

	// Telegram config
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
		c.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		var id int64
		if _, err := fmt.Sscanf(v, "%d", &id); err == nil && id != 0 {
			c.Telegram.ChatID = id
		}
	}

	// Metrics config
	if v := os.Getenv("METRICS_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Metrics.Port = port
		}
	}

	if v := os.Getenv("API_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.API.Port = port
		}
	}

	// Persistence config
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Persistence.SQLitePath = v
	}

	// Logging config
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}

// Validate checks that all required configuration values are present and valid.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Exchanges))
	for i, ex := range c.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("exchanges[%d].name is required", i)
		}
		name := strings.ToLower(ex.Name)
		if seen[name] {
			return fmt.Errorf("exchange %q is configured twice", ex.Name)
		}
		seen[name] = true
		if ex.IsEnabled() && ex.WSURL == "" {
			return fmt.Errorf("exchanges[%d].ws_url is required for %q", i, ex.Name)
		}
		if ex.BufferSize < 0 {
			return fmt.Errorf("exchanges[%d].buffer_size must not be negative", i)
		}
	}
	if c.Detector.MinProfitFactor < 1.0 {
		return fmt.Errorf("detector.min_profit_factor must be at least 1.0")
	}
	if c.Detector.QueueSize <= 0 {
		return fmt.Errorf("detector.queue_size must be positive")
	}
	if c.Detector.Notional < 0 {
		return fmt.Errorf("detector.notional must not be negative")
	}
	if c.Detector.FeeRate < 0 || c.Detector.FeeRate >= 1 {
		return fmt.Errorf("detector.fee_rate must be in [0, 1)")
	}
	if c.Persistence.Enabled && c.Persistence.SQLitePath == "" {
		return fmt.Errorf("persistence.sqlite_path is required when persistence is enabled")
	}
	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			return fmt.Errorf("telegram.token is required (set TELEGRAM_BOT_TOKEN env var)")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required (set TELEGRAM_CHAT_ID env var)")
		}
	}
	if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be a valid port number")
	}
	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return fmt.Errorf("api.port must be a valid port number")
		}
		if c.Metrics.Enabled && c.API.Port == c.Metrics.Port {
			return fmt.Errorf("api.port must differ from metrics.port")
		}
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// EnabledExchanges returns the streams to start.
func (c *Config) EnabledExchanges() []ExchangeConfig {
	var out []ExchangeConfig
	for _, ex := range c.Exchanges {
		if ex.IsEnabled() {
			out = append(out, ex)
		}
	}
	return out
}
