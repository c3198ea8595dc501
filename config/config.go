package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server          ServerConfig   `json:"server" yaml:"server"`
	AccountsManager ClientConfig   `json:"accounts_manager" yaml:"accounts_manager"`
	PositionManager ClientConfig   `json:"position_manager" yaml:"position_manager"`
	ABookBridge     BridgeConfig   `json:"a_book_bridge" yaml:"a_book_bridge"`
	RefData         RefDataConfig  `json:"refdata" yaml:"refdata"`
	Executor        ExecutorConfig `json:"executor" yaml:"executor"`
	Journal         JournalConfig  `json:"journal" yaml:"journal"`
	Log             LogConfig      `json:"log" yaml:"log"`
	Alert           AlertConfig    `json:"alert" yaml:"alert"`
}

// ServerConfig holds the listen addresses of the gRPC service and the
// admin HTTP endpoint.
type ServerConfig struct {
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr"`
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`
}

// ClientConfig configures one outbound gRPC ledger client.
type ClientConfig struct {
	Addr           string `json:"addr" yaml:"addr"`
	RequestTimeout string `json:"request_timeout" yaml:"request_timeout"` // e.g. "2s"
	Retries        int    `json:"retries" yaml:"retries"`
}

// Timeout returns the parsed request timeout, or 5s when unset.
func (c ClientConfig) Timeout() time.Duration {
	return durationOr(c.RequestTimeout, 5*time.Second)
}

// BridgeConfig enables A-Book routing when URL is set.
type BridgeConfig struct {
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Token   string `json:"token,omitempty" yaml:"token,omitempty"`
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

func (b BridgeConfig) Enabled() bool { return b.URL != "" }

func (b BridgeConfig) TimeoutDuration() time.Duration {
	return durationOr(b.Timeout, 10*time.Second)
}

// RefDataConfig says where the reference snapshot comes from. A seed file
// is loaded first; the feed and price stream then keep it current.
type RefDataConfig struct {
	SeedFile         string `json:"seed_file,omitempty" yaml:"seed_file,omitempty"`
	FeedURL          string `json:"feed_url,omitempty" yaml:"feed_url,omitempty"`
	FeedToken        string `json:"feed_token,omitempty" yaml:"feed_token,omitempty"`
	PriceStreamURL   string `json:"price_stream_url,omitempty" yaml:"price_stream_url,omitempty"`
	PriceStreamToken string `json:"price_stream_token,omitempty" yaml:"price_stream_token,omitempty"`
}

type ExecutorConfig struct {
	DefaultCollateral    string `json:"default_collateral" yaml:"default_collateral"`
	CompensationTimeout  string `json:"compensation_timeout" yaml:"compensation_timeout"`
	CompensationAttempts int    `json:"compensation_attempts" yaml:"compensation_attempts"`
}

func (e ExecutorConfig) CompensationTimeoutDuration() time.Duration {
	return durationOr(e.CompensationTimeout, 5*time.Second)
}

// JournalConfig selects the saga journal backend.
type JournalConfig struct {
	Type    string `json:"type" yaml:"type"` // "none", "csv", "sqlite" or "postgres"
	CSVFile string `json:"csv_file,omitempty" yaml:"csv_file,omitempty"`
	DBPath  string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// Path returns the file used by the file-backed journal types.
func (j JournalConfig) Path() string {
	if j.Type == "csv" {
		return j.CSVFile
	}
	return j.DBPath
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"` // "json" or "text"
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
}

// AlertConfig publishes compensation failures to Kafka when brokers are set.
type AlertConfig struct {
	KafkaBrokers []string `json:"kafka_brokers,omitempty" yaml:"kafka_brokers,omitempty"`
	KafkaTopic   string   `json:"kafka_topic,omitempty" yaml:"kafka_topic,omitempty"`
}

func (a AlertConfig) Enabled() bool { return len(a.KafkaBrokers) > 0 }

// LoadFromFile loads configuration from a file (YAML or JSON)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.GRPCAddr == "" {
		return fmt.Errorf("server.grpc_addr is required")
	}
	if err := c.AccountsManager.validate("accounts_manager"); err != nil {
		return err
	}
	if err := c.PositionManager.validate("position_manager"); err != nil {
		return err
	}
	if c.ABookBridge.Enabled() {
		if !strings.HasPrefix(c.ABookBridge.URL, "http://") && !strings.HasPrefix(c.ABookBridge.URL, "https://") {
			return fmt.Errorf("a_book_bridge.url must be an http(s) url")
		}
		if err := checkDuration("a_book_bridge.timeout", c.ABookBridge.Timeout); err != nil {
			return err
		}
	}
	if c.RefData.SeedFile == "" && c.RefData.FeedURL == "" {
		return fmt.Errorf("refdata.seed_file or refdata.feed_url is required")
	}
	if len(c.Executor.DefaultCollateral) != 3 {
		return fmt.Errorf("executor.default_collateral must be a 3-letter currency code")
	}
	if c.Executor.CompensationAttempts < 1 {
		return fmt.Errorf("executor.compensation_attempts must be at least 1")
	}
	if err := checkDuration("executor.compensation_timeout", c.Executor.CompensationTimeout); err != nil {
		return err
	}

	switch c.Journal.Type {
	case "none":
	case "csv":
		if c.Journal.CSVFile == "" {
			return fmt.Errorf("journal csv_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "postgres":
		if c.Journal.DSN == "" {
			return fmt.Errorf("journal dsn required for Postgres type")
		}
	default:
		return fmt.Errorf("journal.type must be 'none', 'csv', 'sqlite' or 'postgres'")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be 'json' or 'text'")
	}

	if c.Alert.Enabled() && c.Alert.KafkaTopic == "" {
		return fmt.Errorf("alert.kafka_topic required when kafka_brokers is set")
	}
	return nil
}

func (c ClientConfig) validate(section string) error {
	if c.Addr == "" {
		return fmt.Errorf("%s.addr is required", section)
	}
	if c.Retries < 0 {
		return fmt.Errorf("%s.retries must not be negative", section)
	}
	return checkDuration(section+".request_timeout", c.RequestTimeout)
}

func checkDuration(field, s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive", field)
	}
	return nil
}

func durationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCAddr: ":8080",
			HTTPAddr: ":8081",
		},
		AccountsManager: ClientConfig{
			Addr:           "localhost:9090",
			RequestTimeout: "2s",
			Retries:        2,
		},
		PositionManager: ClientConfig{
			Addr:           "localhost:9090",
			RequestTimeout: "2s",
			Retries:        2,
		},
		RefData: RefDataConfig{
			SeedFile: "./refdata.yaml",
		},
		Executor: ExecutorConfig{
			DefaultCollateral:    "USD",
			CompensationTimeout:  "5s",
			CompensationAttempts: 3,
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./saga.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
