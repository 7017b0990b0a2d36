// Package config reads the parser node's JSON configuration file and
// applies environment variable overrides to its leaf secret values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DataTransferMode selects where enriched records are written.
type DataTransferMode string

const (
	// ModeLogs writes enriched records to local CSV files.
	ModeLogs DataTransferMode = "LOGS"
	// ModeRabbitMQ publishes enriched records to the broker.
	ModeRabbitMQ DataTransferMode = "RABBITMQ"
)

// BrokerConfig describes how to reach the topic exchange.
type BrokerConfig struct {
	Host                   string  `json:"host"`
	Port                   int     `json:"port"`
	VirtualHost            string  `json:"virtual_host"`
	Username               string  `json:"username"`
	Password               string  `json:"password"`
	Exchange               string  `json:"exchange"`
	PublisherConfirms      bool    `json:"publisher_confirms"`
	PublishTimeoutSeconds  float64 `json:"publish_timeout_seconds"`
	ReconnectTimeoutSeconds float64 `json:"reconnect_timeout_seconds"`
	StartupBackoffCapSeconds float64 `json:"startup_backoff_cap_seconds"`
}

// URL builds the amqp connection string.
func (b BrokerConfig) URL() string {
	vhost := b.VirtualHost
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", b.Username, b.Password, b.Host, b.Port, vhost)
}

// DatabaseConfig describes the relational store holding IO mappings and
// the command outbox/sent tables.
type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	PoolSize     int    `json:"pool_size"`
	PoolOverflow int    `json:"pool_overflow"`
	SSLMode      string `json:"ssl_mode"`
}

// DSN builds a libpq-style connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, sslmode)
}

// MappingCacheConfig controls the per-IMEI IO mapping cache in §4.4.
type MappingCacheConfig struct {
	TTLMinutes             int  `json:"cache_ttl_minutes"`
	MaxSize                int  `json:"cache_max_size"`
	InactiveCleanupHours   int  `json:"inactive_cleanup_hours"`
	CheckDBChanges         bool `json:"check_db_changes"`
	CleanupIntervalMinutes int  `json:"cleanup_interval_minutes"`
	CSVFixturePath         string `json:"csv_fixture_path"`
}

// CommandConfig controls the outbox poller, sender and sweeper in §4.8.
type CommandConfig struct {
	PollIntervalSeconds      float64 `json:"poll_interval_seconds"`
	NoReplyThresholdSeconds  float64 `json:"no_reply_threshold_seconds"`
	SweepIntervalSeconds     float64 `json:"sweep_interval_seconds"`
	ResponseGraceSeconds     float64 `json:"response_grace_seconds"`
}

// TCPServerConfig controls the listener and per-connection tuning in §4.7.
type TCPServerConfig struct {
	ListenAddr                   string `json:"listen_addr"`
	MaxPacketSizeBytes           int    `json:"max_packet_size_bytes"`
	MaxConcurrentConnections     int    `json:"max_concurrent_connections"`
	ConnectionRejectTimeoutSecs  float64 `json:"connection_reject_timeout_seconds"`
	ReadTimeoutSeconds           int    `json:"read_timeout_seconds"`
	KeepaliveIdleSeconds         int    `json:"keepalive_idle_seconds"`
	KeepaliveIntervalSeconds     int    `json:"keepalive_interval_seconds"`
	KeepaliveCount               int    `json:"keepalive_count"`
}

// MonitorConfig controls the periodic load report in §6.
type MonitorConfig struct {
	URL             string  `json:"url"`
	IntervalSeconds float64 `json:"interval_seconds"`
}

// HealthConfig controls the readiness endpoint in §4.9.
type HealthConfig struct {
	ListenAddr                  string  `json:"listen_addr"`
	BrokerDisconnectGraceSecs   float64 `json:"broker_disconnect_grace_seconds"`
}

// Config is the top-level, JSON-backed configuration for the parser node.
type Config struct {
	NodeID            string             `json:"node_id"`
	LogLevel          string             `json:"log_level"`
	DataTransferMode  DataTransferMode   `json:"data_transfer_mode"`
	CSVLogDirectory   string             `json:"csv_log_directory"`
	ShutdownTaskTimeoutSeconds float64   `json:"shutdown_task_timeout_seconds"`

	TCPServer TCPServerConfig    `json:"tcp_server"`
	Broker    BrokerConfig       `json:"rabbitmq"`
	Database  DatabaseConfig     `json:"database"`
	Mapping   MappingCacheConfig `json:"unit_io_mapping"`
	Command   CommandConfig      `json:"commands"`
	Monitor   MonitorConfig      `json:"monitor"`
	Health    HealthConfig       `json:"health"`
}

// ShutdownTaskTimeout returns the configured bounded-drain timeout.
func (c *Config) ShutdownTaskTimeout() time.Duration {
	return time.Duration(c.ShutdownTaskTimeoutSeconds * float64(time.Second))
}

// defaults returns a Config pre-populated with every default named in spec.md.
func defaults() *Config {
	return &Config{
		NodeID:                     "parser-node-1",
		LogLevel:                   "info",
		DataTransferMode:           ModeRabbitMQ,
		CSVLogDirectory:            "./logs",
		ShutdownTaskTimeoutSeconds: 1.5,
		TCPServer: TCPServerConfig{
			ListenAddr:                  ":5027",
			MaxPacketSizeBytes:          10 * 1024 * 1024,
			MaxConcurrentConnections:    50000,
			ConnectionRejectTimeoutSecs: 1.0,
			ReadTimeoutSeconds:          30,
			KeepaliveIdleSeconds:        60,
			KeepaliveIntervalSeconds:    10,
			KeepaliveCount:              3,
		},
		Broker: BrokerConfig{
			Host:                     "localhost",
			Port:                     5672,
			VirtualHost:              "/",
			Username:                 "guest",
			Password:                 "guest",
			Exchange:                 "tracking_data_exchange",
			PublisherConfirms:        true,
			PublishTimeoutSeconds:    5,
			ReconnectTimeoutSeconds:  10,
			StartupBackoffCapSeconds: 30,
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			User:         "parser",
			Name:         "fleet",
			PoolSize:     15,
			PoolOverflow: 20,
			SSLMode:      "disable",
		},
		Mapping: MappingCacheConfig{
			TTLMinutes:             30,
			MaxSize:                10000,
			InactiveCleanupHours:   24,
			CheckDBChanges:         true,
			CleanupIntervalMinutes: 60,
			CSVFixturePath:         "unit_io_mapping.csv",
		},
		Command: CommandConfig{
			PollIntervalSeconds:     2,
			NoReplyThresholdSeconds: 120,
			SweepIntervalSeconds:    30,
			ResponseGraceSeconds:    90,
		},
		Monitor: MonitorConfig{
			URL:             "",
			IntervalSeconds: 30,
		},
		Health: HealthConfig{
			ListenAddr:                ":8081",
			BrokerDisconnectGraceSecs: 60,
		},
	}
}

// Load reads the JSON config file at path, merges it over the defaults and
// applies environment variable overrides to leaf secrets. A missing file is
// not an error: the defaults are returned, matching the teacher's
// jsonconfig.GetJSONConfigFromFile behaviour of degrading to sensible values.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides overrides named leaf values from the environment, the
// same leaf-only override policy the original Python config.py applies to
// DATABASE_PASSWORD.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATA_TRANSFER_MODE"); v != "" {
		cfg.DataTransferMode = DataTransferMode(v)
	}
	if v := os.Getenv("BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("BROKER_USERNAME"); v != "" {
		cfg.Broker.Username = v
	}
	if v := os.Getenv("BROKER_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}
	if v := os.Getenv("DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DATABASE_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DATABASE_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("MONITOR_URL"); v != "" {
		cfg.Monitor.URL = v
	}
}

// validate rejects configurations that would be fatal at startup (exit
// code 1 per spec §6 CLI & exit codes).
func validate(cfg *Config) error {
	switch cfg.DataTransferMode {
	case ModeLogs, ModeRabbitMQ:
	default:
		return fmt.Errorf("config: data_transfer_mode must be %q or %q, got %q", ModeLogs, ModeRabbitMQ, cfg.DataTransferMode)
	}
	if cfg.TCPServer.MaxPacketSizeBytes <= 0 {
		return fmt.Errorf("config: tcp_server.max_packet_size_bytes must be positive")
	}
	if cfg.TCPServer.MaxConcurrentConnections <= 0 {
		return fmt.Errorf("config: tcp_server.max_concurrent_connections must be positive")
	}
	if cfg.NodeID == "" {
		return fmt.Errorf("config: node_id must not be empty")
	}
	return nil
}

// FromEnvOrDefaultPath resolves the config file path the way the CLI does:
// CONFIG_FILE environment variable, falling back to a fixed relative path.
func FromEnvOrDefaultPath() string {
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		return v
	}
	return "config.json"
}
