// Package config handles configuration loading, validation, and persistence
// for the SourceWatch server monitor.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sourcewatch-project/sourcewatch/internal/protocol"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5000
	DefaultMasterAddr = "hl2master.steampowered.com:27011"
)

// Config is the root configuration structure for SourceWatch.
type Config struct {
	mu   sync.RWMutex
	path string

	Query       QueryConfig   `json:"query"`
	Master      MasterConfig  `json:"master"`
	Tracker     TrackerConfig `json:"tracker"`
	API         APIConfig     `json:"api"`
	MQTT        MQTTConfig    `json:"mqtt"`
	Logging     LoggingConfig `json:"logging"`
	DatabaseDir string        `json:"database_directory"`
}

// QueryConfig contains settings for talking to game servers directly.
type QueryConfig struct {
	// Servers is the list of host:port addresses to track.
	Servers []string `json:"servers"`

	TimeoutSec   int    `json:"timeout_sec"`
	RetryCount   int    `json:"retry_count"`
	RconPassword string `json:"rcon_password"`
}

// MasterConfig contains settings for master-server browsing.
type MasterConfig struct {
	Enabled   bool   `json:"enabled"`
	Address   string `json:"address"`
	Region    byte   `json:"region"`
	Filter    string `json:"filter"`
	PageLimit int    `json:"page_limit"`
}

// TrackerConfig contains settings for the background polling loop.
type TrackerConfig struct {
	PollIntervalSec  int `json:"poll_interval_sec"`
	OfflineThreshold int `json:"offline_threshold"`
	RetentionDays    int `json:"retention_days"`
}

// APIConfig contains settings for the HTTP API.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Query: QueryConfig{
			TimeoutSec: 3,
			RetryCount: 2,
		},
		Master: MasterConfig{
			Enabled:   true,
			Address:   DefaultMasterAddr,
			Region:    protocol.RegionAll,
			PageLimit: 20,
		},
		Tracker: TrackerConfig{
			PollIntervalSec:  30,
			OfflineThreshold: 3,
			RetentionDays:    7,
		},
		API: APIConfig{
			Enabled:      true,
			Port:         DefaultAPIPort,
			RateLimitRPS: 100,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Port:    8883,
			UseTLS:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		DatabaseDir: "data",
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	// This ensures config.json always reflects the complete set of options.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Ensure config directory exists
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetQuery returns a copy of the query configuration.
func (c *Config) GetQuery() QueryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Query
}

// GetMaster returns a copy of the master-server configuration.
func (c *Config) GetMaster() MasterConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Master
}

// GetTracker returns a copy of the tracker configuration.
func (c *Config) GetTracker() TrackerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Tracker
}

// SetServers replaces the tracked server list and persists it.
func (c *Config) SetServers(servers []string) error {
	c.mu.Lock()
	c.Query.Servers = append([]string(nil), servers...)
	c.mu.Unlock()
	return c.Save()
}
