package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Chargers []ChargerConfig `mapstructure:"chargers"`
	PVPC     PVPCConfig      `mapstructure:"pvpc"`
	Network  NetworkConfig   `mapstructure:"network"`
	Auth     AuthConfig      `mapstructure:"auth"`
	Database DatabaseConfig  `mapstructure:"database"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	Datadog  DatadogConfig   `mapstructure:"datadog"`
	MQTT     MQTTConfig      `mapstructure:"mqtt"`
}

// ChargerConfig describes one Trydan charger on the local network
type ChargerConfig struct {
	Name         string        `mapstructure:"name"`
	Host         string        `mapstructure:"host"` // IP address or hostname
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Retries      int           `mapstructure:"retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	KwhPer100km  float64       `mapstructure:"kwh_per_100km"` // vehicle consumption
}

// PVPCConfig points at the hourly electricity price endpoint used for
// price-based charge gating. An empty endpoint disables the price rule.
type PVPCConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
}

// NetworkConfig contains network settings
type NetworkConfig struct {
	APIPort int `mapstructure:"api_port"` // HTTP API port
}

// AuthConfig contains API authentication settings
type AuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// DatabaseConfig contains setpoint persistence settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"` // Optional: log file path
}

// DatadogConfig contains Datadog APM settings
type DatadogConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	AgentHost   string `mapstructure:"agent_host"`
	AgentPort   int    `mapstructure:"agent_port"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"` // e.g., "trydan" -> "trydan/chargers/garage/..."
}

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.v2c-trydant")
		v.AddConfigPath("/etc/v2c-trydant")
	}

	// Set defaults
	v.SetDefault("network.api_port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("database.path", "./trydan.db")
	v.SetDefault("pvpc.refresh_timeout", "10s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("datadog.enabled", false)
	v.SetDefault("datadog.agent_host", "localhost")
	v.SetDefault("datadog.agent_port", 8126)
	v.SetDefault("datadog.service_name", "v2c-trydant")
	v.SetDefault("datadog.environment", "production")
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "v2c-trydant")
	v.SetDefault("mqtt.topic_prefix", "trydan")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Fprintf(os.Stderr, "Warning: Config file not found, using defaults\n")
		} else {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for i := range cfg.Chargers {
		cfg.Chargers[i].applyDefaults()
	}

	return &cfg, nil
}

// applyDefaults fills per-charger zero values with the vendor app's cadence.
func (c *ChargerConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.KwhPer100km == 0 {
		c.KwhPer100km = 15
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Chargers) == 0 {
		return fmt.Errorf("at least one charger must be configured")
	}

	seen := make(map[string]bool, len(c.Chargers))
	for _, charger := range c.Chargers {
		if charger.Name == "" {
			return fmt.Errorf("charger name is required")
		}
		if charger.Host == "" {
			return fmt.Errorf("charger %s: host is required", charger.Name)
		}
		if seen[charger.Name] {
			return fmt.Errorf("duplicate charger name %s", charger.Name)
		}
		seen[charger.Name] = true

		// The range estimate divides by this; reject bad values here rather
		// than discovering them at runtime.
		if charger.KwhPer100km <= 0 {
			return fmt.Errorf("charger %s: kwh_per_100km must be positive", charger.Name)
		}
		if charger.WriteTimeout >= charger.ReadTimeout {
			return fmt.Errorf("charger %s: write_timeout must be below read_timeout", charger.Name)
		}
	}

	if c.Network.APIPort < 1 || c.Network.APIPort > 65535 {
		return fmt.Errorf("network.api_port must be between 1 and 65535")
	}

	if c.Auth.Enabled && (c.Auth.Username == "" || c.Auth.Password == "") {
		return fmt.Errorf("auth.username and auth.password are required when auth is enabled")
	}

	return nil
}
