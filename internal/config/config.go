package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Zigbee    ZigbeeConfig    `mapstructure:"zigbee"`
	Backup    BackupConfig    `mapstructure:"backup"`

	// Adapter configuration
	Shelly ShellyConfig `mapstructure:"shelly"`
	Miio   MiioConfig   `mapstructure:"miio"`
	Qube   QubeConfig   `mapstructure:"qube"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	Mode         string `mapstructure:"mode"`
	SyncInterval int    `mapstructure:"sync_interval"` // seconds
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type AuthConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	TokenExpiry int    `mapstructure:"token_expiry"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WebSocketConfig struct {
	PingInterval int `mapstructure:"ping_interval"`
	PongTimeout  int `mapstructure:"pong_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type MQTTConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Broker          string `mapstructure:"broker"`
	ClientID        string `mapstructure:"client_id"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	BaseTopic       string `mapstructure:"base_topic"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

// ZigbeeConfig configures the gateway layer. Radio transport details
// (port, baud rate) belong to the radio stack, not to us.
type ZigbeeConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	RadioPath          string `mapstructure:"radio_path"`
	NetworkPollSeconds int    `mapstructure:"network_poll_seconds"`
	EnableQuirks       bool   `mapstructure:"enable_quirks"`
	QuirksPath         string `mapstructure:"quirks_path"`
}

type BackupConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Schedule  string `mapstructure:"schedule"`
	Path      string `mapstructure:"path"`
	MaxCount  int    `mapstructure:"max_count"`
	GzipLevel int    `mapstructure:"gzip_level"`
}

type ShellyConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	DiscoveryEnabled bool     `mapstructure:"discovery_enabled"`
	Hosts            []string `mapstructure:"hosts"`
	Password         string   `mapstructure:"password"`
	PollInterval     int      `mapstructure:"poll_interval"` // seconds
}

type MiioConfig struct {
	Enabled      bool             `mapstructure:"enabled"`
	PollInterval int              `mapstructure:"poll_interval"` // seconds
	Devices      []MiioDeviceConf `mapstructure:"devices"`
}

type MiioDeviceConf struct {
	Name  string `mapstructure:"name"`
	Host  string `mapstructure:"host"`
	Token string `mapstructure:"token"`
	Model string `mapstructure:"model"`
}

type QubeConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	UnitID       int    `mapstructure:"unit_id"`
	PollInterval int    `mapstructure:"poll_interval"` // seconds
}

// Load reads configuration from configs/config.yaml plus environment
// overrides and returns the populated Config.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()

	viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("mqtt.broker", "MQTT_BROKER")
	viper.BindEnv("mqtt.password", "MQTT_PASSWORD")
	viper.BindEnv("zigbee.radio_path", "ZIGBEE_RADIO_PATH")
	viper.BindEnv("shelly.password", "SHELLY_PASSWORD")
	viper.BindEnv("qube.host", "QUBE_HOST")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine, defaults plus env carry us.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 3001)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.mode", "development")
	viper.SetDefault("server.sync_interval", 30)

	// Database defaults
	viper.SetDefault("database.path", "./data/hearth.db")
	viper.SetDefault("database.migrations_path", "./migrations")
	viper.SetDefault("database.max_connections", 25)

	// Auth defaults
	viper.SetDefault("auth.enabled", true)
	viper.SetDefault("auth.token_expiry", 1800)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	// WebSocket defaults
	viper.SetDefault("websocket.ping_interval", 30)
	viper.SetDefault("websocket.pong_timeout", 60)
	viper.SetDefault("websocket.write_timeout", 10)

	// MQTT defaults
	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.client_id", "hearth-backend")
	viper.SetDefault("mqtt.base_topic", "hearth")
	viper.SetDefault("mqtt.discovery_prefix", "homeassistant")

	// Zigbee defaults
	viper.SetDefault("zigbee.enabled", false)
	viper.SetDefault("zigbee.network_poll_seconds", 60)
	viper.SetDefault("zigbee.enable_quirks", true)

	// Backup defaults
	viper.SetDefault("backup.enabled", true)
	viper.SetDefault("backup.schedule", "0 3 * * *")
	viper.SetDefault("backup.path", "./data/backups")
	viper.SetDefault("backup.max_count", 10)
	viper.SetDefault("backup.gzip_level", 6)

	// Shelly defaults
	viper.SetDefault("shelly.enabled", false)
	viper.SetDefault("shelly.discovery_enabled", true)
	viper.SetDefault("shelly.poll_interval", 30)

	// Miio defaults
	viper.SetDefault("miio.enabled", false)
	viper.SetDefault("miio.poll_interval", 30)

	// Qube defaults
	viper.SetDefault("qube.enabled", false)
	viper.SetDefault("qube.port", 502)
	viper.SetDefault("qube.unit_id", 1)
	viper.SetDefault("qube.poll_interval", 30)
}
