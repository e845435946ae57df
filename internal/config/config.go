// Package config loads the encounterd configuration file, applies defaults
// and exposes typed sub-configs. Event definitions embedded in the file are
// decoded and validated by LoadDefinitions; a defective definition never
// reaches the orchestrator.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the expected file name inside the config directory.
const ConfigFileName = "encounterd.cfg.json"

// DatabaseConfig holds the history archive backend settings.
type DatabaseConfig struct {
	Driver   string `json:"driver" mapstructure:"driver"`
	Path     string `json:"path" mapstructure:"path"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// InfluxConfig holds the metrics export settings.
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
}

// OTelConfig holds the OpenTelemetry log export settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// StreamConfig holds the websocket live-event stream settings.
type StreamConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	ListenAddr string `json:"listenAddr" mapstructure:"listenAddr"`
}

// HostConfig holds the game-host link settings. The host dials in over a
// websocket and authenticates with the shared secret.
type HostConfig struct {
	ListenAddr   string        `json:"listenAddr" mapstructure:"listenAddr"`
	Secret       string        `json:"secret" mapstructure:"secret"`
	SpawnTimeout time.Duration `json:"spawnTimeout" mapstructure:"spawnTimeout"`
}

// APIConfig holds the HTTP status endpoint settings.
type APIConfig struct {
	ListenAddr string `json:"listenAddr" mapstructure:"listenAddr"`
	APIKey     string `json:"apiKey" mapstructure:"apiKey"`
}

// HistoryConfig holds the occurrence export settings.
type HistoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// Load reads configuration from the JSON file in configDir and sets default
// values.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./encounterlogs")
	viper.SetDefault("tickInterval", "50ms")

	viper.SetDefault("host.listenAddr", ":5599")
	viper.SetDefault("host.secret", "")
	viper.SetDefault("host.spawnTimeout", "10s")

	viper.SetDefault("api.listenAddr", ":5600")
	viper.SetDefault("api.apiKey", "")

	viper.SetDefault("stream.enabled", true)
	viper.SetDefault("stream.listenAddr", ":5601")

	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.path", "./encounter.db")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "encounter")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "encounter-metrics")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "encounterd")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("history.outputDir", "./archives")
	viper.SetDefault("history.compressOutput", true)

	viper.SetConfigName(ConfigFileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetTickInterval returns the orchestrator tick cadence.
func GetTickInterval() time.Duration {
	d := viper.GetDuration("tickInterval")
	if d <= 0 {
		d = 50 * time.Millisecond
	}
	return d
}

// GetDatabaseConfig returns the history archive backend settings.
func GetDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:   viper.GetString("db.driver"),
		Path:     viper.GetString("db.path"),
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetInfluxConfig returns the metrics export settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
	}
}

// GetOTelConfig returns the OpenTelemetry log export settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetStreamConfig returns the websocket stream settings.
func GetStreamConfig() StreamConfig {
	return StreamConfig{
		Enabled:    viper.GetBool("stream.enabled"),
		ListenAddr: viper.GetString("stream.listenAddr"),
	}
}

// GetHostConfig returns the game-host link settings.
func GetHostConfig() HostConfig {
	return HostConfig{
		ListenAddr:   viper.GetString("host.listenAddr"),
		Secret:       viper.GetString("host.secret"),
		SpawnTimeout: viper.GetDuration("host.spawnTimeout"),
	}
}

// GetAPIConfig returns the HTTP status endpoint settings.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ListenAddr: viper.GetString("api.listenAddr"),
		APIKey:     viper.GetString("api.apiKey"),
	}
}

// GetHistoryConfig returns the occurrence export settings.
func GetHistoryConfig() HistoryConfig {
	return HistoryConfig{
		OutputDir:      viper.GetString("history.outputDir"),
		CompressOutput: viper.GetBool("history.compressOutput"),
	}
}
