package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var configFile string

// Config holds all application configuration
type Config struct {
	Environment string          `mapstructure:"environment" validate:"required"`
	Server      ServerConfig    `mapstructure:"server"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Store       DriverConfig    `mapstructure:"store"`
	Offsets     DriverConfig    `mapstructure:"offsets"`
	Sinks       []string        `mapstructure:"sinks" validate:"dive,oneof=log redis elasticsearch"`
	DB          DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Azure       AzureConfig     `mapstructure:"azure"`
	Elastic     ElasticConfig   `mapstructure:"elastic"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
	Projector   ProjectorConfig `mapstructure:"projector"`
	Ingest      IngestConfig    `mapstructure:"ingest"`
	Reporter    ReporterConfig  `mapstructure:"reporter"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// DriverConfig selects a storage backend
type DriverConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory redis postgres"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	Enabled  bool   `mapstructure:"enabled"`
}

// AzureConfig holds Azure Service Bus configuration
type AzureConfig struct {
	QueueConnStr string `mapstructure:"queue_conn_str"`
	QueueName    string `mapstructure:"queue_name"`
}

// ElasticConfig holds Elasticsearch configuration
type ElasticConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Prefix   string `mapstructure:"prefix"`
	Index    string `mapstructure:"index"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	LicenseKey     string `mapstructure:"license_key"`
	AppName        string `mapstructure:"app_name"`
	LogEnabled     bool   `mapstructure:"log_enabled"`
	DistribTracing bool   `mapstructure:"distributed_tracing_enabled"`
}

// ProjectorConfig controls the projection loop
type ProjectorConfig struct {
	Interval  time.Duration `mapstructure:"interval" validate:"gt=0"`
	BatchSize int           `mapstructure:"batch_size" validate:"gt=0"`
}

// IngestConfig controls the ingestion pipeline
type IngestConfig struct {
	Concurrency int `mapstructure:"concurrency" validate:"gt=0"`
}

// ReporterConfig controls the backlog reporter job
type ReporterConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

// SetConfigFile overrides the config file lookup
func SetConfigFile(file string) {
	configFile = file
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(path)
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			v.SetConfigName("app")
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				// Defaults and environment still apply
				fmt.Printf("Warning: No configuration file found: %v\n", err)
			}
		} else {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("FEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	if err := Validate(config); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate checks the struct tags and cross-field requirements
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Store.Driver == "redis" {
		return fmt.Errorf("invalid configuration: store.driver must be memory or postgres")
	}
	if (cfg.Store.Driver == "postgres" || cfg.Offsets.Driver == "postgres") && cfg.DB.DSN == "" {
		return fmt.Errorf("invalid configuration: database.dsn is required for the postgres driver")
	}
	if cfg.Store.Driver == "postgres" && cfg.Offsets.Driver == "memory" {
		return fmt.Errorf("invalid configuration: a postgres event log needs a durable offsets.driver (postgres or redis)")
	}
	if cfg.Offsets.Driver == "redis" && !cfg.Redis.Enabled {
		return fmt.Errorf("invalid configuration: offsets.driver redis requires redis.enabled")
	}
	for _, sink := range cfg.Sinks {
		if sink == "redis" && !cfg.Redis.Enabled {
			return fmt.Errorf("invalid configuration: redis sink requires redis.enabled")
		}
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server.address", "0.0.0.0:8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("offsets.driver", "memory")
	v.SetDefault("sinks", []string{"log"})

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "1h")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "feed")
	v.SetDefault("redis.enabled", false)

	v.SetDefault("azure.queue_conn_str", "")
	v.SetDefault("azure.queue_name", "feed-updates")

	v.SetDefault("elastic.url", "http://localhost:9200")
	v.SetDefault("elastic.username", "")
	v.SetDefault("elastic.password", "")
	v.SetDefault("elastic.prefix", "feed")
	v.SetDefault("elastic.index", "events")

	v.SetDefault("tracing.license_key", "")
	v.SetDefault("tracing.app_name", "Feed Service")
	v.SetDefault("tracing.log_enabled", true)
	v.SetDefault("tracing.distributed_tracing_enabled", true)

	v.SetDefault("projector.interval", "200ms")
	v.SetDefault("projector.batch_size", 100)

	v.SetDefault("ingest.concurrency", 8)

	v.SetDefault("reporter.interval", "30s")
}

// FormatIndex formats an Elasticsearch index name with the configured prefix
func FormatIndex(cfg ElasticConfig, index string) string {
	return cfg.Prefix + "-" + index
}
