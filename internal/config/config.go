package config

import (
	"fmt"
	"strings"
	"time"

	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/flexprice/usagemeter/internal/validator"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `mapstructure:"deployment" validate:"required"`
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Logging    LoggingConfig    `mapstructure:"logging" validate:"required"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Temporal   TemporalConfig   `mapstructure:"temporal"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
	Pyroscope  PyroscopeConfig  `mapstructure:"pyroscope"`
	Metering   MeteringConfig   `mapstructure:"metering" validate:"required"`
}

type DeploymentConfig struct {
	Mode types.RunMode `mapstructure:"mode" validate:"required"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

type LoggingConfig struct {
	Level          types.LogLevel `mapstructure:"level" validate:"required"`
	FluentdEnabled bool           `mapstructure:"fluentd_enabled"`
	FluentdHost    string         `mapstructure:"fluentd_host"`
	FluentdPort    int            `mapstructure:"fluentd_port"`
}

type PostgresConfig struct {
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	User                   string `mapstructure:"user"`
	Password               string `mapstructure:"password"`
	DBName                 string `mapstructure:"dbname"`
	SSLMode                string `mapstructure:"sslmode"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
}

type ClickHouseConfig struct {
	Address  string `mapstructure:"address"`
	TLS      bool   `mapstructure:"tls"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	UseTLS   bool          `mapstructure:"use_tls"`
	PoolSize int           `mapstructure:"pool_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type" validate:"omitempty,oneof=inmemory redis"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	Topic         string   `mapstructure:"topic"`
	ClientID      string   `mapstructure:"client_id"`
	TLS           bool     `mapstructure:"tls"`
	UseSASL       bool     `mapstructure:"use_sasl"`
	SASLMechanism string   `mapstructure:"sasl_mechanism"`
	SASLUser      string   `mapstructure:"sasl_user"`
	SASLPassword  string   `mapstructure:"sasl_password"`

	// RateLimit caps consumed messages per second, 0 disables throttling
	RateLimit int64 `mapstructure:"rate_limit" validate:"gte=0"`
}

type TemporalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type PyroscopeConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ServerAddress   string `mapstructure:"server_address" validate:"required_if=Enabled true"`
	ApplicationName string `mapstructure:"application_name"`
}

// MeteringConfig controls how usage is computed
type MeteringConfig struct {
	Backend  types.MeteringBackend `mapstructure:"backend" validate:"required,oneof=row_scan pre_aggregated"`
	RowStore types.RowStoreType    `mapstructure:"row_store" validate:"omitempty,oneof=postgres clickhouse"`

	// MaxConcurrency bounds fan-out when aggregating many charges at once
	MaxConcurrency int `mapstructure:"max_concurrency" validate:"gte=1"`

	// StoreRateLimit is the number of store reads per second across a batch, 0 disables throttling
	StoreRateLimit float64 `mapstructure:"store_rate_limit" validate:"gte=0"`

	PartialCacheTTL time.Duration `mapstructure:"partial_cache_ttl"`
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// NewConfig loads configuration from .env, an optional config.yaml and USAGEMETER_* environment variables
func NewConfig() (*Configuration, error) {
	// .env is optional; missing file is not an error
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("USAGEMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, ierr.WithError(err).
				WithHint("Failed to read config file").
				Mark(ierr.ErrValidation)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to unmarshal config").
			Mark(ierr.ErrValidation)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Configuration) Validate() error {
	if err := validator.ValidateRequest(c); err != nil {
		return err
	}

	// partials and tails are read from the clickhouse events table, so
	// snapshots must be built from it as well
	if c.Metering.Backend == types.MeteringBackendPreAggregated && c.Metering.RowStore != types.RowStoreClickHouse {
		return ierr.NewErrorf("metering backend %s requires row_store %s", c.Metering.Backend, types.RowStoreClickHouse).
			WithHintf("Set metering.row_store to %s or use the %s backend", types.RowStoreClickHouse, types.MeteringBackendRowScan).
			WithReportableDetails(map[string]interface{}{
				"backend":   c.Metering.Backend,
				"row_store": c.Metering.RowStore,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// GetDefaultConfig returns a configuration usable without any file or environment,
// used by the global logger and tests
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: types.LogLevelInfo},
		Cache:      CacheConfig{Enabled: true, Type: "inmemory"},
		Metering: MeteringConfig{
			Backend:         types.MeteringBackendRowScan,
			RowStore:        types.RowStorePostgres,
			MaxConcurrency:  8,
			PartialCacheTTL: 5 * time.Minute,
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", string(types.ModeLocal))
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", string(types.LogLevelInfo))
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime_minutes", 60)
	v.SetDefault("clickhouse.database", "usagemeter")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", 5*time.Second)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.type", "inmemory")
	v.SetDefault("kafka.consumer_group", "usagemeter-cache-invalidation")
	v.SetDefault("kafka.topic", "events")
	v.SetDefault("kafka.client_id", "usagemeter")
	v.SetDefault("kafka.rate_limit", 0)
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "usage-aggregation")
	v.SetDefault("pyroscope.application_name", "usagemeter")
	v.SetDefault("metering.backend", string(types.MeteringBackendRowScan))
	v.SetDefault("metering.row_store", string(types.RowStorePostgres))
	v.SetDefault("metering.max_concurrency", 8)
	v.SetDefault("metering.store_rate_limit", 0)
	v.SetDefault("metering.partial_cache_ttl", 5*time.Minute)
}
