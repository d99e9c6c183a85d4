package config

import (
	"math"
	"time"

	redisclient "github.com/Aidin1998/flowlimit/internal/redis"
)

// Config is the complete service configuration.
type Config struct {
	// Enabled switches limiting on; when false every request passes.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	Counter     CounterConfig      `mapstructure:"counter" yaml:"counter" json:"counter"`
	TokenBucket TokenBucketConfig  `mapstructure:"token_bucket" yaml:"token_bucket" json:"token_bucket"`
	Failover    FailoverConfig     `mapstructure:"failover" yaml:"failover" json:"failover"`
	Redis       redisclient.Config `mapstructure:"redis" yaml:"redis" json:"redis"`
	SQL         SQLConfig          `mapstructure:"sql" yaml:"sql" json:"sql"`
	Server      ServerConfig       `mapstructure:"server" yaml:"server" json:"server" validate:"required"`
	Admin       AdminConfig        `mapstructure:"admin" yaml:"admin" json:"admin"`
	Logging     LoggingConfig      `mapstructure:"logging" yaml:"logging" json:"logging"`
	Tracing     TracingConfig      `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
}

// CounterConfig configures the multi-window counter limiter. Window list
// consistency is checked when the limiter is built, not here, so that a bad
// window list disables only that limiter.
type CounterConfig struct {
	Enabled         bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DataSource      string   `mapstructure:"data_source" yaml:"data_source" json:"data_source" validate:"oneof=redis local sql"`
	PrefixKey       string   `mapstructure:"prefix_key" yaml:"prefix_key" json:"prefix_key"`
	CounterKeys     []string `mapstructure:"counter_keys" yaml:"counter_keys" json:"counter_keys"`
	WindowDurations []int64  `mapstructure:"window_durations" yaml:"window_durations" json:"window_durations"`
	WindowCaps      []int32  `mapstructure:"window_caps" yaml:"window_caps" json:"window_caps"`
	WindowTimeUnit  string   `mapstructure:"window_time_unit" yaml:"window_time_unit" json:"window_time_unit" validate:"oneof=ms s m h d milliseconds seconds minutes hours days"`
	PerPrincipal    bool     `mapstructure:"per_principal" yaml:"per_principal" json:"per_principal"`
	// LocalMaxEntries bounds each in-process window map; 0 is unbounded.
	LocalMaxEntries int `mapstructure:"local_max_entries" yaml:"local_max_entries" json:"local_max_entries" validate:"min=0"`
	// RedisTimeout bounds each Redis round trip made by the counter store.
	RedisTimeout time.Duration `mapstructure:"redis_timeout" yaml:"redis_timeout" json:"redis_timeout" validate:"min=0"`
}

// TokenBucketConfig configures the global token bucket.
type TokenBucketConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RatePerSecond  float64       `mapstructure:"rate_per_second" yaml:"rate_per_second" json:"rate_per_second"`
	Warmup         time.Duration `mapstructure:"warmup" yaml:"warmup" json:"warmup"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout" json:"acquire_timeout"`
	CostPerRequest int32         `mapstructure:"cost_per_request" yaml:"cost_per_request" json:"cost_per_request"`
}

type FailoverConfig struct {
	RecoveryInterval time.Duration `mapstructure:"recovery_interval" yaml:"recovery_interval" json:"recovery_interval" validate:"gt=0"`
}

type SQLConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver" validate:"omitempty,oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" yaml:"dsn" json:"-"`
	// PurgeInterval is how often expired counter rows are deleted; 0 disables it.
	PurgeInterval time.Duration `mapstructure:"purge_interval" yaml:"purge_interval" json:"purge_interval" validate:"min=0"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr" yaml:"http_addr" json:"http_addr" validate:"required"`
	GRPCAddr        string        `mapstructure:"grpc_addr" yaml:"grpc_addr" json:"grpc_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// AdminConfig guards the admin endpoints. An empty secret leaves them open.
type AdminConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret" json:"-"`
}

// TracingConfig selects where engine and request spans are exported.
type TracingConfig struct {
	Exporter    string `mapstructure:"exporter" yaml:"exporter" json:"exporter" validate:"oneof=none stdout"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used when nothing else is set. Limiting
// is off until explicitly enabled.
func Default() *Config {
	return &Config{
		Enabled: false,
		Counter: CounterConfig{
			Enabled:        true,
			DataSource:     "redis",
			PrefixKey:      "flowlimit:",
			WindowTimeUnit: "s",
			RedisTimeout:   200 * time.Millisecond,
		},
		TokenBucket: TokenBucketConfig{
			Enabled:        true,
			RatePerSecond:  math.MaxInt32,
			Warmup:         3 * time.Second,
			AcquireTimeout: time.Second,
			CostPerRequest: 1,
		},
		Failover: FailoverConfig{RecoveryInterval: time.Hour},
		Redis:    *redisclient.DefaultConfig(),
		SQL:      SQLConfig{Driver: "sqlite", PurgeInterval: 10 * time.Minute},
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":9090",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Tracing: TracingConfig{Exporter: "none", ServiceName: "flowlimit"},
	}
}
