package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis connection settings for the shared counter store.
type Config struct {
	Addr     string `mapstructure:"addr" yaml:"addr" json:"addr"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	DB       int    `mapstructure:"db" yaml:"db" json:"db"`

	// Pool settings
	PoolSize        int           `mapstructure:"pool_size" yaml:"pool_size" json:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns" yaml:"min_idle_conns" json:"min_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout" yaml:"pool_timeout" json:"pool_timeout"`

	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff" yaml:"min_retry_backoff" json:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff" yaml:"max_retry_backoff" json:"max_retry_backoff"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`

	EnableCluster bool     `mapstructure:"enable_cluster" yaml:"enable_cluster" json:"enable_cluster"`
	ClusterAddrs  []string `mapstructure:"cluster_addrs" yaml:"cluster_addrs" json:"cluster_addrs"`

	EnableSentinel   bool     `mapstructure:"enable_sentinel" yaml:"enable_sentinel" json:"enable_sentinel"`
	SentinelAddrs    []string `mapstructure:"sentinel_addrs" yaml:"sentinel_addrs" json:"sentinel_addrs"`
	SentinelPassword string   `mapstructure:"sentinel_password" yaml:"sentinel_password" json:"-"`
	MasterName       string   `mapstructure:"master_name" yaml:"master_name" json:"master_name"`
}

// DefaultConfig returns settings tuned for short counter scripts: small
// timeouts and few retries, since a slow Redis is treated as a failed one.
func DefaultConfig() *Config {
	return &Config{
		Addr: "localhost:6379",
		DB:   0,

		PoolSize:        50,
		MinIdleConns:    5,
		ConnMaxLifetime: 24 * time.Hour,
		ConnMaxIdleTime: 5 * time.Minute,
		PoolTimeout:     time.Second,

		MaxRetries:      1,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 128 * time.Millisecond,

		DialTimeout:  2 * time.Second,
		ReadTimeout:  200 * time.Millisecond,
		WriteTimeout: 200 * time.Millisecond,
	}
}

// NewUniversalClient builds a single node, cluster or sentinel client from
// config without touching the network.
func NewUniversalClient(config *Config) redis.UniversalClient {
	switch {
	case config.EnableCluster:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           config.ClusterAddrs,
			Password:        config.Password,
			PoolSize:        config.PoolSize,
			MinIdleConns:    config.MinIdleConns,
			ConnMaxLifetime: config.ConnMaxLifetime,
			ConnMaxIdleTime: config.ConnMaxIdleTime,
			PoolTimeout:     config.PoolTimeout,
			MaxRetries:      config.MaxRetries,
			MinRetryBackoff: config.MinRetryBackoff,
			MaxRetryBackoff: config.MaxRetryBackoff,
			DialTimeout:     config.DialTimeout,
			ReadTimeout:     config.ReadTimeout,
			WriteTimeout:    config.WriteTimeout,
		})
	case config.EnableSentinel:
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       config.MasterName,
			SentinelAddrs:    config.SentinelAddrs,
			SentinelPassword: config.SentinelPassword,
			Password:         config.Password,
			DB:               config.DB,
			PoolSize:         config.PoolSize,
			MinIdleConns:     config.MinIdleConns,
			ConnMaxLifetime:  config.ConnMaxLifetime,
			ConnMaxIdleTime:  config.ConnMaxIdleTime,
			PoolTimeout:      config.PoolTimeout,
			MaxRetries:       config.MaxRetries,
			MinRetryBackoff:  config.MinRetryBackoff,
			MaxRetryBackoff:  config.MaxRetryBackoff,
			DialTimeout:      config.DialTimeout,
			ReadTimeout:      config.ReadTimeout,
			WriteTimeout:     config.WriteTimeout,
		})
	default:
		return redis.NewClient(&redis.Options{
			Addr:            config.Addr,
			Password:        config.Password,
			DB:              config.DB,
			PoolSize:        config.PoolSize,
			MinIdleConns:    config.MinIdleConns,
			ConnMaxLifetime: config.ConnMaxLifetime,
			ConnMaxIdleTime: config.ConnMaxIdleTime,
			PoolTimeout:     config.PoolTimeout,
			MaxRetries:      config.MaxRetries,
			MinRetryBackoff: config.MinRetryBackoff,
			MaxRetryBackoff: config.MaxRetryBackoff,
			DialTimeout:     config.DialTimeout,
			ReadTimeout:     config.ReadTimeout,
			WriteTimeout:    config.WriteTimeout,
		})
	}
}

// Client wraps a Redis client with health checks.
type Client struct {
	rdb    redis.UniversalClient
	config *Config
	logger *zap.Logger
}

// NewClient connects and pings. An unreachable Redis is an error here; use
// Open to keep the client regardless.
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	c, err := Open(config, logger)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return c, nil
}

// Open builds a client without requiring Redis to be up. A failed ping is
// logged and returned alongside the client so the counter store can degrade
// and recover on its own schedule.
func Open(config *Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{rdb: NewUniversalClient(config), config: config, logger: logger}

	timeout := config.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.Health(ctx); err != nil {
		logger.Warn("Redis unreachable at startup",
			zap.String("addr", config.Addr),
			zap.Error(err))
		return c, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("Redis client connected", zap.String("addr", config.Addr), zap.Int("db", config.DB))
	return c, nil
}

// GetClient returns the underlying Redis client.
func (c *Client) GetClient() redis.UniversalClient {
	return c.rdb
}

func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// Health pings Redis.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetStats returns connection pool statistics.
func (c *Client) GetStats() *redis.PoolStats {
	return c.rdb.PoolStats()
}
