// Config loader with hot-reload and validation capabilities
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LoadConfig merges the given files (missing ones are skipped) over the
// defaults, applies FLOWLIMIT_* environment overrides and validates the result.
func (cm *ConfigManager) LoadConfig(configPaths ...string) error {
	cm.logger.Info("Loading configuration", zap.Strings("paths", configPaths))

	v := viper.New()
	setupViper(v)
	loaded, err := cm.loadConfigFiles(v, configPaths...)
	if err != nil {
		return fmt.Errorf("failed to load config files: %w", err)
	}

	cfg, err := cm.decode(v)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	cm.viper = v
	cm.config = cfg
	cm.watchPaths = loaded
	cm.lastReload = time.Now()
	cm.mu.Unlock()

	cm.logger.Info("Configuration loaded",
		zap.Bool("enabled", cfg.Enabled),
		zap.String("data_source", cfg.Counter.DataSource),
		zap.Float64("rate_per_second", cfg.TokenBucket.RatePerSecond),
		zap.Time("loaded_at", cm.lastReload))
	return nil
}

func setupViper(v *viper.Viper) {
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
}

// setDefaults registers every key so that environment overrides are picked
// up by Unmarshal even when no file mentions the key.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("enabled", d.Enabled)

	v.SetDefault("counter.enabled", d.Counter.Enabled)
	v.SetDefault("counter.data_source", d.Counter.DataSource)
	v.SetDefault("counter.prefix_key", d.Counter.PrefixKey)
	v.SetDefault("counter.counter_keys", d.Counter.CounterKeys)
	v.SetDefault("counter.window_durations", d.Counter.WindowDurations)
	v.SetDefault("counter.window_caps", d.Counter.WindowCaps)
	v.SetDefault("counter.window_time_unit", d.Counter.WindowTimeUnit)
	v.SetDefault("counter.per_principal", d.Counter.PerPrincipal)
	v.SetDefault("counter.local_max_entries", d.Counter.LocalMaxEntries)
	v.SetDefault("counter.redis_timeout", d.Counter.RedisTimeout)

	v.SetDefault("token_bucket.enabled", d.TokenBucket.Enabled)
	v.SetDefault("token_bucket.rate_per_second", d.TokenBucket.RatePerSecond)
	v.SetDefault("token_bucket.warmup", d.TokenBucket.Warmup)
	v.SetDefault("token_bucket.acquire_timeout", d.TokenBucket.AcquireTimeout)
	v.SetDefault("token_bucket.cost_per_request", d.TokenBucket.CostPerRequest)

	v.SetDefault("failover.recovery_interval", d.Failover.RecoveryInterval)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.pool_size", d.Redis.PoolSize)
	v.SetDefault("redis.min_idle_conns", d.Redis.MinIdleConns)
	v.SetDefault("redis.conn_max_lifetime", d.Redis.ConnMaxLifetime)
	v.SetDefault("redis.conn_max_idle_time", d.Redis.ConnMaxIdleTime)
	v.SetDefault("redis.pool_timeout", d.Redis.PoolTimeout)
	v.SetDefault("redis.max_retries", d.Redis.MaxRetries)
	v.SetDefault("redis.min_retry_backoff", d.Redis.MinRetryBackoff)
	v.SetDefault("redis.max_retry_backoff", d.Redis.MaxRetryBackoff)
	v.SetDefault("redis.dial_timeout", d.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", d.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", d.Redis.WriteTimeout)
	v.SetDefault("redis.enable_cluster", d.Redis.EnableCluster)
	v.SetDefault("redis.cluster_addrs", d.Redis.ClusterAddrs)
	v.SetDefault("redis.enable_sentinel", d.Redis.EnableSentinel)
	v.SetDefault("redis.sentinel_addrs", d.Redis.SentinelAddrs)
	v.SetDefault("redis.sentinel_password", d.Redis.SentinelPassword)
	v.SetDefault("redis.master_name", d.Redis.MasterName)

	v.SetDefault("sql.driver", d.SQL.Driver)
	v.SetDefault("sql.dsn", d.SQL.DSN)
	v.SetDefault("sql.purge_interval", d.SQL.PurgeInterval)

	v.SetDefault("server.http_addr", d.Server.HTTPAddr)
	v.SetDefault("server.grpc_addr", d.Server.GRPCAddr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("admin.jwt_secret", d.Admin.JWTSecret)

	v.SetDefault("logging.level", d.Logging.Level)

	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

func (cm *ConfigManager) loadConfigFiles(v *viper.Viper, configPaths ...string) ([]string, error) {
	var loaded []string
	for _, path := range configPaths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cm.logger.Debug("Config file not found, skipping", zap.String("path", path))
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		loaded = append(loaded, path)
	}

	if len(loaded) == 0 {
		cm.logger.Warn("No configuration files found, using defaults and environment variables")
	} else {
		cm.logger.Info("Loaded configuration files", zap.Strings("files", loaded))
	}
	return loaded, nil
}

func (cm *ConfigManager) decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cm.validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (cm *ConfigManager) validateConfig(cfg *Config) error {
	if err := cm.validator.Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if cfg.Counter.DataSource == "sql" && cfg.SQL.Driver == "postgres" && cfg.SQL.DSN == "" {
		return fmt.Errorf("sql data source with postgres driver needs a dsn")
	}
	return nil
}

// Watch starts reloading the configuration when one of the loaded files
// changes. Rapid successive writes are coalesced.
func (cm *ConfigManager) Watch() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if len(cm.watchPaths) == 0 {
		cm.logger.Info("No config files to watch, hot-reload disabled")
		return nil
	}
	if cm.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	for _, path := range cm.watchPaths {
		if err := watcher.Add(path); err != nil {
			cm.logger.Warn("Failed to watch config file", zap.String("path", path), zap.Error(err))
		}
	}
	cm.watcher = watcher
	go cm.watchForChanges(watcher)

	cm.logger.Info("File watcher started for hot-reload", zap.Strings("paths", cm.watchPaths))
	return nil
}

func (cm *ConfigManager) watchForChanges(watcher *fsnotify.Watcher) {
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}

	for {
		select {
		case <-cm.ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				cm.logger.Debug("Config file changed",
					zap.String("file", event.Name),
					zap.String("operation", event.Op.String()))
				debounceTimer.Reset(cm.debounce)
			}
			// Editors that replace the file drop it from the watch list.
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				_ = watcher.Add(event.Name)
				debounceTimer.Reset(cm.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			cm.logger.Error("File watcher error", zap.Error(err))

		case <-debounceTimer.C:
			if err := cm.Reload(); err != nil {
				cm.logger.Error("Failed to reload configuration", zap.Error(err))
			}
		}
	}
}

// Reload rereads the files from the last load. The current configuration is
// kept if anything fails.
func (cm *ConfigManager) Reload() error {
	cm.mu.RLock()
	oldConfig := cm.config
	paths := append([]string(nil), cm.watchPaths...)
	callbacks := append([]ReloadCallback(nil), cm.reloadCallbacks...)
	cm.mu.RUnlock()

	v := viper.New()
	setupViper(v)
	if _, err := cm.loadConfigFiles(v, paths...); err != nil {
		return fmt.Errorf("failed to reload config files: %w", err)
	}
	newConfig, err := cm.decode(v)
	if err != nil {
		return err
	}

	for _, callback := range callbacks {
		if err := callback(oldConfig, newConfig); err != nil {
			return fmt.Errorf("reload callback failed: %w", err)
		}
	}

	cm.mu.Lock()
	cm.viper = v
	cm.config = newConfig
	cm.lastReload = time.Now()
	cm.mu.Unlock()

	cm.logger.Info("Configuration reloaded", zap.Time("reloaded_at", cm.lastReload))
	return nil
}

// Dump renders cfg as YAML with credentials blanked.
func Dump(cfg *Config) ([]byte, error) {
	c := *cfg
	if c.Redis.Password != "" {
		c.Redis.Password = "****"
	}
	if c.Redis.SentinelPassword != "" {
		c.Redis.SentinelPassword = "****"
	}
	if c.SQL.DSN != "" {
		c.SQL.DSN = "****"
	}
	if c.Admin.JWTSecret != "" {
		c.Admin.JWTSecret = "****"
	}
	return yaml.Marshal(&c)
}
