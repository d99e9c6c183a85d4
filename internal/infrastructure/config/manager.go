// Package config loads the service configuration and reloads it when the
// backing file changes.
package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix is prepended to every environment variable override,
// e.g. FLOWLIMIT_TOKEN_BUCKET_RATE_PER_SECOND.
const EnvPrefix = "FLOWLIMIT"

// ReloadCallback is called with the previous and the new configuration after
// a successful reload. An error aborts the reload.
type ReloadCallback func(oldConfig, newConfig *Config) error

// ConfigManager owns the current configuration.
type ConfigManager struct {
	mu        sync.RWMutex
	config    *Config
	viper     *viper.Viper
	validator *validator.Validate
	logger    *zap.Logger

	watcher         *fsnotify.Watcher
	watchPaths      []string
	reloadCallbacks []ReloadCallback
	debounce        time.Duration
	ctx             context.Context
	cancel          context.CancelFunc

	lastReload time.Time
}

func NewConfigManager(logger *zap.Logger) *ConfigManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConfigManager{
		viper:     viper.New(),
		validator: validator.New(),
		logger:    logger.Named("config"),
		debounce:  500 * time.Millisecond,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// AddReloadCallback registers fn for future reloads.
func (cm *ConfigManager) AddReloadCallback(fn ReloadCallback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.reloadCallbacks = append(cm.reloadCallbacks, fn)
}

// GetConfig returns the current configuration. Callers must not modify it.
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

func (cm *ConfigManager) GetLastReloadTime() time.Time {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.lastReload
}

// Close stops the file watcher.
func (cm *ConfigManager) Close() error {
	cm.cancel()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.watcher != nil {
		if err := cm.watcher.Close(); err != nil {
			return fmt.Errorf("failed to close file watcher: %w", err)
		}
		cm.watcher = nil
	}
	return nil
}
