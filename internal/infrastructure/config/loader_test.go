package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"
)

const sampleConfig = `
enabled: true
counter:
  data_source: local
  prefix_key: "api:"
  counter_keys: [login]
  window_durations: [1, 60]
  window_caps: [5, 100]
  window_time_unit: s
  per_principal: true
token_bucket:
  rate_per_second: 250
  warmup: 2s
redis:
  addr: redis:6379
  password: hunter2
sql:
  dsn: postgres://flow:secret@db/flow
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowlimit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newManager(t *testing.T) *ConfigManager {
	t.Helper()
	cm := NewConfigManager(zaptest.NewLogger(t))
	t.Cleanup(func() { _ = cm.Close() })
	return cm
}

func TestLoadConfig_Defaults(t *testing.T) {
	cm := newManager(t)
	require.NoError(t, cm.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")))

	cfg := cm.GetConfig()
	d := Default()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, d.Counter.DataSource, cfg.Counter.DataSource)
	assert.Equal(t, d.TokenBucket.RatePerSecond, cfg.TokenBucket.RatePerSecond)
	assert.Equal(t, time.Hour, cfg.Failover.RecoveryInterval)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cm.GetLastReloadTime().IsZero())
}

func TestLoadConfig_File(t *testing.T) {
	cm := newManager(t)
	require.NoError(t, cm.LoadConfig(writeConfig(t, sampleConfig)))

	cfg := cm.GetConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "local", cfg.Counter.DataSource)
	assert.Equal(t, []string{"login"}, cfg.Counter.CounterKeys)
	assert.Equal(t, []int64{1, 60}, cfg.Counter.WindowDurations)
	assert.Equal(t, []int32{5, 100}, cfg.Counter.WindowCaps)
	assert.True(t, cfg.Counter.PerPrincipal)
	assert.Equal(t, float64(250), cfg.TokenBucket.RatePerSecond)
	assert.Equal(t, 2*time.Second, cfg.TokenBucket.Warmup)
	// untouched keys keep their defaults
	assert.Equal(t, time.Second, cfg.TokenBucket.AcquireTimeout)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("FLOWLIMIT_TOKEN_BUCKET_RATE_PER_SECOND", "42")
	t.Setenv("FLOWLIMIT_COUNTER_DATA_SOURCE", "sql")
	t.Setenv("FLOWLIMIT_FAILOVER_RECOVERY_INTERVAL", "5m")

	cm := newManager(t)
	require.NoError(t, cm.LoadConfig(writeConfig(t, sampleConfig)))

	cfg := cm.GetConfig()
	assert.Equal(t, float64(42), cfg.TokenBucket.RatePerSecond)
	assert.Equal(t, "sql", cfg.Counter.DataSource)
	assert.Equal(t, 5*time.Minute, cfg.Failover.RecoveryInterval)
}

func TestLoadConfig_ValidationError(t *testing.T) {
	cm := newManager(t)
	err := cm.LoadConfig(writeConfig(t, "counter:\n  data_source: cassandra\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Nil(t, cm.GetConfig())

	err = newManager(t).LoadConfig(writeConfig(t, "counter:\n  data_source: sql\nsql:\n  driver: postgres\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn")
}

func TestReload_CallbacksAndSwap(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cm := newManager(t)
	require.NoError(t, cm.LoadConfig(path))

	var seenOld, seenNew float64
	cm.AddReloadCallback(func(o, n *Config) error {
		seenOld, seenNew = o.TokenBucket.RatePerSecond, n.TokenBucket.RatePerSecond
		return nil
	})

	require.NoError(t, os.WriteFile(path, []byte(sampleConfig+"\nlogging:\n  level: debug\n"), 0o600))
	require.NoError(t, cm.Reload())
	assert.Equal(t, float64(250), seenOld)
	assert.Equal(t, float64(250), seenNew)
	assert.Equal(t, "debug", cm.GetConfig().Logging.Level)
}

func TestReload_InvalidFileKeepsCurrent(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cm := newManager(t)
	require.NoError(t, cm.LoadConfig(path))

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o600))
	assert.Error(t, cm.Reload())
	assert.Equal(t, "info", cm.GetConfig().Logging.Level)
	assert.True(t, cm.GetConfig().Enabled)
}

func TestReload_CallbackErrorAborts(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cm := newManager(t)
	require.NoError(t, cm.LoadConfig(path))
	cm.AddReloadCallback(func(_, _ *Config) error { return assert.AnError })

	require.NoError(t, os.WriteFile(path, []byte("enabled: false\n"), 0o600))
	assert.ErrorIs(t, cm.Reload(), assert.AnError)
	assert.True(t, cm.GetConfig().Enabled)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cm := newManager(t)
	cm.debounce = 20 * time.Millisecond
	require.NoError(t, cm.LoadConfig(path))
	require.NoError(t, cm.Watch())

	require.NoError(t, os.WriteFile(path, []byte(sampleConfig+"\nlogging:\n  level: warn\n"), 0o600))
	require.Eventually(t, func() bool {
		return cm.GetConfig().Logging.Level == "warn"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDump_RedactsCredentials(t *testing.T) {
	cm := newManager(t)
	require.NoError(t, cm.LoadConfig(writeConfig(t, sampleConfig)))

	out, err := Dump(cm.GetConfig())
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.NotContains(t, string(out), "secret@db")

	var tree map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &tree))
	assert.Equal(t, "****", tree["redis"].(map[string]interface{})["password"])
	assert.Equal(t, "hunter2", cm.GetConfig().Redis.Password, "dump must not modify the source")
}

func TestCompareConfigs(t *testing.T) {
	a := Default()
	b := Default()
	b.TokenBucket.RatePerSecond = 10
	b.Counter.WindowCaps = []int32{3}
	b.Redis.Password = "changed"

	diffs, err := CompareConfigs(a, b)
	require.NoError(t, err)

	paths := make([]string, 0, len(diffs))
	for _, d := range diffs {
		paths = append(paths, d.Path)
	}
	assert.Contains(t, paths, "token_bucket.rate_per_second")
	assert.Contains(t, paths, "counter.window_caps")
	assert.Contains(t, paths, "redis.password")

	diffs, err = CompareConfigs(a, Default())
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestConfigBuilder(t *testing.T) {
	called := false
	cm, err := NewConfigBuilder(zaptest.NewLogger(t)).
		WithConfigPaths(writeConfig(t, sampleConfig)).
		WithReloadCallback(func(_, _ *Config) error { called = true; return nil }).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = cm.Close() })

	require.NoError(t, cm.Reload())
	assert.True(t, called)
}

func TestHealth(t *testing.T) {
	cm := newManager(t)
	assert.False(t, cm.Health().Healthy)

	require.NoError(t, cm.LoadConfig(writeConfig(t, sampleConfig)))
	h := cm.Health()
	assert.True(t, h.Healthy)
	assert.Len(t, h.Issues, 1, "local data source is reported")

	require.NoError(t, cm.LoadConfig(writeConfig(t, "enabled: true\n")))
	assert.False(t, cm.Health().Healthy)
}

func TestValidateConfigFile(t *testing.T) {
	logger := zaptest.NewLogger(t)
	assert.NoError(t, ValidateConfigFile(writeConfig(t, sampleConfig), logger))
	assert.Error(t, ValidateConfigFile(filepath.Join(t.TempDir(), "nope.yaml"), logger))
	assert.Error(t, ValidateConfigFile(writeConfig(t, "server:\n  http_addr: \"\"\n"), logger))
}
