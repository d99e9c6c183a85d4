package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewClient_Connects(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()

	c, err := NewClient(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Health(ctx))
	require.NoError(t, c.GetClient().Set(ctx, "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	assert.NotNil(t, c.GetStats())
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	mr.Close()

	_, err := NewClient(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestOpen_KeepsClientWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.MaxRetries = -1
	mr.Close()

	c, err := Open(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	require.NotNil(t, c)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, mr.Restart())
	assert.NoError(t, c.Health(context.Background()))
}

func TestNewUniversalClient_Modes(t *testing.T) {
	cfg := DefaultConfig()
	single := NewUniversalClient(cfg)
	t.Cleanup(func() { _ = single.Close() })
	_, ok := single.(*goredis.Client)
	assert.True(t, ok)

	cfg = DefaultConfig()
	cfg.EnableCluster = true
	cfg.ClusterAddrs = []string{"127.0.0.1:7000", "127.0.0.1:7001"}
	cluster := NewUniversalClient(cfg)
	t.Cleanup(func() { _ = cluster.Close() })
	_, ok = cluster.(*goredis.ClusterClient)
	assert.True(t, ok)
}
