package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"coinledger/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := &config.RedisConfig{Host: mr.Host(), Port: port, PoolSize: 4, DialTimeout: time.Second}
	client, err := InitRedis(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.Equal(t, 4, client.Options().PoolSize)
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	assert.Equal(t, "v", mustGet(t, mr, "k"))

	addr := mr.Addr()
	mr.Close()
	_, err = InitRedis(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}
