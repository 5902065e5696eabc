package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformbuilds/inference-core/pkg/logger"
)

func newMockedRedis(t *testing.T) (*redisKV, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	return newRedisWithClient(db, time.Minute, logger.NewNop()), mock
}

func TestRedis_GetHit(t *testing.T) {
	kv, mock := newMockedRedis(t)
	mock.ExpectGet("features:txn:e1").SetVal(`{"v":1}`)

	b, err := kv.Get(context.Background(), "features:txn:e1")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_GetMiss(t *testing.T) {
	kv, mock := newMockedRedis(t)
	mock.ExpectGet("absent").RedisNil()

	_, err := kv.Get(context.Background(), "absent")
	assert.True(t, errors.Is(err, ErrCacheMiss))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_SetUsesDefaultTTL(t *testing.T) {
	kv, mock := newMockedRedis(t)
	mock.ExpectSet("k", []byte("v"), time.Minute).SetVal("OK")

	err := kv.Set(context.Background(), "k", "v", 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_SetExplicitTTL(t *testing.T) {
	kv, mock := newMockedRedis(t)
	mock.ExpectSet("k", []byte(`{"a":1}`), 5*time.Second).SetVal("OK")

	err := kv.Set(context.Background(), "k", map[string]int{"a": 1}, 5*time.Second)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_MGetMixed(t *testing.T) {
	kv, mock := newMockedRedis(t)
	mock.ExpectMGet("a", "b", "c").SetVal([]interface{}{"1", nil, "3"})

	out, err := kv.MGet(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []byte("1"), out[0])
	assert.Nil(t, out[1])
	assert.Equal(t, []byte("3"), out[2])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_MGetEmptyKeys(t *testing.T) {
	kv, _ := newMockedRedis(t)

	out, err := kv.MGet(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRedis_Delete(t *testing.T) {
	kv, mock := newMockedRedis(t)
	mock.ExpectDel("k").SetVal(1)

	assert.NoError(t, kv.Delete(context.Background(), "k"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_HealthCheck(t *testing.T) {
	kv, mock := newMockedRedis(t)
	mock.ExpectPing().SetVal("PONG")

	assert.NoError(t, kv.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
