package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("SPATIALREC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SPATIALREC_TEST_REDIS_ADDR not set")
	}

	s, err := NewRedisStore(context.Background(), RedisOptions{
		Addr:      addr,
		KeyPrefix: "spatialrec-test-" + uuid.NewString(),
	})
	require.NoError(t, err)
	defer s.Close()
	defer s.Clear(context.Background())

	runStoreTests(t, s)
}

func TestRedisStore_Unreachable(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisOptions{Addr: "127.0.0.1:1"})
	require.Error(t, err)
}
