package chat

import (
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHomeChannel(t *testing.T) {
	assert.Equal(t, "home:h1:frames", homeChannel("h1"))
}

// Two hubs sharing one redis behave like two server instances.
func TestRedisHub_FansOutAcrossInstances(t *testing.T) {
	addr := os.Getenv("PANTRY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PANTRY_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(t.Context()).Err())

	log := zap.NewNop()
	localA, localB := NewHub(log, nil), NewHub(log, nil)
	hubA, hubB := NewRedisHub(localA, rdb, log), NewRedisHub(localB, rdb, log)

	go hubA.Run(t.Context())
	go hubB.Run(t.Context())
	time.Sleep(200 * time.Millisecond)

	alice := NewClient(nil, "alice", "alice", "h1", 0)
	bob := NewClient(nil, "bob", "bob", "h1", 0)
	localA.Register(alice)
	localB.Register(bob)

	require.NoError(t, hubA.Broadcast(t.Context(), "h1", pongFrame(), alice.ID))

	assert.Eventually(t, func() bool { return len(bob.send) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, drain(alice))
}
