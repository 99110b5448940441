package lesson

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// acquireScript takes or renews the lease when it is free or already ours.
var acquireScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if (not current) or current == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
return 0
`)

// Leases pins each viewer's playback to one device at a time. A lease lapses
// when its device stops sending heartbeats for the lease TTL.
type Leases struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewLeases(rdb redis.UniversalClient, ttl time.Duration) *Leases {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Leases{rdb: rdb, ttl: ttl}
}

func leaseKey(userID string) string {
	return "lease:playback:" + userID
}

func (l *Leases) Acquire(ctx context.Context, userID, deviceID string) (bool, error) {
	n, err := acquireScript.Run(ctx, l.rdb, []string{leaseKey(userID)}, deviceID, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire device lease: %w", err)
	}
	return n == 1, nil
}
