package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/acme/dial-engine/internal/domain"
)

// TrunkThrottle bounds originations per trunk using Redis counters:
// a one-second CPS window and a concurrent-channel gauge. Both checks
// and both increments happen inside a single Lua script so concurrent
// executors can never oversubscribe the trunk.
type TrunkThrottle struct {
	client     *redis.Client
	channelTTL time.Duration
}

// New constructs a trunk throttle. channelTTL bounds how long a channel
// hold survives if its owner crashes without releasing.
func New(client *redis.Client, channelTTL time.Duration) *TrunkThrottle {
	if channelTTL <= 0 {
		channelTTL = time.Hour
	}
	return &TrunkThrottle{client: client, channelTTL: channelTTL}
}

var acquireScript = redis.NewScript(`
local cpsKey = KEYS[1]
local chanKey = KEYS[2]
local maxCps = tonumber(ARGV[1])
local maxChannels = tonumber(ARGV[2])
local chanTTL = tonumber(ARGV[3])
local cps = tonumber(redis.call('GET', cpsKey) or '0')
if cps >= maxCps then
  return 0
end
local channels = tonumber(redis.call('GET', chanKey) or '0')
if channels >= maxChannels then
  return 0
end
cps = redis.call('INCR', cpsKey)
if cps == 1 then
  redis.call('PEXPIRE', cpsKey, 1000)
end
redis.call('INCR', chanKey)
if chanTTL > 0 then
  redis.call('PEXPIRE', chanKey, chanTTL)
end
return 1
`)

var releaseScript = redis.NewScript(`
local chanKey = KEYS[1]
local channels = tonumber(redis.call('GET', chanKey) or '0')
if channels <= 0 then
  redis.call('DEL', chanKey)
  return 0
end
return redis.call('DECR', chanKey)
`)

// Acquire attempts to consume one origination token for the trunk.
// A false result means the trunk is at its CPS or channel ceiling.
func (t *TrunkThrottle) Acquire(ctx context.Context, trunk *domain.Trunk) (bool, error) {
	if trunk.MaxCPS <= 0 || trunk.MaxChannels <= 0 {
		return false, nil
	}

	keys := []string{t.cpsKey(trunk.ID), t.channelKey(trunk.ID)}
	res, err := acquireScript.Run(ctx, t.client, keys,
		trunk.MaxCPS, trunk.MaxChannels, t.channelTTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("throttle acquire: %w", err)
	}
	return res == 1, nil
}

// Release frees one channel hold for the trunk. The CPS window is left
// alone; it expires on its own.
func (t *TrunkThrottle) Release(ctx context.Context, trunkID uuid.UUID) error {
	if _, err := releaseScript.Run(ctx, t.client, []string{t.channelKey(trunkID)}).Int(); err != nil {
		return fmt.Errorf("throttle release: %w", err)
	}
	return nil
}

// ActiveChannels reports the current channel occupancy for a trunk.
func (t *TrunkThrottle) ActiveChannels(ctx context.Context, trunkID uuid.UUID) (int, error) {
	n, err := t.client.Get(ctx, t.channelKey(trunkID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("throttle active channels: %w", err)
	}
	return n, nil
}

func (t *TrunkThrottle) cpsKey(trunkID uuid.UUID) string {
	return fmt.Sprintf("dialer:trunk:%s:cps", trunkID.String())
}

func (t *TrunkThrottle) channelKey(trunkID uuid.UUID) string {
	return fmt.Sprintf("dialer:trunk:%s:channels", trunkID.String())
}
