package throttle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/acme/dial-engine/internal/domain"
)

func newTestThrottle(t *testing.T) (*TrunkThrottle, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Minute), mr
}

func TestAcquireRespectsChannelCeiling(t *testing.T) {
	throttle, _ := newTestThrottle(t)
	ctx := context.Background()

	trunk := &domain.Trunk{ID: uuid.New(), MaxCPS: 100, MaxChannels: 3}

	for i := 0; i < 3; i++ {
		ok, err := throttle.Acquire(ctx, trunk)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("acquire %d: expected token below the ceiling", i)
		}
	}

	ok, err := throttle.Acquire(ctx, trunk)
	if err != nil {
		t.Fatalf("acquire over ceiling: %v", err)
	}
	if ok {
		t.Fatal("acquired a fourth channel with max_channels=3")
	}

	if err := throttle.Release(ctx, trunk.ID); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err = throttle.Acquire(ctx, trunk)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if !ok {
		t.Fatal("expected a token after releasing a channel")
	}
}

func TestAcquireRespectsCPSWindow(t *testing.T) {
	throttle, mr := newTestThrottle(t)
	ctx := context.Background()

	trunk := &domain.Trunk{ID: uuid.New(), MaxCPS: 2, MaxChannels: 100}

	for i := 0; i < 2; i++ {
		ok, err := throttle.Acquire(ctx, trunk)
		if err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i, ok, err)
		}
	}

	ok, err := throttle.Acquire(ctx, trunk)
	if err != nil {
		t.Fatalf("acquire over cps: %v", err)
	}
	if ok {
		t.Fatal("exceeded max_cps within the one second window")
	}

	// The CPS window expires after a second; channel holds remain.
	mr.FastForward(1100 * time.Millisecond)

	ok, err = throttle.Acquire(ctx, trunk)
	if err != nil {
		t.Fatalf("acquire after window: %v", err)
	}
	if !ok {
		t.Fatal("expected a token after the cps window expired")
	}

	n, err := throttle.ActiveChannels(ctx, trunk.ID)
	if err != nil {
		t.Fatalf("active channels: %v", err)
	}
	if n != 3 {
		t.Fatalf("active channels = %d, want 3", n)
	}
}

func TestConcurrentAcquireNeverOversubscribes(t *testing.T) {
	throttle, _ := newTestThrottle(t)
	ctx := context.Background()

	trunk := &domain.Trunk{ID: uuid.New(), MaxCPS: 1000, MaxChannels: 5}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := throttle.Acquire(ctx, trunk)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 5 {
		t.Fatalf("granted %d simultaneous holds, want exactly 5", granted)
	}
}

func TestAcquireRejectsUnconfiguredTrunk(t *testing.T) {
	throttle, _ := newTestThrottle(t)

	trunk := &domain.Trunk{ID: uuid.New(), MaxCPS: 0, MaxChannels: 10}
	ok, err := throttle.Acquire(context.Background(), trunk)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatal("trunk with max_cps=0 must never grant tokens")
	}
}
