package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func waitTrue(t *testing.T, f func() bool) {
	t.Helper()
	require.Eventually(t, f, time.Second, 5*time.Millisecond)
}

func TestPingChecker_Check(t *testing.T) {
	var fail atomic.Bool
	c := NewPingChecker("store", PingFunc(func(ctx context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	}), zerolog.Nop(), 0)

	if c.IsHealthy() {
		t.Fatalf("checker must start unhealthy")
	}
	if !c.Check(context.Background()) || !c.IsHealthy() {
		t.Fatalf("expected healthy after successful check")
	}
	fail.Store(true)
	if c.Check(context.Background()) || c.IsHealthy() {
		t.Fatalf("expected unhealthy after failed check")
	}
	if c.Name() != "store" {
		t.Fatalf("unexpected name %q", c.Name())
	}
}

func TestPingChecker_CheckHonoursTimeout(t *testing.T) {
	c := NewPingChecker("slow", PingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), zerolog.Nop(), 20*time.Millisecond)

	start := time.Now()
	if c.Check(context.Background()) {
		t.Fatalf("expected timeout to fail the check")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("check ignored its timeout")
	}
}

func TestPingChecker_StartFeedsService(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewPingChecker("relay", PingFunc(func(context.Context) error { return nil }), zerolog.Nop(), 0)
	svc := NewServiceHealthChecker(zerolog.Nop(), c)
	go c.Start(ctx, 10*time.Millisecond)
	go svc.Start(ctx, 10*time.Millisecond)

	waitTrue(t, svc.IsHealthy)
}
