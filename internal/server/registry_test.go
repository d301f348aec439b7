package server

import (
	"context"
	"testing"
	"time"

	"github.com/playperu/stamprally/internal/stamprally"
)

func TestRegistryEvictsIdlePlayers(t *testing.T) {
	deps := testDeps(t, testBackend(t))
	reg := deps.Players

	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }
	ctx := context.Background()

	active, err := reg.Get(ctx, "active")
	if err != nil {
		t.Fatalf("Get active: %v", err)
	}
	idle, err := reg.Get(ctx, "idle")
	if err != nil {
		t.Fatalf("Get idle: %v", err)
	}
	att, err := idle.VerifyReadings("gakko", []stamprally.RawReading{
		{Lat: spotLat, Lng: spotLng, AccuracyMeters: 10, TimestampMs: 1000},
	})
	if err != nil {
		t.Fatalf("VerifyReadings: %v", err)
	}
	if !att.Unlocked {
		t.Fatalf("expected provisional unlock, got %+v", att)
	}

	clock = clock.Add(20 * time.Minute)
	if _, err := reg.Get(ctx, "active"); err != nil {
		t.Fatalf("Get active: %v", err)
	}
	clock = clock.Add(20 * time.Minute)

	if n := reg.Evict(30 * time.Minute); n != 1 {
		t.Fatalf("Evict = %d, want 1", n)
	}
	if reg.Len() != 1 {
		t.Fatalf("Len = %d, want 1", reg.Len())
	}

	again, err := reg.Get(ctx, "active")
	if err != nil {
		t.Fatalf("Get active: %v", err)
	}
	if again != active {
		t.Error("active player was reopened")
	}

	reopened, err := reg.Get(ctx, "idle")
	if err != nil {
		t.Fatalf("Get idle: %v", err)
	}
	if reopened == idle {
		t.Fatal("idle player was not evicted")
	}
	st, err := reopened.Spot("gakko")
	if err != nil {
		t.Fatalf("Spot: %v", err)
	}
	if st.State != stamprally.StateLocked {
		t.Errorf("state after eviction = %s, want locked", st.State)
	}
}

func TestRegistryKeepsSubscribedPlayers(t *testing.T) {
	deps := testDeps(t, testBackend(t))
	reg := deps.Players

	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }

	if _, err := reg.Get(context.Background(), "watcher"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	ch := deps.Broker.Subscribe("watcher")
	clock = clock.Add(time.Hour)

	if n := reg.Evict(time.Minute); n != 0 {
		t.Fatalf("Evict = %d, want 0 while subscribed", n)
	}

	deps.Broker.Unsubscribe("watcher", ch)
	if n := reg.Evict(time.Minute); n != 1 {
		t.Fatalf("Evict = %d, want 1 after unsubscribe", n)
	}
	if reg.Len() != 0 {
		t.Errorf("Len = %d, want 0", reg.Len())
	}
}

func TestRegistryRunStopsWithContext(t *testing.T) {
	reg := testDeps(t, testBackend(t)).Players

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx, time.Millisecond, time.Hour) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
