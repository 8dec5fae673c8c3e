package metrics

import (
	"context"
	"testing"
	"time"
)

func TestRecordRejectsMismatchedKind(t *testing.T) {
	a := New(nil)
	a.Record("latency", 1.0, KindAvg)
	a.Record("latency", 2.0, KindMax) // wrong kind, must be dropped silently

	names := a.Names()
	if len(names) != 1 {
		t.Fatalf("Names() = %v, want exactly one series", names)
	}
}

func TestTickOnceAggregatesAvgIntoSlot173(t *testing.T) {
	a := New(nil)
	a.Record("lat", 10, KindAvg)
	a.Record("lat", 20, KindAvg)

	now := int64(1000)
	a.getOrCreate("lat", KindAvg).events[0].second = now - 1
	a.getOrCreate("lat", KindAvg).events[1].second = now - 1

	a.tick(now)

	snap := a.Snapshot("lat")
	if snap.Label != "trend" {
		t.Fatalf("Snapshot().Label = %q, want trend", snap.Label)
	}
	last := snap.Data[len(snap.Data)-1]
	if last[1] != 15 {
		t.Fatalf("slot 173 = %v, want 15 (avg of 10,20)", last[1])
	}
}

func TestTickOnceWithNoEventsYieldsZero(t *testing.T) {
	a := New(nil)
	a.Record("lat", 5, KindAvg)
	// tick seconds long before the event's wall-clock stamp, so the event
	// never falls in a ticked window
	a.tick(1)
	a.tick(2)
	a.tick(3)

	snap := a.Snapshot("lat")
	last := snap.Data[len(snap.Data)-1]
	if last[1] != 0.0 {
		t.Fatalf("slot 173 after dry ticks = %v, want 0.0", last[1])
	}
}

func TestCDFEmptyWindowIsAllZero(t *testing.T) {
	a := New(nil)
	a.Record("pctl", 1, KindCDF)
	// tick seconds long before the event's wall-clock stamp, so the
	// buffered event never lands in any window.
	a.tick(100)
	a.tick(200)

	snap := a.Snapshot("pctl")
	if snap.Label != "cdf" {
		t.Fatalf("Snapshot().Label = %q, want cdf", snap.Label)
	}
	for _, pair := range snap.Data {
		if pair[1] != 0.0 {
			t.Fatalf("cdf slot for offset %v = %v, want 0.0", pair[0], pair[1])
		}
	}
}

func TestCDFPercentilesOrderedAscending(t *testing.T) {
	a := New(nil)
	for i := 1; i <= 100; i++ {
		a.Record("pctl", float64(i), KindCDF)
	}
	s := a.getOrCreate("pctl", KindCDF)
	now := int64(50)
	s.mu.Lock()
	for i := range s.events {
		s.events[i].second = now - 1
	}
	s.mu.Unlock()

	a.tick(now)

	snap := a.Snapshot("pctl")
	for i := 1; i < len(snap.Data); i++ {
		if snap.Data[i][1] < snap.Data[i-1][1] {
			t.Fatalf("cdf not monotonic at offset %v: %v < %v", snap.Data[i][0], snap.Data[i][1], snap.Data[i-1][1])
		}
	}
	// the 90th percentile of 1..100 should be close to 90.
	p90 := snap.Data[8][1]
	if p90 < 85 || p90 > 95 {
		t.Fatalf("p90 = %v, want close to 90", p90)
	}
}

func TestSnapshotAbsentNameIsEmpty(t *testing.T) {
	a := New(nil)
	snap := a.Snapshot("does-not-exist")
	if snap.Label != "" || snap.Data != nil {
		t.Fatalf("Snapshot() for unknown name = %+v, want zero value", snap)
	}
}

// TestTickOnceRollsHourSlotExactlyAtTicksPerHour guards the hour trend
// ring's rollover cadence: it must fire every 3600 ticks (one per
// second), not every minuteSlots*hourSlots ticks, which happens to be a
// different number (1440) that would roll the hour ring 2.5x too often.
func TestTickOnceRollsHourSlotExactlyAtTicksPerHour(t *testing.T) {
	s := &series{kind: KindAvg}
	s.trend[hourStart] = 999 // sentinel in the ring's oldest hour slot

	for i := int64(1); i < ticksPerHour; i++ {
		s.tickOnce(i)
	}
	if s.trend[hourStart] != 999 {
		t.Fatalf("hour slot shifted before tick %d (ticks=%d)", ticksPerHour, s.ticks)
	}

	s.tickOnce(ticksPerHour)
	if s.trend[hourStart] == 999 {
		t.Fatalf("hour slot did not shift at tick %d", ticksPerHour)
	}
}

// TestTickOnceRollsDaySlotExactlyAtTicksPerDay is the day-ring analogue:
// it must roll every 86400 ticks, not every
// minuteSlots*hourSlots*daySlots (43200) ticks.
func TestTickOnceRollsDaySlotExactlyAtTicksPerDay(t *testing.T) {
	s := &series{kind: KindAvg}
	s.trend[dayStart] = 999 // sentinel in the ring's oldest day slot

	for i := int64(1); i < ticksPerDay; i++ {
		s.tickOnce(i)
	}
	if s.trend[dayStart] != 999 {
		t.Fatalf("day slot shifted before tick %d (ticks=%d)", ticksPerDay, s.ticks)
	}

	s.tickOnce(ticksPerDay)
	if s.trend[dayStart] == 999 {
		t.Fatalf("day slot did not shift at tick %d", ticksPerDay)
	}
}

func TestDumpLoopStopsOnContextCancel(t *testing.T) {
	a := New(nil)
	a.Record("echo.infer.latency_ms", 1.0, KindCDF)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.DumpLoop(ctx, nil, time.Millisecond)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("DumpLoop did not return after context cancel")
	}
}
