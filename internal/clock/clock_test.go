package clock

import (
	"context"
	"testing"
	"time"
)

func TestFake(t *testing.T) {
	start := time.Date(2026, 10, 19, 16, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if got := f.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	f.Advance(time.Minute)
	if got := f.Now(); !got.Equal(start.Add(time.Minute)) {
		t.Errorf("Now() after Advance = %v", got)
	}

	if err := f.Sleep(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if got := f.Sleeps(); len(got) != 1 || got[0] != 2*time.Second {
		t.Errorf("Sleeps() = %v", got)
	}
	if got := f.Now(); !got.Equal(start.Add(time.Minute + 2*time.Second)) {
		t.Errorf("Now() after Sleep = %v", got)
	}
}

func TestFake_Step(t *testing.T) {
	start := time.Unix(0, 0)
	f := NewFake(start)
	f.SetStep(time.Second)

	f.Now()
	f.Now()
	if got := f.Now(); !got.Equal(start.Add(2 * time.Second)) {
		t.Errorf("third Now() = %v, want +2s", got)
	}
}

func TestFake_SleepCancelled(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.Sleep(ctx, time.Second); err == nil {
		t.Error("Sleep on cancelled context should fail")
	}
	if len(f.Sleeps()) != 0 {
		t.Error("cancelled Sleep should not be recorded")
	}
}

func TestReal_SleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := (Real{}).Sleep(ctx, time.Hour); err == nil {
		t.Error("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep did not return promptly on cancellation")
	}
}
