package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
		cron     string
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron", cron: "*/5 * * * *"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron", cron: "0 0 * * *"},
		{name: "descriptor", raw: "@every 5m", kind: SpecCron, source: "cron", cron: "@every 5m"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute, cron: "@every 10m0s"},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second, cron: "@every 45s"},
		{name: "prefixed every", raw: "every:00:05", kind: SpecInterval, source: "hhmm", duration: 5 * time.Minute, cron: "@every 5m0s"},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute, cron: "@every 1h30m0s"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
			if got.CronSpec() != tt.cron {
				t.Fatalf("CronSpec = %q, want %q", got.CronSpec(), tt.cron)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:00", "01:75", "-5m", "cron:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestAddScheduleUpsertsByName(t *testing.T) {
	s := New(Config{}, testLogger())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	job := func(ctx context.Context) error { return nil }
	id1, err := s.AddSchedule("sweep", "5m", 0, job)
	if err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	id2, err := s.AddSchedule("sweep", "5m", 0, job)
	if err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected a new id on replace")
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("schedules = %d, want 1", len(snap.Schedules))
	}
	if snap.Schedules[0].Next.IsZero() {
		t.Fatalf("expected next fire time")
	}
	if !s.Remove("sweep") || s.Has("sweep") {
		t.Fatalf("remove failed")
	}
	if s.Remove("sweep") {
		t.Fatalf("second remove should report false")
	}
}

func TestRegisterBeforeStart(t *testing.T) {
	s := New(Config{}, testLogger())
	if _, err := s.AddSchedule("later", "5m", 0, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if s.Snapshot().Running {
		t.Fatalf("not started yet")
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())
	snap := s.Snapshot()
	if !snap.Running || len(snap.Schedules) != 1 || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestRunNowRecordsHistory(t *testing.T) {
	s := New(Config{HistorySize: 2}, testLogger())
	boom := errors.New("boom")
	var calls atomic.Int32
	_, _ = s.AddSchedule("job", "1h", 0, func(ctx context.Context) error {
		if calls.Add(1) == 2 {
			return boom
		}
		return nil
	})
	if err := s.RunNow(context.Background(), "job"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := s.RunNow(context.Background(), "job"); !errors.Is(err, boom) {
		t.Fatalf("second run err = %v", err)
	}
	_ = s.RunNow(context.Background(), "job")
	h := s.Snapshot().History
	if len(h) != 2 {
		t.Fatalf("history = %d, want 2", len(h))
	}
	if h[0].Error != "boom" {
		t.Fatalf("history[0] = %+v", h[0])
	}
	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestRunSkipsWhileRunning(t *testing.T) {
	s := New(Config{}, testLogger())
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	_, _ = s.AddSchedule("slow", "1h", 0, func(ctx context.Context) error {
		calls.Add(1)
		close(started)
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = s.RunNow(context.Background(), "slow")
		close(done)
	}()
	<-started
	if err := s.RunNow(context.Background(), "slow"); err != nil {
		t.Fatalf("skipped run err = %v", err)
	}
	close(release)
	<-done
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	h := s.Snapshot().History
	if len(h) != 2 || !h[0].Skipped {
		t.Fatalf("history = %+v", h)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	s := New(Config{}, testLogger())
	_, _ = s.AddSchedule("p", "1h", 0, func(ctx context.Context) error { panic("oops") })
	if err := s.RunNow(context.Background(), "p"); err == nil {
		t.Fatalf("expected panic to surface as error")
	}
}

func TestCronFires(t *testing.T) {
	s := New(Config{}, testLogger())
	fired := make(chan struct{}, 1)
	_, err := s.AddSchedule("tick", "1s", 0, func(ctx context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not fire")
	}
}

func TestAddScheduleRejectsInvalid(t *testing.T) {
	s := New(Config{}, testLogger())
	if _, err := s.AddSchedule("bad", "soon", 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error for invalid schedule")
	}
	if _, err := s.AddSchedule("bad", "cron:61 * * * *", 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error for out of range cron field")
	}
	if s.Has("bad") {
		t.Fatalf("invalid schedule must not be registered")
	}
}

func TestApplyTimezoneWhileRunNeedsService(t *testing.T) {
	s := New(Config{}, testLogger())
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	_, err := s.AddSchedule("blocker", "1s", 0, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		_, err := s.AddSchedule("inner", "1h", 0, func(ctx context.Context) error { return nil })
		return err
	})
	if err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not fire")
	}

	applied := make(chan struct{})
	go func() {
		s.Apply(Config{Timezone: "UTC"})
		close(applied)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case <-applied:
	case <-time.After(3 * time.Second):
		t.Fatalf("Apply did not return while a run was registering a schedule")
	}
	if !s.Has("inner") || !s.Has("blocker") {
		t.Fatalf("schedules lost across restart: %+v", s.Snapshot().Schedules)
	}
	if got := s.Snapshot().Timezone; got != "UTC" {
		t.Fatalf("Timezone = %q, want UTC", got)
	}
}
