package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"marketwatch/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/30 * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "30m", kind: SpecInterval, source: "duration", duration: 30 * time.Minute},
		{name: "millis", raw: "1800000", kind: SpecInterval, source: "millis", duration: 30 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "prefixed every millis", raw: "every: 1500", kind: SpecInterval, source: "millis", duration: 1500 * time.Millisecond},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
		{name: "hhmm half hour", raw: "00:30", kind: SpecInterval, source: "hhmm", duration: 30 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
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
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0", "00:00", "-5m", "01:75", "cron:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	if err != nil {
		t.Fatalf("parseHHMM error: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}
	if _, _, err := parseHHMM("1:60"); err == nil {
		t.Fatal("expected error for invalid minutes")
	}
}

func TestAddScheduleRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	noop := func(context.Context) error { return nil }
	if err := s.AddSchedule("", "30m", 0, noop); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := s.AddSchedule("x", "61 * * * *", 0, noop); err == nil {
		t.Fatal("expected error for invalid cron")
	}
	if err := s.AddSchedule("x", "30m", 0, nil); err == nil {
		t.Fatal("expected error for nil job")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())
	if err := s.AddSchedule("poll", "1800000", time.Minute, noop); err != nil {
		t.Fatalf("add: %v", err)
	}
	infos := s.Schedules()
	if len(infos) != 1 || infos[0].Spec != "@every 30m0s" || infos[0].Next.IsZero() {
		t.Fatalf("unexpected schedules: %+v", infos)
	}
	if !s.Remove("poll") || s.Remove("poll") {
		t.Fatal("remove should succeed once")
	}
}

func TestRunSkipsWhileInFlight(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	release := make(chan struct{})
	var runs atomic.Int32
	d := &scheduleDef{
		name:  "poll",
		opt:   TaskOptions{Overlap: OverlapSkipIfRunning},
		state: &runState{},
		job: func(ctx context.Context) error {
			runs.Add(1)
			<-release
			return nil
		},
	}

	done := make(chan struct{})
	go func() { s.run(d); close(done) }()
	for runs.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	s.run(d) // overlaps, must return immediately
	close(release)
	<-done

	if got := runs.Load(); got != 1 {
		t.Fatalf("runs=%d want 1", got)
	}
	if d.skips != 1 || d.runs != 1 {
		t.Fatalf("skips=%d runs=%d", d.skips, d.runs)
	}
}

func TestRunRecoversPanicAndTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	d := &scheduleDef{name: "boom", state: &runState{}, job: func(context.Context) error { panic("kaboom") }}
	s.run(d)
	if d.lastErr == "" {
		t.Fatal("panic should be recorded as error")
	}

	d2 := &scheduleDef{name: "slow", timeout: 10 * time.Millisecond, state: &runState{}, job: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	s.run(d2)
	if d2.lastErr != context.DeadlineExceeded.Error() {
		t.Fatalf("lastErr=%q", d2.lastErr)
	}
}

func TestIntervalFires(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	fired := make(chan struct{}, 4)
	if err := s.AddSchedule("tick", "1s", 0, func(context.Context) error {
		fired <- struct{}{}
		return errors.New("ignored")
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("interval schedule did not fire")
	}
}

func TestStartRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	if err := New(Config{Timezone: "Mars/Olympus"}, logx.Nop()).Start(context.Background()); err == nil {
		t.Fatal("expected timezone error")
	}
}
