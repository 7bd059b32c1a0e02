package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"calsched/internal/clock"
	"calsched/internal/eventbus"
	"calsched/internal/storage"
	"calsched/internal/task/trigger"
	logx "calsched/pkg/logx"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type calendarFunc func(time.Time) bool

func (f calendarFunc) IsTimeIncluded(t time.Time) bool { return f(t) }

// recorder is a Job that records every firing and returns the next queued
// error (nil once the queue is empty).
type recorder struct {
	mu      sync.Mutex
	firings []Firing
	errs    []error
}

func (r *recorder) run(_ context.Context, f Firing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.firings = append(r.firings, f)
	if len(r.errs) == 0 {
		return nil
	}
	err := r.errs[0]
	r.errs = r.errs[1:]
	return err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.firings)
}

func newTestService(t *testing.T, cfg Config, store storage.Store) (*Service, *clock.Fake, eventbus.Bus) {
	t.Helper()
	clk := clock.NewFake(t0)
	bus := eventbus.New()
	return New(cfg, clk, logx.Nop(), bus, store), clk, bus
}

func mustTrigger(t *testing.T, clk clock.Clock, opts ...trigger.Option) *trigger.CalendarIntervalTrigger {
	t.Helper()
	tr, err := trigger.New(append([]trigger.Option{trigger.WithClock(clk)}, opts...)...)
	if err != nil {
		t.Fatalf("trigger.New: %v", err)
	}
	return tr
}

func mustAdd(t *testing.T, s *Service, def Definition) string {
	t.Helper()
	id, err := s.Add(context.Background(), def)
	if err != nil {
		t.Fatalf("Add(%s): %v", def.Name, err)
	}
	return id
}

func TestTickFiresOnGrid(t *testing.T) {
	t.Parallel()
	s, clk, bus := newTestService(t, Config{}, nil)
	events, unsub := bus.Subscribe(16, EventFired)
	defer unsub()

	rec := &recorder{}
	id := mustAdd(t, s, Definition{
		Name:    "every-10s",
		Trigger: mustTrigger(t, clk, trigger.WithStartTime(t0), trigger.WithInterval(10, trigger.UnitSecond)),
		Run:     rec.run,
	})
	if id == "" {
		t.Fatal("Add returned an empty ID")
	}

	ctx := context.Background()
	if n := s.Tick(ctx); n != 1 {
		t.Fatalf("Tick at start fired %d, want 1", n)
	}
	clk.Advance(5 * time.Second)
	if n := s.Tick(ctx); n != 0 {
		t.Fatalf("Tick between grid points fired %d, want 0", n)
	}
	clk.Advance(5 * time.Second)
	if n := s.Tick(ctx); n != 1 {
		t.Fatalf("Tick on grid fired %d, want 1", n)
	}

	f := rec.firings[1]
	if !f.ScheduledTime.Equal(t0.Add(10*time.Second)) || !f.PreviousFireTime.Equal(t0) || !f.NextFireTime.Equal(t0.Add(20*time.Second)) {
		t.Fatalf("unexpected firing %+v", f)
	}
	if f.TriggerID != id || f.Job != "every-10s" {
		t.Fatalf("firing identity = %q/%q", f.TriggerID, f.Job)
	}
	if len(events) != 2 {
		t.Fatalf("published %d fired events, want 2", len(events))
	}
	info, ok := s.Info("every-10s")
	if !ok || info.TimesTriggered != 2 || !info.Next.Equal(t0.Add(20*time.Second)) {
		t.Fatalf("Info = %+v, %v", info, ok)
	}
}

func TestTickCatchesUpWithinThreshold(t *testing.T) {
	t.Parallel()
	s, clk, _ := newTestService(t, Config{MisfireThreshold: time.Minute}, nil)
	rec := &recorder{}
	mustAdd(t, s, Definition{
		Name:    "fast",
		Trigger: mustTrigger(t, clk, trigger.WithStartTime(t0), trigger.WithInterval(10, trigger.UnitSecond)),
		Run:     rec.run,
	})
	clk.Set(t0.Add(30 * time.Second))
	if n := s.Tick(context.Background()); n != 4 {
		t.Fatalf("fired %d, want 4 (t0, +10s, +20s, +30s)", n)
	}
}

func TestMisfirePolicies(t *testing.T) {
	t.Parallel()
	late := t0.Add(3*24*time.Hour + time.Hour)
	tests := []struct {
		name      string
		policy    trigger.MisfireInstruction
		wantFired int
		wantNext  time.Time
	}{
		{"smart fires once now", trigger.MisfireSmartPolicy, 1, t0.Add(4 * 24 * time.Hour)},
		{"fire once now", trigger.MisfireFireOnceNow, 1, t0.Add(4 * 24 * time.Hour)},
		{"do nothing skips", trigger.MisfireDoNothing, 0, t0.Add(4 * 24 * time.Hour)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, clk, bus := newTestService(t, Config{}, nil)
			misfires, unsub := bus.Subscribe(4, EventMisfired)
			defer unsub()

			rec := &recorder{}
			mustAdd(t, s, Definition{
				Name: "daily",
				Trigger: mustTrigger(t, clk,
					trigger.WithStartTime(t0),
					trigger.WithInterval(1, trigger.UnitDay),
					trigger.WithMisfireInstruction(tt.policy)),
				Run: rec.run,
			})
			clk.Set(late)
			if n := s.Tick(context.Background()); n != tt.wantFired {
				t.Fatalf("fired %d, want %d", n, tt.wantFired)
			}
			if tt.wantFired == 1 && !rec.firings[0].ScheduledTime.Equal(late) {
				t.Fatalf("fired at %v, want now (%v)", rec.firings[0].ScheduledTime, late)
			}
			info, _ := s.Info("daily")
			if !info.Next.Equal(tt.wantNext) {
				t.Fatalf("next = %v, want %v", info.Next, tt.wantNext)
			}
			select {
			case e := <-misfires:
				mi := e.Data.(MisfireInfo)
				if !mi.ScheduledTime.Equal(t0) || mi.Late != late.Sub(t0) {
					t.Fatalf("misfire info = %+v", mi)
				}
			default:
				t.Fatal("no misfire event")
			}
		})
	}
}

func TestCompletionSignals(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unschedule", func(t *testing.T) {
		t.Parallel()
		s, clk, bus := newTestService(t, Config{}, nil)
		done, unsub := bus.Subscribe(4, EventCompleted)
		defer unsub()
		rec := &recorder{errs: []error{Unschedule(nil)}}
		mustAdd(t, s, Definition{Name: "once", Trigger: mustTrigger(t, clk, trigger.WithStartTime(t0)), Run: rec.run})
		s.Tick(ctx)
		if _, ok := s.Info("once"); ok {
			t.Fatal("trigger still scheduled after Unschedule")
		}
		if len(done) != 1 {
			t.Fatal("no completed event")
		}
	})

	t.Run("unschedule all for job", func(t *testing.T) {
		t.Parallel()
		s, clk, _ := newTestService(t, Config{}, nil)
		rec := &recorder{errs: []error{UnscheduleAll(errors.New("quota exhausted"))}}
		idle := &recorder{}
		mustAdd(t, s, Definition{Name: "a", Job: "sync", Trigger: mustTrigger(t, clk, trigger.WithStartTime(t0)), Run: rec.run})
		mustAdd(t, s, Definition{Name: "b", Job: "sync", Trigger: mustTrigger(t, clk, trigger.WithStartTime(t0.Add(time.Hour))), Run: idle.run})
		mustAdd(t, s, Definition{Name: "c", Job: "other", Trigger: mustTrigger(t, clk, trigger.WithStartTime(t0.Add(time.Hour))), Run: idle.run})
		s.Tick(ctx)
		if len(s.Snapshot().Triggers) != 1 {
			t.Fatalf("remaining triggers = %+v, want only c", s.Snapshot().Triggers)
		}
		if _, ok := s.Info("c"); !ok {
			t.Fatal("trigger of another job was removed")
		}
	})

	t.Run("refire", func(t *testing.T) {
		t.Parallel()
		s, clk, _ := newTestService(t, Config{}, nil)
		rec := &recorder{errs: []error{Refire(errors.New("busy")), Refire(nil)}}
		mustAdd(t, s, Definition{Name: "r", Trigger: mustTrigger(t, clk, trigger.WithStartTime(t0)), Run: rec.run})
		if n := s.Tick(ctx); n != 1 {
			t.Fatalf("Tick fired %d, want 1", n)
		}
		if rec.count() != 3 {
			t.Fatalf("job ran %d times, want 3", rec.count())
		}
		for i, f := range rec.firings {
			if f.Refire != i || !f.ScheduledTime.Equal(t0) {
				t.Fatalf("run %d: %+v", i, f)
			}
		}
	})

	t.Run("refire limit", func(t *testing.T) {
		t.Parallel()
		s, clk, _ := newTestService(t, Config{MaxRefires: 2}, nil)
		var errs []error
		for i := 0; i < 10; i++ {
			errs = append(errs, Refire(nil))
		}
		rec := &recorder{errs: errs}
		mustAdd(t, s, Definition{Name: "r", Trigger: mustTrigger(t, clk, trigger.WithStartTime(t0)), Run: rec.run})
		s.Tick(ctx)
		if rec.count() != 3 {
			t.Fatalf("job ran %d times, want 3", rec.count())
		}
		if _, ok := s.Info("r"); !ok {
			t.Fatal("trigger should stay scheduled after the refire limit")
		}
	})

	t.Run("panic is a failure", func(t *testing.T) {
		t.Parallel()
		s, clk, _ := newTestService(t, Config{}, nil)
		mustAdd(t, s, Definition{
			Name:    "p",
			Trigger: mustTrigger(t, clk, trigger.WithStartTime(t0)),
			Run:     func(context.Context, Firing) error { panic("boom") },
		})
		if n := s.Tick(ctx); n != 1 {
			t.Fatalf("Tick fired %d, want 1", n)
		}
		if info, ok := s.Info("p"); !ok || info.TimesTriggered != 1 {
			t.Fatalf("Info = %+v, %v", info, ok)
		}
	})
}

func TestEndTimeRemovesTrigger(t *testing.T) {
	t.Parallel()
	s, clk, bus := newTestService(t, Config{}, nil)
	removed, unsub := bus.Subscribe(4, EventRemoved)
	defer unsub()
	rec := &recorder{}
	mustAdd(t, s, Definition{
		Name: "bounded",
		Trigger: mustTrigger(t, clk,
			trigger.WithStartTime(t0),
			trigger.WithEndTime(t0.Add(25*time.Second)),
			trigger.WithInterval(10, trigger.UnitSecond)),
		Run: rec.run,
	})
	for i := 0; i < 5; i++ {
		s.Tick(context.Background())
		clk.Advance(10 * time.Second)
	}
	if rec.count() != 3 {
		t.Fatalf("fired %d times, want 3", rec.count())
	}
	if _, ok := s.Info("bounded"); ok {
		t.Fatal("exhausted trigger still scheduled")
	}
	if len(removed) != 1 {
		t.Fatal("no removed event")
	}
}

func TestAddRejects(t *testing.T) {
	t.Parallel()
	s, clk, _ := newTestService(t, Config{}, nil)
	ctx := context.Background()
	nop := func(context.Context, Firing) error { return nil }
	s.SetCalendar("never", calendarFunc(func(time.Time) bool { return false }))

	_, err := s.Add(ctx, Definition{Name: "n", Calendar: "never", Trigger: mustTrigger(t, clk, trigger.WithStartTime(t0)), Run: nop})
	if !errors.Is(err, ErrWillNeverFire) {
		t.Fatalf("never-included calendar: err = %v", err)
	}
	_, err = s.Add(ctx, Definition{Name: "u", Calendar: "nope", Trigger: mustTrigger(t, clk), Run: nop})
	if !errors.Is(err, ErrUnknownCal) {
		t.Fatalf("unknown calendar: err = %v", err)
	}
	mustAdd(t, s, Definition{Name: "d", Trigger: mustTrigger(t, clk), Run: nop})
	_, err = s.Add(ctx, Definition{Name: "d", Trigger: mustTrigger(t, clk), Run: nop})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate: err = %v", err)
	}
	if _, err := s.Add(ctx, Definition{Name: "x", Trigger: mustTrigger(t, clk)}); err == nil {
		t.Fatal("definition without a job accepted")
	}
	expired := mustTrigger(t, clk, trigger.WithEndTime(clk.Now().Add(-time.Hour)))
	if _, err := s.Add(ctx, Definition{Name: "expired", Trigger: expired, Run: nop}); !trigger.IsConfigError(err) {
		t.Fatalf("end before lazy start: err = %v", err)
	}
	if err := s.Remove(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove(missing) = %v", err)
	}
}

func TestUpdateCalendarReplansTriggers(t *testing.T) {
	t.Parallel()
	s, clk, _ := newTestService(t, Config{}, nil)
	ctx := context.Background()
	s.SetCalendar("ops", nil)
	rec := &recorder{}
	mustAdd(t, s, Definition{
		Name:     "daily",
		Calendar: "ops",
		Trigger:  mustTrigger(t, clk, trigger.WithStartTime(t0), trigger.WithInterval(1, trigger.UnitDay)),
		Run:      rec.run,
	})
	s.Tick(ctx)

	day2 := t0.Add(24 * time.Hour)
	s.UpdateCalendar(ctx, "ops", calendarFunc(func(t time.Time) bool { return !t.Equal(day2) }))
	info, _ := s.Info("daily")
	if want := t0.Add(48 * time.Hour); !info.Next.Equal(want) {
		t.Fatalf("next = %v, want %v", info.Next, want)
	}

	s.UpdateCalendar(ctx, "ops", calendarFunc(func(time.Time) bool { return false }))
	if _, ok := s.Info("daily"); ok {
		t.Fatal("trigger with no remaining fire time still scheduled")
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	s1, clk, _ := newTestService(t, Config{}, st)
	rec := &recorder{}
	def := func(c clock.Clock, n int) Definition {
		return Definition{
			Name:    "hourly",
			Trigger: mustTrigger(t, c, trigger.WithStartTime(t0), trigger.WithInterval(n, trigger.UnitHour)),
			Run:     rec.run,
		}
	}
	mustAdd(t, s1, def(clk, 1))
	s1.Tick(ctx)
	clk.Advance(time.Hour)
	s1.Tick(ctx)

	s2 := New(Config{}, clk, logx.Nop(), nil, st)
	mustAdd(t, s2, def(clk, 1))
	info, _ := s2.Info("hourly")
	if info.TimesTriggered != 2 || !info.Next.Equal(t0.Add(2*time.Hour)) {
		t.Fatalf("restored = %+v", info)
	}

	s3 := New(Config{}, clk, logx.Nop(), nil, st)
	mustAdd(t, s3, def(clk, 2))
	info, _ = s3.Info("hourly")
	if info.TimesTriggered != 0 || !info.Next.Equal(t0) {
		t.Fatalf("changed schedule should start fresh, got %+v", info)
	}

	hist, err := st.History(ctx, "hourly", 10)
	if err != nil || len(hist) != 2 || hist[0].Kind != "fired" {
		t.Fatalf("History = %+v, %v", hist, err)
	}
}

func TestSnapshotOrdersByNextFireTime(t *testing.T) {
	t.Parallel()
	s, clk, _ := newTestService(t, Config{}, nil)
	nop := func(context.Context, Firing) error { return nil }
	mustAdd(t, s, Definition{Name: "late", Trigger: mustTrigger(t, clk, trigger.WithStartTime(t0.Add(time.Hour))), Run: nop})
	mustAdd(t, s, Definition{Name: "early", Trigger: mustTrigger(t, clk,
		trigger.WithStartTime(t0), trigger.WithEndTime(t0.Add(50*time.Hour))), Run: nop})

	snap := s.Snapshot()
	if len(snap.Triggers) != 2 || snap.Triggers[0].Name != "early" {
		t.Fatalf("Snapshot = %+v", snap.Triggers)
	}
	if want := t0.Add(48 * time.Hour); !snap.Triggers[0].Final.Equal(want) {
		t.Fatalf("final = %v, want %v", snap.Triggers[0].Final, want)
	}
	if !snap.Triggers[1].Final.IsZero() {
		t.Fatal("unbounded trigger should have no final fire time")
	}
	if snap.Timezone != "UTC" || snap.MisfireThreshold != time.Minute {
		t.Fatalf("snapshot header = %q / %v", snap.Timezone, snap.MisfireThreshold)
	}
}

func TestRunFiresAndWakesOnAdd(t *testing.T) {
	t.Parallel()
	s, clk, bus := newTestService(t, Config{TickMaxSleep: time.Hour}, nil)
	fired, unsub := bus.Subscribe(4, EventFired)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	nop := func(context.Context, Firing) error { return nil }
	mustAdd(t, s, Definition{Name: "now", Trigger: mustTrigger(t, clk, trigger.WithStartTime(t0)), Run: nop})

	select {
	case e := <-fired:
		if e.Trigger != "now" {
			t.Fatalf("fired %q", e.Trigger)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not fire the added trigger")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestResultFromError(t *testing.T) {
	t.Parallel()
	if resultFromError(nil) != nil {
		t.Fatal("nil error should carry no result")
	}
	cause := errors.New("cause")
	res := resultFromError(Unschedule(Refire(cause)))
	if !res.UnscheduleFiringTrigger || !res.RefireImmediately || res.UnscheduleAllTriggers {
		t.Fatalf("flags = %+v", res)
	}
	if !errors.Is(res.Err, cause) {
		t.Fatalf("Err = %v, want wrapped cause", res.Err)
	}
	if res := resultFromError(UnscheduleAll(nil)); res.Err != nil || !res.UnscheduleAllTriggers {
		t.Fatalf("bare signal = %+v", res)
	}
	if res := resultFromError(cause); res.Err != cause || res.RefireImmediately {
		t.Fatalf("plain error = %+v", res)
	}
}
