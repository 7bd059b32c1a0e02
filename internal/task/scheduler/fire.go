package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"calsched/internal/storage"
	"calsched/internal/task/trigger"
	logx "calsched/pkg/logx"
)

// maxCatchUp bounds how many times one trigger is processed per Tick, so a
// pathological schedule cannot pin the driver.
const maxCatchUp = 1000

// MisfireInfo is the payload of EventMisfired.
type MisfireInfo struct {
	ScheduledTime time.Time
	Late          time.Duration
	NextFireTime  time.Time
}

// Tick processes every trigger that is due at the clock's current instant
// and returns the number of job runs started.
func (s *Service) Tick(ctx context.Context) int {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := s.clock.Now().UTC()
	fired := 0
	for _, name := range s.dueNames(now) {
		if ctx.Err() != nil {
			break
		}
		fired += s.process(ctx, name, now)
	}
	return fired
}

func (s *Service) dueNames(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	type due struct {
		name string
		at   time.Time
	}
	var ds []due
	for name, e := range s.entries {
		if next, ok := e.trigger().NextFireTime(); ok && !next.After(now) {
			ds = append(ds, due{name: name, at: next})
		}
	}
	sort.Slice(ds, func(i, j int) bool {
		if !ds[i].at.Equal(ds[j].at) {
			return ds[i].at.Before(ds[j].at)
		}
		return ds[i].name < ds[j].name
	})
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.name
	}
	return out
}

func (s *Service) process(ctx context.Context, name string, now time.Time) int {
	fired := 0
	for i := 0; i < maxCatchUp && ctx.Err() == nil; i++ {
		s.mu.Lock()
		e, ok := s.entries[name]
		if !ok {
			s.mu.Unlock()
			return fired
		}
		next, ok := e.trigger().NextFireTime()
		if !ok || next.After(now) {
			s.mu.Unlock()
			return fired
		}
		if now.Sub(next) >= s.cfg.MisfireThreshold {
			s.misfireLocked(ctx, e, next, now)
			s.mu.Unlock()
			continue
		}
		f := s.beginFiringLocked(ctx, e, next, now)
		def := e.def
		s.mu.Unlock()

		s.execute(ctx, def, f)
		fired++
	}
	return fired
}

func (s *Service) misfireLocked(ctx context.Context, e *entry, scheduled, now time.Time) {
	cal := s.calendars[e.def.Calendar]
	e.trigger().UpdateAfterMisfire(cal)
	next, ok := e.trigger().NextFireTime()

	info := MisfireInfo{ScheduledTime: scheduled, Late: now.Sub(scheduled), NextFireTime: next}
	s.reportMisfire(e.def.Name, e.trigger().MisfireInstruction(), info, ok)
	s.publish(EventMisfired, e, info)
	s.history(ctx, storage.HistoryEntry{
		Trigger:     e.def.Name,
		Kind:        "misfired",
		FireTime:    scheduled,
		Instruction: e.trigger().MisfireInstruction().String(),
	})

	if !ok {
		s.finishLocked(ctx, e, EventRemoved, "no fire time after misfire")
		return
	}
	s.persistLocked(ctx, e)
}

func (s *Service) beginFiringLocked(ctx context.Context, e *entry, scheduled, now time.Time) Firing {
	t := e.trigger()
	prev, _ := t.PreviousFireTime()
	t.Triggered(s.calendars[e.def.Calendar])
	next, _ := t.NextFireTime()

	f := Firing{
		TriggerID:        e.def.ID,
		Trigger:          e.def.Name,
		Job:              e.def.Job,
		ScheduledTime:    scheduled,
		FireTime:         now,
		PreviousFireTime: prev,
		NextFireTime:     next,
	}
	s.persistLocked(ctx, e)
	s.publish(EventFired, e, f)
	s.log.Info("trigger fired",
		logx.String("trigger", e.def.Name),
		logx.Time("scheduled", scheduled),
		logx.Int("times_triggered", t.TimesTriggered()),
		logx.Time("next", next),
	)
	return f
}

// execute runs the job (again, while it asks to be refired) and applies the
// trigger's completion instruction.
func (s *Service) execute(ctx context.Context, def Definition, f Firing) {
	for refire := 0; ; refire++ {
		f.Refire = refire
		res := resultFromError(s.runJob(ctx, def, f))
		if res != nil && res.Err != nil {
			s.log.Warn("job failed",
				logx.String("trigger", def.Name),
				logx.String("job", def.Job),
				logx.Int("refire", refire),
				logx.Err(res.Err),
			)
		}

		s.mu.Lock()
		e, ok := s.entries[def.Name]
		if !ok || e.def.ID != def.ID {
			// Unscheduled while the job was running.
			s.mu.Unlock()
			return
		}
		ins := e.trigger().ExecutionComplete(res)
		if ins == trigger.ReExecuteJob {
			if refire < s.cfg.MaxRefires && ctx.Err() == nil {
				s.mu.Unlock()
				s.log.Debug("job refire requested", logx.String("trigger", def.Name), logx.Int("refire", refire+1))
				continue
			}
			s.log.Warn("job refire limit reached", logx.String("trigger", def.Name), logx.Int("max_refires", s.cfg.MaxRefires))
			ins = e.trigger().ExecutionComplete(nil)
		}

		h := storage.HistoryEntry{
			Trigger:     def.Name,
			Kind:        "fired",
			FireTime:    f.ScheduledTime,
			Instruction: ins.String(),
		}
		if res != nil && res.Err != nil {
			h.Error = res.Err.Error()
		}
		s.history(ctx, h)
		s.applyLocked(ctx, e, ins)
		s.mu.Unlock()
		return
	}
}

func (s *Service) applyLocked(ctx context.Context, e *entry, ins trigger.CompletedExecutionInstruction) {
	switch ins {
	case trigger.SetTriggerComplete:
		e.trigger().MarkComplete()
		s.finishLocked(ctx, e, EventCompleted, "job unscheduled the trigger")
	case trigger.SetAllJobTriggersComplete:
		for _, other := range s.sortedEntriesLocked() {
			if other.def.Job != e.def.Job {
				continue
			}
			other.trigger().MarkComplete()
			s.finishLocked(ctx, other, EventCompleted, "job unscheduled all its triggers")
		}
	case trigger.DeleteTrigger:
		s.finishLocked(ctx, e, EventRemoved, "no more fire times")
	default:
		s.persistLocked(ctx, e)
	}
}

// finishLocked drops a trigger that will not fire again. Its final state is
// kept in storage so a restart does not schedule it from scratch.
func (s *Service) finishLocked(ctx context.Context, e *entry, event, reason string) {
	delete(s.entries, e.def.Name)
	s.persistLocked(ctx, e)
	kind := "removed"
	if event == EventCompleted {
		kind = "completed"
	}
	s.history(ctx, storage.HistoryEntry{Trigger: e.def.Name, Kind: kind, Instruction: reason})
	s.publish(event, e, reason)
	s.log.Info("trigger finished",
		logx.String("trigger", e.def.Name),
		logx.String("reason", reason),
		logx.Int("times_triggered", e.trigger().TimesTriggered()),
	)
}

func (s *Service) runJob(ctx context.Context, def Definition, f Firing) (err error) {
	runCtx := ctx
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}
	start := time.Now()
	// Guard against job panics: one bad job must not kill the driver.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panic",
				logx.String("trigger", def.Name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
		s.log.Debug("job finished",
			logx.String("trigger", def.Name),
			logx.Duration("took", time.Since(start)),
			logx.Bool("ok", err == nil),
		)
	}()
	return def.Run(runCtx, f)
}
