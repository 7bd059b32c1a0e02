package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"calsched/internal/clock"
	"calsched/internal/eventbus"
	"calsched/internal/storage"
	"calsched/internal/task/trigger"
	logx "calsched/pkg/logx"

	"github.com/google/uuid"
)

type entry struct {
	def Definition
}

func (e *entry) trigger() *trigger.CalendarIntervalTrigger { return e.def.Trigger }

type Service struct {
	mu sync.Mutex
	// tickMu keeps Tick single-flight; jobs run with mu released.
	tickMu sync.Mutex

	cfg   Config
	loc   *time.Location
	clock clock.Clock
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	calendars map[string]trigger.Calendar
	entries   map[string]*entry

	misfires *misfireReporter
	wake     chan struct{}
}

// New builds a scheduler. bus and store may be nil; a nil clock means the
// system clock. Triggers handed to Add must read the same clock.
func New(cfg Config, clk clock.Clock, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		loc:       time.UTC,
		clock:     clk,
		log:       log,
		bus:       bus,
		store:     store,
		calendars: map[string]trigger.Calendar{},
		entries:   map[string]*entry{},
		misfires:  newMisfireReporter(cfg.AlertRatePerSec),
		wake:      make(chan struct{}, 1),
	}
}

// SetLocation records the timezone reported by Snapshot.
func (s *Service) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	s.mu.Lock()
	s.loc = loc
	s.mu.Unlock()
}

// SetCalendar registers cal under name without touching scheduled
// triggers. Use UpdateCalendar to re-plan triggers that use it.
func (s *Service) SetCalendar(name string, cal trigger.Calendar) {
	s.mu.Lock()
	s.calendars[strings.TrimSpace(name)] = cal
	s.mu.Unlock()
}

// Add validates def, computes its first fire time (or restores its persisted
// cursor) and schedules it. It returns the trigger ID.
func (s *Service) Add(ctx context.Context, def Definition) (string, error) {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return "", errors.New("name required")
	}
	if def.Trigger == nil {
		return "", fmt.Errorf("%s: trigger required", def.Name)
	}
	if def.Run == nil {
		return "", fmt.Errorf("%s: job required", def.Name)
	}
	if err := def.Trigger.Validate(); err != nil {
		return "", fmt.Errorf("%s: %w", def.Name, err)
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if strings.TrimSpace(def.Job) == "" {
		def.Job = def.Name
	}
	def.Calendar = strings.TrimSpace(def.Calendar)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[def.Name]; dup {
		return "", fmt.Errorf("%w: %s", ErrDuplicate, def.Name)
	}
	cal, err := s.calendarLocked(def.Calendar)
	if err != nil {
		return "", fmt.Errorf("%s: %w", def.Name, err)
	}

	e := &entry{def: def}
	if s.restoreLocked(ctx, e, cal) {
		if !e.trigger().MayFireAgain() {
			return "", fmt.Errorf("%w: %s (finished before restart)", ErrWillNeverFire, def.Name)
		}
	} else if _, ok := e.trigger().ComputeFirstFireTime(cal); !ok {
		return "", fmt.Errorf("%w: %s", ErrWillNeverFire, def.Name)
	}

	s.entries[def.Name] = e
	s.persistLocked(ctx, e)

	next, _ := e.trigger().NextFireTime()
	s.log.Info("trigger scheduled",
		logx.String("trigger", def.Name),
		logx.String("id", def.ID),
		logx.Int("interval", e.trigger().RepeatInterval()),
		logx.String("unit", e.trigger().RepeatIntervalUnit().String()),
		logx.String("calendar", def.Calendar),
		logx.Time("next", next),
	)
	s.signal()
	return def.ID, nil
}

// restoreLocked swaps in the persisted trigger when its schedule still
// matches the definition. It reports whether a cursor was restored.
func (s *Service) restoreLocked(ctx context.Context, e *entry, cal trigger.Calendar) bool {
	if s.store == nil {
		return false
	}
	rec, err := s.store.LoadTrigger(ctx, e.def.Name)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("trigger state load failed", logx.String("trigger", e.def.Name), logx.Err(err))
		}
		return false
	}

	t := e.trigger()
	if !t.HasStartTime() {
		if err := t.SetStartTime(rec.State.StartTime); err != nil {
			s.log.Info("persisted trigger state ignored", logx.String("trigger", e.def.Name), logx.Err(err))
			return false
		}
	}
	if !rec.State.SameSchedule(t.State()) {
		s.log.Info("persisted trigger state ignored: schedule changed", logx.String("trigger", e.def.Name))
		return false
	}
	restored, err := trigger.FromState(rec.State, s.clock)
	if err != nil {
		s.log.Warn("persisted trigger state invalid", logx.String("trigger", e.def.Name), logx.Err(err))
		return false
	}
	e.def.Trigger = restored
	if rec.Calendar != e.def.Calendar {
		restored.UpdateWithNewCalendar(cal, s.cfg.MisfireThreshold)
	}
	s.log.Debug("trigger state restored",
		logx.String("trigger", e.def.Name),
		logx.Int("times_triggered", restored.TimesTriggered()),
	)
	return true
}

// Remove unschedules name and forgets its persisted state.
func (s *Service) Remove(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.entries, name)
	if s.store != nil {
		sctx, cancel := storeContext(ctx)
		if err := s.store.DeleteTrigger(sctx, name); err != nil {
			s.log.Warn("trigger state delete failed", logx.String("trigger", name), logx.Err(err))
		}
		cancel()
	}
	s.publish(EventRemoved, e, "unscheduled")
	s.log.Info("trigger unscheduled", logx.String("trigger", name))
	s.signal()
	return nil
}

// UpdateCalendar replaces the calendar registered under name and re-plans
// every trigger that uses it.
func (s *Service) UpdateCalendar(ctx context.Context, name string, cal trigger.Calendar) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendars[name] = cal

	n := 0
	for _, e := range s.sortedEntriesLocked() {
		if e.def.Calendar != name {
			continue
		}
		n++
		e.trigger().UpdateWithNewCalendar(cal, s.cfg.MisfireThreshold)
		if !e.trigger().MayFireAgain() {
			s.finishLocked(ctx, e, EventRemoved, "no fire time under new calendar")
			continue
		}
		s.persistLocked(ctx, e)
	}
	s.log.Info("calendar updated", logx.String("calendar", name), logx.Int("triggers", n))
	s.signal()
}

// Run drives Tick until ctx is done. It sleeps until the earliest next fire
// time, never longer than TickMaxSleep, and wakes early when the schedule
// changes.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		logx.Duration("misfire_threshold", s.cfg.MisfireThreshold),
		logx.Duration("tick_max_sleep", s.cfg.TickMaxSleep),
	)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-timer.C:
		case <-s.wake:
		}
		s.Tick(ctx)
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.sleepFor(s.clock.Now()))
	}
}

func (s *Service) sleepFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.cfg.TickMaxSleep
	for _, e := range s.entries {
		next, ok := e.trigger().NextFireTime()
		if !ok {
			continue
		}
		if wait := next.Sub(now); wait < d {
			d = wait
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) calendarLocked(name string) (trigger.Calendar, error) {
	if name == "" {
		return nil, nil
	}
	cal, ok := s.calendars[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownCal, name)
	}
	return cal, nil
}

func (s *Service) sortedEntriesLocked() []*entry {
	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].def.Name < out[j].def.Name })
	return out
}

func storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	// Shutdown cancels ctx; state writes should still land.
	return context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
}

func (s *Service) persistLocked(ctx context.Context, e *entry) {
	if s.store == nil {
		return
	}
	sctx, cancel := storeContext(ctx)
	defer cancel()
	rec := storage.Record{
		Name:      e.def.Name,
		Job:       e.def.Job,
		Calendar:  e.def.Calendar,
		State:     e.trigger().State(),
		UpdatedAt: s.clock.Now(),
	}
	if err := s.store.SaveTrigger(sctx, rec); err != nil {
		s.log.Warn("trigger state save failed", logx.String("trigger", e.def.Name), logx.Err(err))
	}
}

func (s *Service) history(ctx context.Context, h storage.HistoryEntry) {
	if s.store == nil {
		return
	}
	if h.At.IsZero() {
		h.At = s.clock.Now()
	}
	sctx, cancel := storeContext(ctx)
	defer cancel()
	if err := s.store.AppendHistory(sctx, h); err != nil {
		s.log.Debug("history append failed", logx.String("trigger", h.Trigger), logx.Err(err))
	}
}

func (s *Service) publish(typ string, e *entry, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Trigger: e.def.Name, Data: data})
}
