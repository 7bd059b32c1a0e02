package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"calsched/internal/clock"
	"calsched/internal/config"
	"calsched/internal/eventbus"
	"calsched/internal/runtime/supervisor"
	"calsched/internal/storage"
	"calsched/internal/task/scheduler"
	logx "calsched/pkg/logx"

	"github.com/urfave/cli"
)

func (env *environment) run(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr, cfg, err := env.load(c)
	if err != nil {
		return err
	}
	logSvc, log := logx.New(cfg.Logging.Logx())
	defer logSvc.Close()
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := storageConfig(cfg.Storage)
	if err != nil {
		return err
	}
	st, err := storage.Open(sc, log)
	switch {
	case errors.Is(err, storage.ErrDisabled):
		log.Info("storage disabled; trigger state will not survive restarts")
		st = nil
	case err != nil:
		return fmt.Errorf("open storage: %w", err)
	default:
		defer st.Close()
	}

	d, err := newDaemon(ctx, cfg, clock.System(), logSvc, log, st)
	if err != nil {
		return err
	}
	return d.serve(ctx, mgr)
}

// daemon owns the running scheduler and applies config reloads to it.
type daemon struct {
	clk    clock.Clock
	logSvc *logx.Service
	log    logx.Logger
	bus    eventbus.Bus
	sched  *scheduler.Service

	mu  sync.Mutex
	cfg *config.Config
}

func newDaemon(ctx context.Context, cfg *config.Config, clk clock.Clock, logSvc *logx.Service, log logx.Logger, st storage.Store) (*daemon, error) {
	r, err := config.Resolve(cfg, clk)
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()
	sched := scheduler.New(scheduler.Config{
		MisfireThreshold: r.MisfireThreshold,
		TickMaxSleep:     r.TickMaxSleep,
		AlertRatePerSec:  r.AlertRatePerSec,
	}, clk, log.With(logx.String("comp", "scheduler")), bus, st)
	sched.SetLocation(r.Location)

	d := &daemon{clk: clk, logSvc: logSvc, log: log, bus: bus, sched: sched, cfg: cfg}
	for name, cal := range r.Calendars {
		sched.SetCalendar(name, cal)
	}
	for _, def := range r.Triggers {
		d.add(ctx, def)
	}
	return d, nil
}

func (d *daemon) add(ctx context.Context, def config.TriggerDef) {
	_, err := d.sched.Add(ctx, scheduler.Definition{
		Name:     def.Name,
		Job:      def.Job,
		Calendar: def.Calendar,
		Trigger:  def.Trigger,
		Run:      d.logJob,
	})
	switch {
	case errors.Is(err, scheduler.ErrWillNeverFire):
		d.log.Info("trigger skipped: no fire time left", logx.String("trigger", def.Name))
	case err != nil:
		d.log.Error("trigger not scheduled", logx.String("trigger", def.Name), logx.Err(err))
	}
}

// logJob is the job bound to every configured trigger: it records the firing.
func (d *daemon) logJob(_ context.Context, f scheduler.Firing) error {
	fields := []logx.Field{
		logx.String("trigger", f.Trigger),
		logx.String("job", f.Job),
		logx.Time("scheduled", f.ScheduledTime),
	}
	if !f.NextFireTime.IsZero() {
		fields = append(fields, logx.Time("next", f.NextFireTime))
	}
	d.log.Info("job run", fields...)
	return nil
}

func (d *daemon) serve(ctx context.Context, mgr *config.Manager) error {
	updates := mgr.Subscribe(1)
	defer mgr.Unsubscribe(updates)

	sup := supervisor.New(ctx,
		supervisor.WithLogger(d.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	sup.GoRestart("config-watch", time.Second, 30*time.Second, mgr.Watch)
	sup.Go("scheduler", d.sched.Run)

	notifyReady(d.log, d.status(sup))
	stopWatchdog := startWatchdog(sup.Context(), d.log)
	defer stopWatchdog()

	for {
		select {
		case <-sup.Context().Done():
			notifyStopping(d.log)
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return sup.Stop(stopCtx)
		case cfg, ok := <-updates:
			if !ok {
				continue
			}
			d.reload(sup.Context(), cfg)
			notifyStatus(d.log, d.status(sup))
		}
	}
}

func (d *daemon) status(sup *supervisor.Supervisor) string {
	c := sup.Counters()
	return fmt.Sprintf("%d triggers scheduled, %d loops running", len(d.sched.Snapshot().Triggers), c.Active)
}

// reload applies the difference between the running config and cfg. Calendar
// edits re-plan affected triggers; edited triggers restart from their new
// schedule.
func (d *daemon) reload(ctx context.Context, cfg *config.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := config.SummarizeConfigChange(d.cfg, cfg)
	if ch.Empty() {
		return
	}
	d.log.Info("config change applied", append([]logx.Field{logx.Any("sections", ch.Sections)}, ch.Attrs...)...)

	r, err := config.Resolve(cfg, d.clk)
	if err != nil {
		d.log.Warn("config change ignored", logx.Err(err))
		return
	}
	for _, sec := range ch.Sections {
		switch sec {
		case "logging":
			if d.logSvc != nil {
				d.logSvc.Apply(cfg.Logging.Logx())
			}
		case "scheduler", "storage":
			d.log.Warn("config section changed; restart to apply", logx.String("section", sec))
		}
	}

	// A calendar's base may have changed, so every calendar is re-registered.
	if len(ch.Calendars) > 0 {
		for name, cal := range r.Calendars {
			d.sched.UpdateCalendar(ctx, name, cal)
		}
	}

	for _, name := range ch.Triggers {
		if err := d.sched.Remove(ctx, name); err != nil && !errors.Is(err, scheduler.ErrNotFound) {
			d.log.Warn("trigger removal failed", logx.String("trigger", name), logx.Err(err))
		}
		for _, def := range r.Triggers {
			if def.Name == name {
				d.add(ctx, def)
				break
			}
		}
	}
	d.cfg = cfg
}
