package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"calsched/internal/clock"
	"calsched/internal/config"
	"calsched/internal/storage"
	"calsched/internal/task/trigger"
	logx "calsched/pkg/logx"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/urfave/cli"
)

type environment struct {
	fs afero.Fs
}

func (env *environment) load(c *cli.Context) (*config.Manager, *config.Config, error) {
	path := c.GlobalString("config")
	m := config.NewManager(path, env.fs)
	m.SetValidator(config.Validate)
	cfg, err := m.Load(context.Background())
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", path, err)
	}
	return m, cfg, nil
}

func (env *environment) validate(c *cli.Context) error {
	_, cfg, err := env.load(c)
	if err != nil {
		return err
	}
	r, err := config.Resolve(cfg, clock.System())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "config OK: %s calendars, %s triggers, timezone %s\n",
		humanize.Comma(int64(len(r.Calendars))), humanize.Comma(int64(len(r.Triggers))), r.Location)
	return nil
}

func (env *environment) preview(c *cli.Context) error {
	_, cfg, err := env.load(c)
	if err != nil {
		return err
	}
	count := c.Int("count")
	if count <= 0 {
		return fmt.Errorf("--count must be >= 1")
	}

	// Resolve once to learn the timezone --from is read in.
	r, err := config.Resolve(cfg, clock.System())
	if err != nil {
		return err
	}
	from := time.Now().UTC().Truncate(time.Second)
	if raw := strings.TrimSpace(c.String("from")); raw != "" {
		if from, err = config.ParseTimeField("--from", raw, r.Location); err != nil {
			return err
		}
	}
	// Triggers without a start time begin at --from.
	if r, err = config.Resolve(cfg, clock.NewFake(from)); err != nil {
		return err
	}

	w := c.App.Writer
	only := strings.TrimSpace(c.String("trigger"))
	found := false
	for _, def := range r.Triggers {
		if only != "" && def.Name != only {
			continue
		}
		found = true

		var cal trigger.Calendar
		if def.Calendar != "" {
			cal = r.Calendars[def.Calendar]
		}
		t := def.Trigger
		fmt.Fprintf(w, "%s  every %d %s  misfire=%s", def.Name, t.RepeatInterval(), t.RepeatIntervalUnit(), t.MisfireInstruction())
		if def.Calendar != "" {
			fmt.Fprintf(w, "  calendar=%s", def.Calendar)
		}
		fmt.Fprintln(w)

		times := t.ComputeFireTimes(cal, from, count)
		if len(times) == 0 {
			fmt.Fprintf(w, "  never fires at or after %s\n", from.In(r.Location).Format(time.RFC3339))
		}
		for i, at := range times {
			fmt.Fprintf(w, "  %-5s %s  (%s)\n",
				humanize.Ordinal(i+1), at.In(r.Location).Format(time.RFC3339), humanize.RelTime(at, from, "ago", "from now"))
		}
		if final, ok := t.FinalFireTime(); ok {
			fmt.Fprintf(w, "  final %s\n", final.In(r.Location).Format(time.RFC3339))
		}
	}
	if only != "" && !found {
		return fmt.Errorf("unknown trigger %q", only)
	}
	return nil
}

func (env *environment) history(c *cli.Context) error {
	name := strings.TrimSpace(c.String("trigger"))
	if name == "" {
		return fmt.Errorf("--trigger is required")
	}
	_, cfg, err := env.load(c)
	if err != nil {
		return err
	}
	sc, err := storageConfig(cfg.Storage)
	if err != nil {
		return err
	}
	st, err := storage.Open(sc, logx.Nop())
	if errors.Is(err, storage.ErrDisabled) {
		return fmt.Errorf("storage is disabled in %s", c.GlobalString("config"))
	}
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.History(context.Background(), name, c.Int("limit"))
	if err != nil {
		return err
	}
	w := c.App.Writer
	if len(entries) == 0 {
		fmt.Fprintf(w, "no history for %s\n", name)
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %-9s", e.At.Format(time.RFC3339), e.Kind)
		if !e.FireTime.IsZero() {
			fmt.Fprintf(w, "  scheduled=%s", e.FireTime.Format(time.RFC3339))
		}
		if e.Instruction != "" {
			fmt.Fprintf(w, "  %s", e.Instruction)
		}
		if e.Error != "" {
			fmt.Fprintf(w, "  err=%q", e.Error)
		}
		fmt.Fprintf(w, "  (%s)\n", humanize.Time(e.At))
	}
	return nil
}

func storageConfig(sc *config.StorageConfig) (storage.Config, error) {
	if sc == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: sc.Driver, Path: sc.Path, BusyTimeout: busy}, nil
}
