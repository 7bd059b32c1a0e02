package config

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "calsched/pkg/logx"
)

// Change is the result of comparing two configs.
type Change struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// Attrs are structured fields suitable for one summary log line.
	Attrs []logx.Field
	// Calendars and Triggers name entries that were added, removed or edited.
	Calendars []string
	Triggers  []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares oldCfg and newCfg. A nil config is treated
// as empty.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var out Change

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		out.Sections = append(out.Sections, "logging")
		out.Attrs = append(out.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	o, n := oldCfg.Scheduler, newCfg.Scheduler
	if strings.TrimSpace(o.Timezone) != strings.TrimSpace(n.Timezone) ||
		strings.TrimSpace(o.MisfireThreshold) != strings.TrimSpace(n.MisfireThreshold) ||
		strings.TrimSpace(o.TickMaxSleep) != strings.TrimSpace(n.TickMaxSleep) ||
		o.AlertRatePerSec != n.AlertRatePerSec {
		out.Sections = append(out.Sections, "scheduler")
		out.Attrs = append(out.Attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(n.Timezone)),
			logx.String("scheduler.misfire_threshold", strings.TrimSpace(n.MisfireThreshold)),
			logx.String("scheduler.tick_max_sleep", strings.TrimSpace(n.TickMaxSleep)),
		)
	}

	var oDriver, nDriver, oPath, nPath string
	if oldCfg.Storage != nil {
		oDriver, oPath = strings.TrimSpace(oldCfg.Storage.Driver), strings.TrimSpace(oldCfg.Storage.Path)
	}
	if newCfg.Storage != nil {
		nDriver, nPath = strings.TrimSpace(newCfg.Storage.Driver), strings.TrimSpace(newCfg.Storage.Path)
	}
	if oDriver != nDriver || oPath != nPath {
		out.Sections = append(out.Sections, "storage")
		out.Attrs = append(out.Attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
		)
	}

	out.Calendars = diffNamed(toHashes(oldCfg.Calendars), toHashes(newCfg.Calendars))
	if len(out.Calendars) > 0 {
		out.Sections = append(out.Sections, "calendars")
		out.Attrs = append(out.Attrs, logx.Int("calendars.changed_count", len(out.Calendars)))
	}

	out.Triggers = diffNamed(triggerHashes(oldCfg.Triggers), triggerHashes(newCfg.Triggers))
	if len(out.Triggers) > 0 {
		out.Sections = append(out.Sections, "triggers")
		out.Attrs = append(out.Attrs,
			logx.Int("triggers.changed_count", len(out.Triggers)),
			logx.Int("triggers.count", len(newCfg.Triggers)),
		)
	}

	sort.Strings(out.Sections)
	return out
}

func toHashes[V any](m map[string]V) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		out[k] = hashValue(v)
	}
	return out
}

func triggerHashes(ts []TriggerConfig) map[string]uint64 {
	out := make(map[string]uint64, len(ts))
	for _, t := range ts {
		out[strings.TrimSpace(t.Name)] = hashValue(t)
	}
	return out
}

func diffNamed(oldM, newM map[string]uint64) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := oldM[name]
		n, inNew := newM[name]
		if inOld != inNew || o != n {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func hashValue(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
