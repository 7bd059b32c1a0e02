package scheduler

import (
	"sort"
	"strings"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]TriggerInfo, 0, len(s.entries))
	for _, e := range s.entries {
		items = append(items, infoLocked(e))
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Next.IsZero() != b.Next.IsZero() {
			return b.Next.IsZero()
		}
		if !a.Next.Equal(b.Next) {
			return a.Next.Before(b.Next)
		}
		return a.Name < b.Name
	})
	return Snapshot{
		Timezone:           s.loc.String(),
		MisfireThreshold:   s.cfg.MisfireThreshold,
		MisfiresSuppressed: s.misfires.suppressed.Load(),
		Triggers:           items,
	}
}

// Info returns the view of one scheduled trigger.
func (s *Service) Info(name string) (TriggerInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[strings.TrimSpace(name)]
	if !ok {
		return TriggerInfo{}, false
	}
	return infoLocked(e), true
}

func infoLocked(e *entry) TriggerInfo {
	t := e.trigger()
	it := TriggerInfo{
		ID:             e.def.ID,
		Name:           e.def.Name,
		Job:            e.def.Job,
		Calendar:       e.def.Calendar,
		Interval:       t.RepeatInterval(),
		Unit:           t.RepeatIntervalUnit(),
		Misfire:        t.MisfireInstruction(),
		TimesTriggered: t.TimesTriggered(),
	}
	it.Next, _ = t.NextFireTime()
	it.Previous, _ = t.PreviousFireTime()
	it.Final, _ = t.FinalFireTime()
	return it
}
