package scheduler

import (
	"sync/atomic"

	"calsched/internal/task/trigger"
	logx "calsched/pkg/logx"

	"golang.org/x/time/rate"
)

// misfireReporter throttles misfire warnings. A clock jump or a long outage
// misfires every trigger at once; one warning per second is enough to notice.
type misfireReporter struct {
	lim        *rate.Limiter
	suppressed atomic.Uint64
}

func newMisfireReporter(perSec int) *misfireReporter {
	if perSec <= 0 {
		perSec = 1
	}
	return &misfireReporter{lim: rate.NewLimiter(rate.Limit(perSec), perSec)}
}

func (s *Service) reportMisfire(name string, policy trigger.MisfireInstruction, info MisfireInfo, mayFire bool) {
	fields := []logx.Field{
		logx.String("trigger", name),
		logx.String("policy", policy.String()),
		logx.Time("scheduled", info.ScheduledTime),
		logx.Duration("late", info.Late),
	}
	if mayFire {
		fields = append(fields, logx.Time("next", info.NextFireTime))
	} else {
		fields = append(fields, logx.Bool("exhausted", true))
	}

	if !s.misfires.lim.Allow() {
		s.misfires.suppressed.Add(1)
		s.log.Debug("trigger misfired", fields...)
		return
	}
	if n := s.misfires.suppressed.Swap(0); n > 0 {
		fields = append(fields, logx.Uint64("suppressed", n))
	}
	s.log.Warn("trigger misfired", fields...)
}
