package dashboard

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/zulandar/edenbot/internal/creation"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time after now. Returns 0 on parse error.
func nextCronDuration(expr string, now time.Time) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// runPulse logs a summary of in-flight loops every time expr fires, until
// ctx is done.
func runPulse(ctx context.Context, expr string, reg *creation.Registry, logger *zap.Logger) {
	for {
		wait := nextCronDuration(expr, time.Now())
		if wait <= 0 {
			logger.Warn("dashboard: pulse schedule has no next fire time", zap.String("cron", expr))
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		logPulse(reg, logger)
	}
}

func logPulse(reg *creation.Registry, logger *zap.Logger) {
	loops := reg.Snapshot()
	phases := make(map[creation.Phase]int)
	for _, l := range loops {
		phases[l.Phase]++
	}
	logger.Info("dashboard: pulse",
		zap.Int("loops", len(loops)),
		zap.Int("submitted", phases[creation.PhaseSubmitted]),
		zap.Int("polling", phases[creation.PhasePolling]))
}
