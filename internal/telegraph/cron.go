package telegraph

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	d := time.Until(sched.Next(time.Now()))
	if d < 0 {
		return 0
	}
	return d
}

// runHeartbeat posts the relay status to the owner on the cron schedule
// until ctx is cancelled. It returns immediately when expr is empty or
// does not parse.
func (d *Daemon) runHeartbeat(ctx context.Context, expr string) {
	if expr == "" {
		return
	}
	wait := nextCronDuration(expr)
	if wait <= 0 {
		d.log.Warn().Str("cron", expr).Msg("Heartbeat schedule invalid, disabled")
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.sendHeartbeat(ctx)
			if wait := nextCronDuration(expr); wait > 0 {
				timer.Reset(wait)
			}
		}
	}
}

// sendHeartbeat sends one status report to the owner.
func (d *Daemon) sendHeartbeat(ctx context.Context) {
	rec, err := d.settings.Get(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("Heartbeat: read configuration")
		return
	}
	if err := d.adapter.Send(ctx, OutboundMessage{
		DirectUserID: d.ownerID,
		Text:         FormatStatus(rec),
	}); err != nil {
		d.log.Warn().Err(err).Msg("Heartbeat: send status")
	}
}
