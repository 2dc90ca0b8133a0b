// Copyright 2025 James Ross
package plugin

import (
	"context"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronTrigger runs fn on a cron schedule until the runtime shuts down.
// Errors from fn are logged; the schedule keeps firing.
func CronTrigger(name, schedule string, log *zap.Logger, fn func(ctx context.Context) error) Trigger {
	if log == nil {
		log = zap.NewNop()
	}
	return Trigger{
		Name: name,
		Start: func(ctx context.Context) error {
			c := cron.New()
			_, err := c.AddFunc(schedule, func() {
				if err := fn(ctx); err != nil {
					log.Warn("cron trigger run failed",
						zap.String("trigger", name), zap.Error(err))
				}
			})
			if err != nil {
				return err
			}
			c.Start()
			<-ctx.Done()
			stopped := c.Stop()
			<-stopped.Done()
			return nil
		},
	}
}

// IntervalTrigger runs fn every interval. After a failed run the next
// attempt is rescheduled sooner, at a random point between a quarter and
// a half of the interval, so transient upstream errors are retried
// without hammering.
func IntervalTrigger(name string, interval time.Duration, log *zap.Logger, fn func(ctx context.Context) error) Trigger {
	if log == nil {
		log = zap.NewNop()
	}
	return Trigger{
		Name: name,
		Start: func(ctx context.Context) error {
			next := interval
			for {
				timer := time.NewTimer(next)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil
				case <-timer.C:
				}
				if err := fn(ctx); err != nil {
					next = interval/4 + time.Duration(rand.Int63n(int64(interval/4)+1))
					log.Warn("interval trigger run failed, rescheduling sooner",
						zap.String("trigger", name),
						zap.Duration("next", next),
						zap.Error(err))
					continue
				}
				next = interval
			}
		},
	}
}
