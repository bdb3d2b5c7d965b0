package utils

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Purger deletes expired rows and reports how many went.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// StartPurgeJob schedules p on spec (cron syntax or "@every 10m"). The returned
// cron is already running; Stop it on shutdown. Overlapping runs are skipped.
func StartPurgeJob(spec string, name string, p Purger, timeout time.Duration) (*cron.Cron, error) {
	if timeout <= 0 {
		timeout = time.Minute
	}
	log := Logger.Named("cron")
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		n, err := p.Purge(ctx)
		if err != nil {
			log.Warn("purge failed", zap.String("job", name), zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("purged expired rows", zap.String("job", name), zap.Int64("rows", n))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
