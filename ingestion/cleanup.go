package ingestion

import (
	"context"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"github.com/fabfab/fundlens/logging"
)

const cleanupRunTimeout = 5 * time.Minute

// Cleanup periodically removes expired temporary sources.
type Cleanup struct {
	processor *Processor
	ttl       time.Duration
	cron      *cron.Cron
	logger    *log.Logger
}

func NewCleanup(processor *Processor, ttl time.Duration, logger *log.Logger) *Cleanup {
	return &Cleanup{
		processor: processor,
		ttl:       ttl,
		cron:      cron.New(),
		logger:    logging.OrDefault(logger),
	}
}

// Start schedules the cleanup with a standard cron spec or a descriptor
// such as "@hourly".
func (c *Cleanup) Start(schedule string) error {
	if schedule == "" {
		schedule = "@hourly"
	}
	if _, err := c.cron.AddFunc(schedule, c.RunOnce); err != nil {
		return err
	}
	c.cron.Start()
	c.logger.Info().Str("schedule", schedule).Dur("ttl", c.ttl).Msg("temporary source cleanup scheduled")
	return nil
}

// Stop waits for a running cleanup to finish.
func (c *Cleanup) Stop() {
	<-c.cron.Stop().Done()
}

func (c *Cleanup) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupRunTimeout)
	defer cancel()

	n, err := c.processor.CleanupTemporary(ctx, c.ttl)
	if err != nil {
		c.logger.Error().Err(err).Int("removed", n).Msg("temporary source cleanup failed")
		return
	}
	if n > 0 {
		c.logger.Info().Int("removed", n).Msg("removed expired temporary sources")
	}
}
