package idempotency

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// StartSweeper schedules periodic expired-record sweeps. Lazy eviction on
// read keeps the store correct without it; the sweep only bounds file/table
// growth. Returns nil when spec is empty (sweeping disabled).
func StartSweeper(spec string, store Store, log zerolog.Logger) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		removed, err := store.Sweep(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("idempotency sweep failed")
			return
		}
		if removed > 0 {
			log.Info().Int64("removed", removed).Msg("swept expired idempotency records")
		}
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	return c, nil
}
