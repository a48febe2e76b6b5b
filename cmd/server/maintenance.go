package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-stream/internal/repo"
)

const maintenanceInterval = 10 * time.Minute

// newMaintenance schedules purging of expired idempotency records.
func newMaintenance(db *gorm.DB, every time.Duration) (*cron.Cron, error) {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", every)
	if _, err := c.AddFunc(spec, func() { purgeIdempotency(context.Background(), db, time.Now().UTC()) }); err != nil {
		return nil, fmt.Errorf("schedule purge %q: %w", spec, err)
	}
	return c, nil
}

func purgeIdempotency(ctx context.Context, db *gorm.DB, now time.Time) int64 {
	n, err := repo.PurgeExpiredIdempotency(ctx, db, now)
	if err != nil {
		log.Warn().Err(err).Msg("idempotency purge failed")
		return 0
	}
	if n > 0 {
		log.Debug().Int64("purged", n).Msg("idempotency purge")
	}
	return n
}
