package janitor

import (
	"context"
	"time"

	"github.com/sdko-org/site-gateway/internal/kv"
	"github.com/sdko-org/site-gateway/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Janitor periodically sweeps expired KV entries (login counters) and
// access log rows older than the retention window. Either target may be
// nil.
type Janitor struct {
	log       *logrus.Entry
	purger    kv.Purger
	db        *gorm.DB
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

func New(logger *logrus.Logger, purger kv.Purger, db *gorm.DB, interval, retention time.Duration) *Janitor {
	return &Janitor{
		log:       logger.WithField("component", "janitor"),
		purger:    purger,
		db:        db,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.log.WithField("interval", j.interval).Info("Starting janitor")

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-ctx.Done():
			j.log.Info("Stopping janitor")
			return
		}
	}
}

// RunOnce performs a single sweep. Failures are logged and the next tick
// tries again.
func (j *Janitor) RunOnce(ctx context.Context) {
	log := j.log.WithField("operation", "purge")

	if j.purger != nil {
		n, err := j.purger.PurgeExpired(ctx)
		if err != nil {
			log.WithError(err).Error("KV purge failed")
		} else if n > 0 {
			log.WithField("count", n).Info("Purged expired KV entries")
		}
	}

	if j.db != nil && j.retention > 0 {
		n, err := j.purgeAccessLogs(ctx)
		if err != nil {
			log.WithError(err).Error("Access log purge failed")
		} else if n > 0 {
			log.WithField("count", n).Info("Purged old access logs")
		}
	}
}

func (j *Janitor) purgeAccessLogs(ctx context.Context) (int64, error) {
	res := j.db.WithContext(ctx).
		Where("timestamp < ?", j.now().Add(-j.retention)).
		Delete(&models.AccessLog{})
	return res.RowsAffected, res.Error
}
