package app

import (
	"context"
	"time"

	"github.com/campuslink/core/internal/config"
	"github.com/campuslink/core/internal/models"
	"github.com/campuslink/core/internal/modules/revocation"
	pkgcron "github.com/campuslink/core/internal/pkg/cron"
	"gorm.io/gorm"
)

const (
	jobRevocationSweep = "revocation_sweep"
	jobSessionCleanup  = "session_cleanup"

	sessionCleanupInterval = time.Hour
)

// registerCronJobs registers the scheduled maintenance jobs.
func registerCronJobs(sched *pkgcron.Scheduler, db *gorm.DB, revocations revocation.Store, cfg *config.AppConfig) error {
	// Redis expires its own keys; only the in-process store needs a sweep.
	if mem, ok := revocations.(*revocation.MemoryStore); ok {
		if err := sched.Register(pkgcron.Job{
			Name:     jobRevocationSweep,
			Interval: cfg.Revocation.SweepInterval,
			Fn: func(ctx context.Context) error {
				mem.Sweep(time.Now())
				return nil
			},
		}); err != nil {
			return err
		}
	}

	return sched.Register(pkgcron.Job{
		Name:     jobSessionCleanup,
		Interval: sessionCleanupInterval,
		Fn: func(ctx context.Context) error {
			return db.WithContext(ctx).
				Where("expires_at < ?", time.Now().UTC()).
				Delete(&models.UserSession{}).Error
		},
	})
}
