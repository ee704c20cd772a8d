package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const jobTimeout = 2 * time.Minute

// scheduleJobs registers the periodic expiry sweep and audit log retention.
// An empty spec disables a job.
func (b *Bot) scheduleJobs() error {
	b.jobs = cron.New()
	if spec := b.cfg.Schedule.ExpirySweep; spec != "" {
		if _, err := b.jobs.AddFunc(spec, b.sweepExpiries); err != nil {
			return fmt.Errorf("schedule expiry sweep %q: %w", spec, err)
		}
	}
	if spec := b.cfg.Schedule.AuditCleanup; spec != "" && b.cfg.RetentionDays > 0 {
		if _, err := b.jobs.AddFunc(spec, b.cleanupAudit); err != nil {
			return fmt.Errorf("schedule audit cleanup %q: %w", spec, err)
		}
	}
	return nil
}

func (b *Bot) sweepExpiries() {
	ctx, cancel := context.WithTimeout(b.ctx, jobTimeout)
	defer cancel()
	armed, err := b.expiry.Sweep(ctx)
	if err != nil {
		b.logger.Warn("expiry sweep failed", zap.Error(err))
		return
	}
	if armed > 0 {
		b.logger.Info("expiry sweep armed orphans", zap.Int("armed", armed))
	}
}

func (b *Bot) cleanupAudit() {
	ctx, cancel := context.WithTimeout(b.ctx, jobTimeout)
	defer cancel()
	removed, err := b.store.CleanupAuditLogs(ctx, b.cfg.RetentionDays)
	if err != nil {
		b.logger.Warn("audit cleanup failed", zap.Error(err))
		return
	}
	b.logger.Info("audit cleanup", zap.Int64("removed", removed), zap.Int("retention_days", b.cfg.RetentionDays))
}
