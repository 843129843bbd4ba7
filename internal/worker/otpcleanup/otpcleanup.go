// Package otpcleanup periodically clears password reset codes that expired
// without being redeemed.
//
// Expired codes are already rejected when redeemed; this job only keeps
// them from sitting in the store.
package otpcleanup

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is used when Start is given a non-positive interval.
const DefaultInterval = 5 * time.Minute

// Store is the slice of repository.UserRepository the job needs.
type Store interface {
	ClearExpiredOTPs(ctx context.Context, now time.Time) (int64, error)
}

// Job clears expired reset codes.
type Job struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Job.
func New(store Store, logger *slog.Logger) *Job {
	return &Job{store: store, logger: logger, now: time.Now}
}

// Start runs the job once immediately and then on every tick, until ctx is
// cancelled. It blocks; run it in its own goroutine.
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("otp cleanup started", slog.Duration("interval", interval))

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("otp cleanup stopped")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

// RunOnce clears every code that expired before now and reports how many.
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	return j.store.ClearExpiredOTPs(ctx, j.now())
}

func (j *Job) runLogged(ctx context.Context) {
	n, err := j.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		j.logger.Error("otp cleanup failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		j.logger.Info("expired reset codes cleared", slog.Int64("count", n))
	}
}
