package coordinator

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultMaxStreamAge  = 30 * time.Minute
)

// Janitor periodically removes streams that have outlived their welcome.
// Streams in downloading or converting are exempt regardless of age (the
// registry's older-than listing enforces that), so a slow but healthy stream
// is never reaped.
type Janitor struct {
	coord    *Coordinator
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
}

func NewJanitor(coord *Coordinator, interval, maxAge time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if maxAge <= 0 {
		maxAge = defaultMaxStreamAge
	}
	return &Janitor{coord: coord, interval: interval, maxAge: maxAge, logger: logger}
}

// Run sweeps until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep removes every eligible stream once.
func (j *Janitor) Sweep() {
	stale := j.coord.registry.ListOlderThan(j.maxAge)
	for _, s := range stale {
		j.logger.Info("janitor removing stale stream",
			slog.String("streamId", string(s.ID)),
			slog.String("status", string(s.Status)),
			slog.Time("createdAt", s.CreatedAt),
		)
		j.coord.Cleanup(s.ID)
	}
	if len(stale) > 0 {
		j.logger.Info("janitor sweep complete", slog.Int("removed", len(stale)))
	}
}
