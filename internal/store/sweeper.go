package store

import (
	"context"
	"log/slog"
	"time"
)

// SweepTarget names a periodic expiry pass.
type SweepTarget struct {
	Name  string
	Sweep func(ctx context.Context) (int64, error)
}

// RegistryTarget sweeps sessions idle longer than ttl out of reg.
func RegistryTarget(reg SessionRegistry, ttl time.Duration) SweepTarget {
	return SweepTarget{
		Name: "sessions",
		Sweep: func(ctx context.Context) (int64, error) {
			return reg.Prune(ctx, ttl)
		},
	}
}

// StartSweeper runs every target on each tick until ctx is cancelled.
func StartSweeper(ctx context.Context, interval time.Duration, targets ...SweepTarget) {
	if interval <= 0 || len(targets) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Sweeper started", "interval", interval, "targets", len(targets))

		for {
			select {
			case <-ticker.C:
				sweepOnce(ctx, targets)
			case <-ctx.Done():
				slog.Info("Sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepOnce(ctx context.Context, targets []SweepTarget) {
	for _, t := range targets {
		removed, err := t.Sweep(ctx)
		if err != nil {
			slog.Error("Sweeper pass failed", "target", t.Name, "error", err)
			continue
		}
		if removed > 0 {
			slog.Info("Sweeper expired entries", "target", t.Name, "count", removed)
		}
	}
}
