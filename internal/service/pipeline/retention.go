package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

type RetentionStore interface {
	DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error)
	Vacuum(ctx context.Context) error
}

// Prune removes ticks stored more than retentionDays before now, then
// compacts the store. A non-positive retention keeps everything.
func Prune(ctx context.Context, store RetentionStore, retentionDays int, now time.Time) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := now.AddDate(0, 0, -retentionDays).UnixMilli()
	deleted, err := store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: prune ticks: %w", ErrStorage, err)
	}

	if deleted > 0 {
		if err := store.Vacuum(ctx); err != nil {
			return deleted, fmt.Errorf("%w: vacuum: %w", ErrStorage, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"deleted":        deleted,
		"retention_days": retentionDays,
	}).Info("tick retention applied")

	return deleted, nil
}

// StartRetention runs Prune every interval until ctx is done.
func StartRetention(ctx context.Context, store RetentionStore, retentionDays int, interval time.Duration) {
	if store == nil || retentionDays <= 0 || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if _, err := Prune(ctx, store, retentionDays, now); err != nil {
					logrus.Errorf("tick retention failed: %v", err)
				}
			}
		}
	}()
}
