// Package maintenance runs the periodic decay sweep over stored profiles.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/twin/internal/persona"
)

// Refresher lists profiles and runs the decay pass on one of them.
// Implemented by pipeline.Pipeline.
type Refresher interface {
	ProfileIDs(ctx context.Context) ([]string, error)
	Refresh(ctx context.Context, id string) (persona.Profile, error)
}

// Sweeper refreshes every profile on a fixed interval so memories and traits
// fade even for users who never log in.
type Sweeper struct {
	target      Refresher
	interval    time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewSweeper creates a Sweeper. If interval is <= 0 it defaults to one hour;
// if concurrency is <= 0 it defaults to 4.
func NewSweeper(target Refresher, interval time.Duration, concurrency int) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Sweeper{
		target:      target,
		interval:    interval,
		concurrency: concurrency,
		logger:      slog.Default(),
	}
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := s.RunOnce(ctx)
		if err != nil {
			s.logger.Error("decay sweep failed", "error", err)
			continue
		}
		s.logger.Debug("decay sweep complete", "profiles", n)
	}
}

// RunOnce refreshes every profile with bounded concurrency and returns how
// many succeeded. A failing profile is logged and skipped.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ids, err := s.target.ProfileIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing profiles: %w", err)
	}

	var refreshed atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			if _, err := s.target.Refresh(gCtx, id); err != nil {
				s.logger.Warn("profile refresh failed", "profile_id", id, "error", err)
				return nil
			}
			refreshed.Add(1)
			return nil
		})
	}

	err = g.Wait()
	return int(refreshed.Load()), err
}
