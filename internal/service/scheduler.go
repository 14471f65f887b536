package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// batchRefresher is the part of MetricsSynchronizer the scheduler drives.
type batchRefresher interface {
	RefreshAll(ctx context.Context, userID string) (*RefreshSummary, error)
}

// SchedulerRun summarizes one pass over every owner of an active account.
type SchedulerRun struct {
	Users    int
	Accounts int
	Updated  int
	Failed   int
}

// Scheduler refreshes every user's active accounts on a fixed interval.
type Scheduler struct {
	store    ownerLister
	sync     batchRefresher
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

type ownerLister interface {
	ListOwnersWithActiveAccounts(ctx context.Context) ([]string, error)
}

// NewScheduler creates a scheduler that runs every interval. Each pass is
// bounded by the interval itself so passes never overlap.
func NewScheduler(owners ownerLister, refresher batchRefresher, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    owners,
		sync:     refresher,
		interval: interval,
		timeout:  interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Calling it more than once is a no-op.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting metrics scheduler", slog.Duration("interval", s.interval))
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("shutting down metrics scheduler")
		close(s.done)
		s.wg.Wait()
	})
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := s.passContext()
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("scheduled refresh failed", slog.String("error", err.Error()))
			}
			cancel()
		}
	}
}

// passContext is cancelled by Stop or when the pass outlives the interval.
func (s *Scheduler) passContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// RunOnce refreshes the accounts of every owner once. A failing user is
// counted and the pass moves on.
func (s *Scheduler) RunOnce(ctx context.Context) (*SchedulerRun, error) {
	owners, err := s.store.ListOwnersWithActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/scheduler: listing owners: %w", persistErr("list account owners", err))
	}

	run := &SchedulerRun{Users: len(owners)}
	for _, userID := range owners {
		if ctx.Err() != nil {
			break
		}
		summary, err := s.sync.RefreshAll(ctx, userID)
		if err != nil {
			run.Failed++
			s.logger.Error("scheduled refresh for user failed",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
			continue
		}
		run.Accounts += summary.TotalAccounts
		run.Updated += summary.UpdatedCount
	}

	s.logger.Info("scheduled refresh finished",
		slog.Int("users", run.Users),
		slog.Int("accounts", run.Accounts),
		slog.Int("updated", run.Updated),
	)
	return run, ctx.Err()
}
