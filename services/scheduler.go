package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

type SchedulerConfig struct {
	QueueRescanInterval time.Duration
	IdleCheckInterval   time.Duration
}

// Scheduler runs the periodic queue rescan and idle session sweep.
type Scheduler struct {
	sched       gocron.Scheduler
	matchmaking *MatchmakingService
	sync        *SyncService
	logger      *slog.Logger
}

func NewScheduler(matchmaking *MatchmakingService, sync *SyncService, cfg SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	if cfg.QueueRescanInterval <= 0 {
		cfg.QueueRescanInterval = 5 * time.Second
	}
	if cfg.IdleCheckInterval <= 0 {
		cfg.IdleCheckInterval = 5 * time.Second
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s := &Scheduler{sched: sched, matchmaking: matchmaking, sync: sync, logger: logger}

	_, err = sched.NewJob(
		gocron.DurationJob(cfg.QueueRescanInterval),
		gocron.NewTask(s.rescanQueue),
		gocron.WithName("queue-rescan"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule queue rescan: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(cfg.IdleCheckInterval),
		gocron.NewTask(s.expireIdle),
		gocron.WithName("idle-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule idle sweep: %w", err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

func (s *Scheduler) rescanQueue() {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if paired := s.matchmaking.Rescan(ctx); paired > 0 {
		s.logger.Info("queue rescan paired players", slog.Int("matches", paired))
	}
}

func (s *Scheduler) expireIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if expired := s.sync.ExpireIdle(ctx); expired > 0 {
		s.logger.Info("idle matches expired", slog.Int("matches", expired))
	}
}
