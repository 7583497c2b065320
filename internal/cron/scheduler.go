// Package cron runs the daemon's periodic maintenance: requeue and
// timeout sweeps, roster pruning, and scheduled audit chain
// re-verification.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/swarmctl/internal/dispatch"
	"github.com/basket/swarmctl/internal/roster"
	"github.com/basket/swarmctl/internal/swarm"
)

// cronParser accepts standard 5-field expressions plus descriptors
// like "@every 10m" and "@hourly".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Config holds the dependencies for the scheduler.
type Config struct {
	Manager *dispatch.Manager
	Roster  *roster.Roster
	Logger  *slog.Logger

	// Interval between sweep ticks; defaults to 15 seconds.
	Interval time.Duration

	// HeartbeatTTL prunes agents silent for longer than this; defaults
	// to 2 minutes.
	HeartbeatTTL time.Duration

	// AuditVerifySchedule is a cron expression for chain re-verification
	// and terminal-record archival; defaults to "@every 10m".
	AuditVerifySchedule string
}

// Scheduler ticks at a fixed interval, sweeping task state and firing
// the audit verification schedule when due.
type Scheduler struct {
	manager      *dispatch.Manager
	roster       *roster.Roster
	logger       *slog.Logger
	interval     time.Duration
	heartbeatTTL time.Duration

	verifySched cronlib.Schedule
	nextVerify  time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler with the given config.
func NewScheduler(cfg Config) (*Scheduler, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ttl := cfg.HeartbeatTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	expr := cfg.AuditVerifySchedule
	if expr == "" {
		expr = "@every 10m"
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		manager:      cfg.Manager,
		roster:       cfg.Roster,
		logger:       logger,
		interval:     interval,
		heartbeatTTL: ttl,
		verifySched:  sched,
		nextVerify:   sched.Next(time.Now()),
	}, nil
}

// Start begins the scheduler loop in a background goroutine. The loop
// respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started",
		"interval", s.interval, "heartbeat_ttl", s.heartbeatTTL)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick runs one maintenance pass.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	nowMs := now.UnixMilli()

	if s.roster != nil {
		if removed := s.roster.Prune(nowMs, s.heartbeatTTL.Milliseconds()); len(removed) > 0 {
			s.logger.Info("pruned silent agents", "agents", removed)
		}
	}

	var agents []swarm.AgentHeartbeat
	if s.roster != nil {
		agents = s.roster.Snapshot()
	}
	result := s.manager.Sweep(nowMs, agents)
	if len(result.Requeued)+len(result.Redispatch)+len(result.TimedOut) > 0 {
		s.logger.Info("sweep",
			"requeued", result.Requeued,
			"redispatched", result.Redispatch,
			"timed_out", result.TimedOut)
	}

	if now.Before(s.nextVerify) {
		return
	}
	s.nextVerify = s.verifySched.Next(now)

	report := s.manager.VerifyChain()
	if report.OK {
		s.logger.Info("audit chain verified", "entries", report.Entries)
	}
	archived, err := s.manager.ArchiveTerminal(ctx)
	if err != nil {
		s.logger.Error("archive pass failed", "error", err)
	} else if archived > 0 {
		s.logger.Info("archived terminal tasks", "count", archived)
	}
}

// NextRunTime parses the cron expression and returns the next run time
// after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
