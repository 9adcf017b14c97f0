package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler defaults
const (
	DefaultPollSchedule = "@every 30s"
	DefaultBatchSize    = 50
)

// Scheduler polls the orchestrator for due attempts on a cron schedule
type Scheduler struct {
	cron         *cron.Cron
	orchestrator *Orchestrator
	schedule     string
	batchSize    int
	timeout      time.Duration
	log          zerolog.Logger
}

// NewScheduler creates a scheduler; an empty schedule polls every 30 seconds
func NewScheduler(o *Orchestrator, schedule string, batchSize int, log zerolog.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultPollSchedule
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	cronLogger := cron.PrintfLogger(&log)
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:         c,
		orchestrator: o,
		schedule:     schedule,
		batchSize:    batchSize,
		timeout:      5 * time.Minute,
		log:          log,
	}
}

// Start registers the poll job and starts the cron scheduler
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.poll); err != nil {
		return fmt.Errorf("failed to schedule delivery poll %q: %w", s.schedule, err)
	}
	s.log.Info().Str("schedule", s.schedule).Int("batch_size", s.batchSize).Msg("scheduled delivery poll")
	s.cron.Start()
	return nil
}

// Stop stops scheduling; the returned context is done once a running poll finishes
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce processes one batch of due attempts
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	done, err := s.orchestrator.ProcessDue(ctx, s.batchSize)
	return len(done), err
}

func (s *Scheduler) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error().Err(err).Msg("delivery poll failed")
	}
}
