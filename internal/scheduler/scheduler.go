// internal/scheduler/scheduler.go
//
// Package scheduler fires the nightly pre-generation at the configured local
// wall-clock time. Runs missed while the process was down are not replayed;
// the next scheduled run executes normally.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/vansales/stockadvisor/internal/logging"
	"github.com/vansales/stockadvisor/internal/orchestrator"
	"github.com/vansales/stockadvisor/pkg/types"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler owns the cron entry for pre_generate_daily.
type Scheduler struct {
	cron   *cron.Cron
	orch   *orchestrator.Orchestrator
	cfg    *types.Config
	logger logging.AdvisorLogger
}

// New creates the scheduler without starting it.
func New(orch *orchestrator.Orchestrator, cfg *types.Config, logger logging.AdvisorLogger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.Local)),
		orch:   orch,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "scheduler")),
	}
}

// Start registers and starts the daily trigger. No-op when disabled.
func (s *Scheduler) Start() error {
	if !s.cfg.Scheduler.Enabled {
		s.logger.Info("Scheduler disabled")
		return nil
	}

	spec := fmt.Sprintf("%d %d * * *", s.cfg.Scheduler.Minute, s.cfg.Scheduler.Hour)
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return err
	}
	s.cron.Start()

	s.logger.Info("Scheduler started",
		zap.String("spec", spec),
		zap.Strings("routes", s.cfg.Scheduler.Routes),
	)
	return nil
}

// run pre-generates tomorrow for the configured route fleet and sweeps the
// retention window afterwards.
func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Hour)
	defer cancel()

	now := time.Now()
	tomorrow := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	results, err := s.orch.PreGenerateDaily(ctx, tomorrow, s.cfg.Scheduler.Routes)
	if err != nil {
		s.logger.Error("Nightly pre-generation failed", err)
		return
	}

	generated, skipped, failed := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case "generated":
			generated++
		case "skipped":
			skipped++
		default:
			failed++
		}
	}
	s.logger.Info("Nightly pre-generation finished",
		zap.String("date", tomorrow.Format("2006-01-02")),
		zap.Int("generated", generated),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)

	s.orch.CleanupRetention(ctx)
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
