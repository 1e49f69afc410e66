package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const scheduledRunTimeout = 10 * time.Minute

// Scheduler runs workflows on their cron schedules. Overlapping runs of the
// same workflow are skipped rather than stacked.
type Scheduler struct {
	engine  *Engine
	cron    *cron.Cron
	logger  *slog.Logger
	entries int
}

func NewScheduler(engine *Engine, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine: engine,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
			cron.Recover(cron.DiscardLogger),
		)),
		logger: logger.With("component", "workflow_scheduler"),
	}
}

// Add schedules every definition that carries a cron expression. Returns
// the number of schedules added.
func (s *Scheduler) Add(defs []*Definition) (int, error) {
	added := 0
	for _, def := range defs {
		if def.Schedule == "" {
			continue
		}
		name := def.Name
		runCtx := def.Context
		_, err := s.cron.AddFunc(def.Schedule, func() {
			s.runScheduled(name, runCtx)
		})
		if err != nil {
			return added, fmt.Errorf("schedule workflow %s: %w", name, err)
		}
		s.logger.Info("workflow scheduled", "workflow", name, "cron", def.Schedule)
		added++
	}
	s.entries += added
	return added, nil
}

func (s *Scheduler) runScheduled(name string, runCtx map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), scheduledRunTimeout)
	defer cancel()

	res, err := s.engine.Run(ctx, name, runCtx)
	if err != nil {
		s.logger.Error("scheduled workflow failed to run", "workflow", name, "error", err)
		return
	}
	if !res.Success {
		s.logger.Warn("scheduled workflow reported failure",
			"workflow", name,
			"steps_executed", len(res.Steps))
	}
}

// Start begins dispatching schedules. Non-blocking.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("workflow scheduler started", "schedules", s.entries)
}

// Stop halts scheduling and waits up to 15 seconds for in-flight runs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(15 * time.Second):
		s.logger.Warn("workflow scheduler shutdown timed out")
	}
}
