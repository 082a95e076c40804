package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/heat-island-pipeline/internal/log"
	"github.com/i474232898/heat-island-pipeline/internal/pipeline"
)

// DefaultCron runs the pipeline daily at 06:00 UTC.
const DefaultCron = "0 6 * * *"

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.Report
}

// Scheduler triggers the pipeline on a cron schedule. Runs never overlap.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	cron      string
	daysBack  int
}

// New creates a new Scheduler.
func New(cron string, daysBack int, runner Runner) *Scheduler {
	if cron == "" {
		cron = DefaultCron
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		cron:      cron,
		daysBack:  daysBack,
	}
}

// Start schedules the pipeline job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Cron(s.cron).Do(s.runOnce)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	log.Infof("scheduler: pipeline scheduled with cron %q", s.cron)
	return nil
}

func (s *Scheduler) runOnce() {
	log.Info("scheduler: running pipeline job")

	report := s.runner.Run(context.Background(), pipeline.Request{DaysBack: s.daysBack})
	if err := report.Err(); err != nil {
		log.Warnf("scheduler: pipeline run %s finished with status %s: %v", report.RunID, report.Status, err)
		return
	}
	log.Infof("scheduler: pipeline run %s loaded %d records", report.RunID, report.TotalRecords)
}

// NextRun returns when the pipeline runs next. It is zero before Start.
func (s *Scheduler) NextRun() time.Time {
	_, next := s.scheduler.NextRun()
	return next
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
