package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/weather-lake/internal/pipeline"
	"github.com/i474232898/weather-lake/internal/store"
)

// Scheduler periodically runs the pipeline for the current date.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    *pipeline.Runner
	history   *store.RunHistory
	interval  time.Duration
	timeout   time.Duration
}

// New creates a new Scheduler.
func New(runner *pipeline.Runner, history *store.RunHistory, interval time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		history:   history,
		interval:  interval,
		timeout:   10 * time.Minute,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		// Config rejects sub-minute intervals; this guards a zero value from
		// direct construction.
		log.Printf("scheduler: interval %s is below one minute, falling back to 24h", s.interval)
		minutes = 24 * 60
	}

	// SingletonMode: a slow run must finish before the next fires, keeping
	// pipeline executions strictly sequential.
	_, err := s.scheduler.Every(minutes).Minutes().SingletonMode().Do(func() {
		log.Println("scheduler: running pipeline")

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		rec := s.runner.Run(ctx, time.Now().UTC())
		s.history.Add(rec)

		log.Printf("scheduler: pipeline run %s finished with %s", rec.ID, rec.StatusName)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
