package scheduler

import (
	"context"
	"fmt"
	"kis_trader/internal/modules/config"
	"kis_trader/pkg/calendar"
	"kis_trader/pkg/logger"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job runs once a day at Hour:Minute local time, on business days only.
type Job struct {
	Name   string
	Hour   int
	Minute int
	Run    func(ctx context.Context) error
}

// At builds a Job from an "HH:MM" clock.
func At(name, clock string, run func(ctx context.Context) error) (Job, error) {
	h, m, err := config.ParseClock(clock)
	if err != nil {
		return Job{}, fmt.Errorf("job %s: %w", name, err)
	}
	return Job{Name: name, Hour: h, Minute: m, Run: run}, nil
}

type Scheduler struct {
	cal  *calendar.Calendar
	jobs []Job

	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
}

func New(cal *calendar.Calendar, jobs ...Job) *Scheduler {
	return &Scheduler{
		cal:   cal,
		jobs:  jobs,
		now:   time.Now,
		after: time.After,
	}
}

func (s *Scheduler) Jobs() []Job { return s.jobs }

// Run blocks until ctx is done. Every job has its own loop; a failing or panicking
// run is logged and the job fires again on its next business day.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.jobs {
		job := job
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	for {
		next := s.NextRun(s.now(), job)
		logger.Info("[SCHED] %s next run %s", job.Name, next.Format(time.DateTime))

		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(s.now())):
		}

		s.runOnce(ctx, job)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[SCHED] %s panic: %v\n%s", job.Name, r, debug.Stack())
		}
	}()

	if err := job.Run(ctx); err != nil {
		logger.Error("[SCHED] %s failed after %s: %v", job.Name, s.now().Sub(start), err)
		return
	}
	logger.Info("[SCHED] %s done in %s", job.Name, s.now().Sub(start))
}

// NextRun is the first business-day occurrence of the job's clock strictly after now.
func (s *Scheduler) NextRun(now time.Time, job Job) time.Time {
	local := now.In(s.cal.Location())
	day := calendar.Day(local)
	for {
		at := time.Date(day.Year(), day.Month(), day.Day(), job.Hour, job.Minute, 0, 0, day.Location())
		if at.After(local) && s.cal.IsBusinessDay(at) {
			return at
		}
		day = day.AddDate(0, 0, 1)
	}
}
