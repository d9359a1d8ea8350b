package pharmadesk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

const jobTimeout = 2 * time.Minute

// cronLogger routes the scheduler's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(fmt.Sprintf("%s: %v", msg, err), keysAndValues...)
}

// Scheduler runs the periodic maintenance jobs.
type Scheduler struct {
	cron    *cron.Cron
	context context.Context
	logger  *slog.Logger
}

func NewScheduler(ctx context.Context, logger *slog.Logger) *Scheduler {
	l := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		context: ctx,
		logger:  logger,
	}
}

// Add schedules job under spec. An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, job func(ctx context.Context) error) error {
	if spec == "" {
		s.logger.Info(fmt.Sprintf("job %s disabled", name))
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(s.context, jobTimeout)
		defer cancel()

		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Error(fmt.Sprintf("job %s: %v", name, err))
			return
		}
		s.logger.Debug(fmt.Sprintf("job %s finished in %s", name, time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("schedule %s(%q): %w", name, spec, err)
	}
	return nil
}

// Len is the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
