package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one scheduled unit of work.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs on cron schedules. A run still in progress when its
// next tick fires is skipped rather than stacked, and a panicking job is
// logged and recovered.
type Scheduler struct {
	cron   *cron.Cron
	chain  cron.Chain
	logger *zap.Logger

	mu      sync.Mutex
	running map[string]bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// cronLogger feeds robfig/cron's logging into zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{l: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		chain:   cron.NewChain(cron.Recover(cl)),
		logger:  logger,
		running: make(map[string]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Scheduler) Add(job Job) error {
	if job.Timeout <= 0 {
		job.Timeout = 5 * time.Minute
	}
	if _, err := s.cron.AddFunc(job.Schedule, func() { s.RunNow(job) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Schedule, err)
	}
	s.logger.Info("job scheduled", zap.String("job", job.Name), zap.String("schedule", job.Schedule))
	return nil
}

// RunNow executes job once in the caller's goroutine unless it is already
// running. It reports whether the job was started; a run that fails or
// panics still counts.
func (s *Scheduler) RunNow(job Job) (ran bool) {
	s.mu.Lock()
	if s.running[job.Name] {
		s.mu.Unlock()
		s.logger.Warn("previous run still in progress, skipping", zap.String("job", job.Name))
		return false
	}
	s.running[job.Name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, job.Name)
		s.mu.Unlock()
	}()

	if job.Timeout <= 0 {
		job.Timeout = 5 * time.Minute
	}
	ran = true
	s.chain.Then(cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(s.ctx, job.Timeout)
		defer cancel()
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			s.logger.Error("job failed", zap.String("job", job.Name), zap.Duration("took", time.Since(start)), zap.Error(err))
			return
		}
		s.logger.Debug("job finished", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
	})).Run()
	return ran
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// Jobs returns the reconciliation jobs for the given schedules.
func (s *Service) Jobs(reconcileSpec, archiveSpec string) []Job {
	return []Job{
		{
			Name:     "reconcile",
			Schedule: reconcileSpec,
			Run: func(ctx context.Context) error {
				s.RunAll(ctx)
				return nil
			},
		},
		{
			Name:     "archive",
			Schedule: archiveSpec,
			Timeout:  30 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := s.Archive(ctx)
				return err
			},
		},
	}
}
