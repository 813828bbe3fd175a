// Package scheduler triggers ranking refresh, feature cache warmup, and
// model retraining at fixed cadences, each job kind guaranteed
// non-overlapping, with a bounded grace period on shutdown.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one named recurring task the scheduler drives.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// JobStatus is one job kind's last-known run state, surfaced through
// Status() for the retraining_status() admin operation.
type JobStatus struct {
	Name        string
	Running     bool
	LastRunAt   time.Time
	LastErr     string
	LastElapsed time.Duration
	NextRun     time.Time
}

// Scheduler runs a fixed set of recurring jobs on independent ticker loops,
// ensuring no job kind ever has two runs in flight at once.
type Scheduler struct {
	log           zerolog.Logger
	rankingEvery  time.Duration
	warmupEvery   time.Duration
	retrainCron   *cron.Schedule
	cadenceFn     func() time.Duration // market-state-aware cadence override for ranking refresh

	rankingJob   Job
	warmupJob    Job
	retrainJob   Job

	stopCh chan struct{}
	wg     sync.WaitGroup

	runningMu sync.Mutex
	running   map[string]bool
	status    map[string]*JobStatus
}

// New builds a Scheduler. cadenceFn, if non-nil, overrides rankingEvery
// per-tick based on current market state; it should return 0 to skip a
// tick entirely (e.g. all configured markets closed).
func New(log zerolog.Logger, rankingEvery, warmupEvery time.Duration, retrainCronSpec string, cadenceFn func() time.Duration) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(retrainCronSpec)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		log:          log.With().Str("component", "scheduler").Logger(),
		rankingEvery: rankingEvery,
		warmupEvery:  warmupEvery,
		retrainCron:  &sched,
		cadenceFn:    cadenceFn,
		stopCh:       make(chan struct{}),
		running:      make(map[string]bool),
		status:       make(map[string]*JobStatus),
	}, nil
}

// SetJobs registers the three recurring job implementations.
func (s *Scheduler) SetJobs(ranking, warmup, retrain Job) {
	s.rankingJob = ranking
	s.warmupJob = warmup
	s.retrainJob = retrain
}

// Start launches all three job loops. Startup triggers an immediate warmup.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.runRankingLoop(ctx)

	s.wg.Add(1)
	go s.runWarmupLoop(ctx)

	s.wg.Add(1)
	go s.runRetrainLoop(ctx)

	s.runOnce(ctx, s.warmupJob)
}

// Stop signals all job loops to exit, giving in-flight jobs up to grace to
// finish before returning.
func (s *Scheduler) Stop(grace time.Duration) {
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		s.log.Warn().Msg("scheduler shutdown grace period exceeded, proceeding anyway")
	}
}

func (s *Scheduler) runRankingLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.rankingEvery
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.cadenceFn != nil {
				next := s.cadenceFn()
				if next == 0 {
					continue // all configured markets closed; skip this tick
				}
				if next != interval {
					interval = next
					ticker.Reset(interval)
				}
			}
			s.runOnce(ctx, s.rankingJob)
		}
	}
}

func (s *Scheduler) runWarmupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.warmupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, s.warmupJob)
		}
	}
}

func (s *Scheduler) runRetrainLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	next := (*s.retrainCron).Next(time.Now())

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Before(next) {
				continue
			}
			s.runOnce(ctx, s.retrainJob)
			next = (*s.retrainCron).Next(now)
		}
	}
}

// runOnce executes job if no run of the same name is currently in flight,
// ensuring non-overlapping execution per job kind.
func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	if job.Run == nil {
		return
	}

	s.runningMu.Lock()
	if s.running[job.Name] {
		s.runningMu.Unlock()
		s.log.Debug().Str("job", job.Name).Msg("skipping tick, previous run still in flight")
		return
	}
	s.running[job.Name] = true
	st := s.statusLocked(job.Name)
	st.Running = true
	s.runningMu.Unlock()

	defer func() {
		s.runningMu.Lock()
		s.running[job.Name] = false
		s.statusLocked(job.Name).Running = false
		s.runningMu.Unlock()
	}()

	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)

	s.runningMu.Lock()
	st = s.statusLocked(job.Name)
	st.LastRunAt = start
	st.LastElapsed = elapsed
	st.NextRun = s.nextRunFor(job.Name, start)
	if err != nil {
		st.LastErr = err.Error()
	} else {
		st.LastErr = ""
	}
	s.runningMu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("job", job.Name).Dur("elapsed", elapsed).Msg("scheduled job failed")
		return
	}
	s.log.Info().Str("job", job.Name).Dur("elapsed", elapsed).Msg("scheduled job completed")
}

// statusLocked returns (creating if necessary) the JobStatus for name.
// Callers must hold runningMu.
func (s *Scheduler) statusLocked(name string) *JobStatus {
	st, ok := s.status[name]
	if !ok {
		st = &JobStatus{Name: name}
		s.status[name] = st
	}
	return st
}

// nextRunFor estimates the next scheduled invocation of job name after from,
// for display purposes only; actual firing still depends on the ticker loops.
func (s *Scheduler) nextRunFor(name string, from time.Time) time.Time {
	switch name {
	case s.rankingJob.Name:
		return from.Add(s.rankingEvery)
	case s.warmupJob.Name:
		return from.Add(s.warmupEvery)
	case s.retrainJob.Name:
		if s.retrainCron != nil {
			return (*s.retrainCron).Next(from)
		}
	}
	return time.Time{}
}

// Status returns a snapshot of every job kind's last-known run state,
// keyed by job name, for the retraining_status() admin operation.
func (s *Scheduler) Status() map[string]JobStatus {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	out := make(map[string]JobStatus, len(s.status))
	for name, st := range s.status {
		out[name] = *st
	}
	return out
}
