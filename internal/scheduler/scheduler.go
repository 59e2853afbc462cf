// Package scheduler drives the periodic poll and digest jobs for the
// news backend on one shared background execution context.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"forgecore/internal/metrics"
)

// PollFunc runs one ingest poll pass.
type PollFunc func(ctx context.Context, reason string, triggeredAt time.Time) error

// AlertsFunc runs one alerts evaluation pass.
type AlertsFunc func(ctx context.Context, triggeredAt time.Time) error

// DigestFunc renders and dispatches one digest of the given type
// ("daily" or "weekly").
type DigestFunc func(ctx context.Context, digestType string, triggeredAt time.Time) error

// Config describes the interval/cron job schedule. A value ≤ 0 for
// either interval disables that job; an empty string disables the
// corresponding cron-like job.
type Config struct {
	PriorityPollMinutes int
	StandardPollHours   int
	DigestDaily         string // "HH:MM"
	DigestWeekly        string // "DOW HH:MM", e.g. "mon 09:00"
	Timezone            string
}

// HealthStatus is an atomic snapshot of the scheduler's run state.
type HealthStatus struct {
	Running        bool
	LastPoll       time.Time
	LastPollReason string
	LastDigests    map[string]time.Time
	NextRuns       map[string]time.Time
	Config         Config
}

const (
	jobPriorityPoll = "priority_poll"
	jobStandardPoll = "standard_poll"
	jobDigestDaily  = "digest_daily"
	jobDigestWeekly = "digest_weekly"
)

var weekdayByPrefix = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// SchedulerConfig configures a new Scheduler.
type SchedulerConfig struct {
	Now           func() time.Time
	IntervalScale float64 // accelerates interval jobs for tests; 0 means 1
	Logger        *slog.Logger
	RunPoll       PollFunc
	RunAlerts     AlertsFunc
	RunDigest     DigestFunc
}

// Scheduler owns the gocron scheduler instance and the jobs registered
// on it, plus the health snapshot describing recent activity.
type Scheduler struct {
	now           func() time.Time
	intervalScale float64
	log           *slog.Logger
	runPoll       PollFunc
	runAlerts     AlertsFunc
	runDigest     DigestFunc

	mu      sync.Mutex
	gs      gocron.Scheduler
	jobs    map[string]gocron.Job
	cfg     Config
	running bool
	health  HealthStatus
}

func New(cfg SchedulerConfig) *Scheduler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	scale := cfg.IntervalScale
	if scale <= 0 {
		scale = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		now:           now,
		intervalScale: scale,
		log:           logger.With("component", "scheduler"),
		runPoll:       cfg.RunPoll,
		runAlerts:     cfg.RunAlerts,
		runDigest:     cfg.RunDigest,
		jobs:          make(map[string]gocron.Job),
		health: HealthStatus{
			LastDigests: make(map[string]time.Time),
			NextRuns:    make(map[string]time.Time),
		},
	}
}

// Start is idempotent: it loads the given config, registers all jobs,
// and marks the scheduler running. Calling it again with the service
// already running is a no-op; use RefreshConfig to change the schedule.
func (s *Scheduler) Start(config Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	gs, err := gocron.NewScheduler(
		gocron.WithLimitConcurrentJobs(1, gocron.LimitModeWait),
	)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	s.gs = gs
	s.cfg = config
	s.health.Config = config

	if err := s.registerJobsLocked(); err != nil {
		gs.Shutdown()
		return err
	}

	gs.Start()
	s.running = true
	s.health.Running = true
	metrics.SetSchedulerRunning(true)
	s.log.Info("scheduler started")
	return nil
}

// Stop cancels all pending firings and joins the background worker
// within a short timeout. Calling Stop when not running is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	err := s.gs.Shutdown()
	s.jobs = make(map[string]gocron.Job)
	s.health.NextRuns = make(map[string]time.Time)
	s.running = false
	s.health.Running = false
	metrics.SetSchedulerRunning(false)
	s.log.Info("scheduler stopped")
	return err
}

// RefreshConfig atomically cancels and re-registers jobs if running;
// otherwise it just updates the cached config for the next Start.
func (s *Scheduler) RefreshConfig(config Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = config
	s.health.Config = config
	if !s.running {
		return nil
	}

	for name, j := range s.jobs {
		if err := s.gs.RemoveJob(j.ID()); err != nil {
			s.log.Warn("failed to remove job during refresh", "name", name, "error", err)
		}
	}
	s.jobs = make(map[string]gocron.Job)
	s.health.NextRuns = make(map[string]time.Time)

	return s.registerJobsLocked()
}

// registerJobsLocked must be called with s.mu held.
func (s *Scheduler) registerJobsLocked() error {
	if s.cfg.PriorityPollMinutes > 0 {
		interval := scaledInterval(time.Duration(s.cfg.PriorityPollMinutes)*time.Minute, s.intervalScale)
		if err := s.addIntervalJobLocked(jobPriorityPoll, interval, func() {
			s.runPollJob("priority_poll")
		}); err != nil {
			return err
		}
	}
	if s.cfg.StandardPollHours > 0 {
		interval := scaledInterval(time.Duration(s.cfg.StandardPollHours)*time.Hour, s.intervalScale)
		if err := s.addIntervalJobLocked(jobStandardPoll, interval, func() {
			s.runPollJob("standard_poll")
		}); err != nil {
			return err
		}
	}
	if s.cfg.DigestDaily != "" {
		cronExpr, err := dailyCron(s.cfg.DigestDaily)
		if err != nil {
			return fmt.Errorf("digest_daily schedule: %w", err)
		}
		if err := s.addCronJobLocked(jobDigestDaily, cronExpr, func() {
			s.runDigestJob("daily")
		}); err != nil {
			return err
		}
	}
	if s.cfg.DigestWeekly != "" {
		cronExpr, err := weeklyCron(s.cfg.DigestWeekly)
		if err != nil {
			return fmt.Errorf("digest_weekly schedule: %w", err)
		}
		if err := s.addCronJobLocked(jobDigestWeekly, cronExpr, func() {
			s.runDigestJob("weekly")
		}); err != nil {
			return err
		}
	}
	return nil
}

func scaledInterval(base time.Duration, scale float64) time.Duration {
	if scale == 1 {
		return base
	}
	scaled := time.Duration(float64(base) / scale)
	if scaled < time.Millisecond {
		scaled = time.Millisecond
	}
	return scaled
}

func (s *Scheduler) addIntervalJobLocked(name string, interval time.Duration, fn func()) error {
	j, err := s.gs.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeWait),
	)
	if err != nil {
		return fmt.Errorf("register job %s: %w", name, err)
	}
	s.jobs[name] = j
	return nil
}

func (s *Scheduler) addCronJobLocked(name, cronExpr string, fn func()) error {
	j, err := s.gs.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeWait),
	)
	if err != nil {
		return fmt.Errorf("register job %s: %w", name, err)
	}
	s.jobs[name] = j
	return nil
}

// dailyCron converts "HH:MM" into a 5-field cron expression firing
// once a day at that time.
func dailyCron(hhmm string) (string, error) {
	hour, minute, err := parseHHMM(hhmm)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// weeklyCron converts "DOW HH:MM" (DOW a case-insensitive 3-letter-or-
// longer weekday prefix) into a 5-field cron expression.
func weeklyCron(spec string) (string, error) {
	fields := strings.Fields(spec)
	if len(fields) != 2 {
		return "", fmt.Errorf("expected \"dow HH:MM\", got %q", spec)
	}
	dow, err := parseWeekday(fields[0])
	if err != nil {
		return "", err
	}
	hour, minute, err := parseHHMM(fields[1])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * %d", minute, hour, int(dow)), nil
}

func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, fmt.Errorf("invalid weekday %q", s)
	}
	if dow, ok := weekdayByPrefix[s[:3]]; ok {
		return dow, nil
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	if _, err := fmt.Sscanf(parts[0], "%d", &hour); err != nil {
		return 0, 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time out of range: %q", s)
	}
	return hour, minute, nil
}

func (s *Scheduler) runPollJob(reason string) {
	if s.runPoll == nil {
		return
	}
	triggeredAt := s.now()
	ctx := context.Background()
	if err := s.runPoll(ctx, reason, triggeredAt); err != nil {
		s.log.Warn("scheduled poll failed", "reason", reason, "error", err)
	}
	if s.runAlerts != nil {
		if err := s.runAlerts(ctx, triggeredAt); err != nil {
			s.log.Warn("scheduled alerts run failed", "error", err)
		}
	}

	s.mu.Lock()
	s.health.LastPoll = triggeredAt
	s.health.LastPollReason = reason
	s.mu.Unlock()
}

func (s *Scheduler) runDigestJob(digestType string) {
	if s.runDigest == nil {
		return
	}
	triggeredAt := s.now()
	if err := s.runDigest(context.Background(), digestType, triggeredAt); err != nil {
		s.log.Warn("scheduled digest failed", "type", digestType, "error", err)
		return
	}

	s.mu.Lock()
	s.health.LastDigests[digestType] = triggeredAt
	s.mu.Unlock()
}

// TriggerPoll submits an immediate poll (plus alerts) run and returns
// right away; the run executes on the scheduler's background worker.
func (s *Scheduler) TriggerPoll(reason string) (time.Time, error) {
	triggeredAt := s.now()
	s.mu.Lock()
	running := s.running
	gs := s.gs
	s.mu.Unlock()
	if !running {
		return time.Time{}, fmt.Errorf("scheduler not running")
	}
	_, err := gs.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(func() { s.runPollJob(reason) }),
		gocron.WithName("manual_poll_"+reason),
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("submit manual poll: %w", err)
	}
	return triggeredAt, nil
}

// TriggerDigest submits an immediate digest run and returns right away.
func (s *Scheduler) TriggerDigest(digestType string) (time.Time, error) {
	triggeredAt := s.now()
	s.mu.Lock()
	running := s.running
	gs := s.gs
	s.mu.Unlock()
	if !running {
		return time.Time{}, fmt.Errorf("scheduler not running")
	}
	_, err := gs.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(func() { s.runDigestJob(digestType) }),
		gocron.WithName("manual_digest_"+digestType),
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("submit manual digest: %w", err)
	}
	return triggeredAt, nil
}

// HealthSnapshot returns a read-consistent copy of the scheduler's
// run state, including the next-run time for every registered job.
func (s *Scheduler) HealthSnapshot() HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextRuns := make(map[string]time.Time, len(s.jobs))
	for name, j := range s.jobs {
		if nr, err := j.NextRun(); err == nil {
			nextRuns[name] = nr
		}
	}

	lastDigests := make(map[string]time.Time, len(s.health.LastDigests))
	for k, v := range s.health.LastDigests {
		lastDigests[k] = v
	}

	return HealthStatus{
		Running:        s.running,
		LastPoll:       s.health.LastPoll,
		LastPollReason: s.health.LastPollReason,
		LastDigests:    lastDigests,
		NextRuns:       nextRuns,
		Config:         s.cfg,
	}
}
