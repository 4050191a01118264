package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const reapTimeout = 5 * time.Minute

// SessionReaper periodically deletes sessions idle longer than a TTL.
type SessionReaper struct {
	cron     *cron.Cron
	sessions *SessionManager
	ttl      time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewSessionReaper schedules reaping. schedule is a cron expression
// ("*/10 * * * *", "@hourly") or a Go duration ("30m").
func NewSessionReaper(sessions *SessionManager, ttl time.Duration, schedule string, logger *slog.Logger) (*SessionReaper, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("session reaper: ttl must be positive, got %s", ttl)
	}
	sched, err := parseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("session reaper: invalid schedule %q: %w", schedule, err)
	}

	r := &SessionReaper{
		cron:     cron.New(),
		sessions: sessions,
		ttl:      ttl,
		logger:   logger,
	}
	r.cron.Schedule(sched, cron.FuncJob(r.run))
	return r, nil
}

// Start begins running the schedule.
func (r *SessionReaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.cron.Start()
	r.started = true
}

// Stop halts the schedule and waits for a running reap to finish.
func (r *SessionReaper) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.started = false
	r.mu.Unlock()

	<-r.cron.Stop().Done()
}

func (r *SessionReaper) run() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, reapTimeout)
	defer cancel()

	start := time.Now()
	n, err := r.sessions.ReapStale(ctx, r.ttl)
	if err != nil {
		r.logger.Warn("session reap failed", "error", err, "duration", time.Since(start))
		return
	}
	if n > 0 {
		r.logger.Info("stale sessions reaped", "count", n, "ttl", r.ttl, "duration", time.Since(start))
	}
}

// parseSchedule tries to parse a schedule string as a cron expression first,
// then falls back to time.ParseDuration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay(dur), nil
}

// constantDelay is a fixed-interval cron.Schedule that, unlike cron.Every,
// supports sub-second intervals.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}
