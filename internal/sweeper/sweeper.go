// Package sweeper purges expired and revoked refresh sessions on a cron schedule.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron"

	"github.com/gogotex/sessionguard/pkg/logger"
	"github.com/gogotex/sessionguard/pkg/metrics"
)

const (
	DefaultSchedule = "@daily"
	DefaultTimeout  = 5 * time.Minute
)

// Purger deletes sessions with expiresAt < now or revoked set.
type Purger interface {
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

type Sweeper struct {
	purger   Purger
	schedule string
	timeout  time.Duration
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New returns a sweeper. An empty schedule means DefaultSchedule; schedules
// use the six-field cron syntax with seconds or a descriptor like @daily.
func New(p Purger, schedule string) *Sweeper {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Sweeper{
		purger:   p,
		schedule: schedule,
		timeout:  DefaultTimeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// RunOnce performs a single pass and runs to completion.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	start := s.now()
	n, err := s.purger.Sweep(ctx, start)
	if err != nil {
		logger.Error().Err(err).Int64("deleted", n).Msg("session sweep failed")
		return n, err
	}
	metrics.SweepDeleted.Add(float64(n))
	logger.Info().Int64("deleted", n).Dur("took", s.now().Sub(start)).Msg("session sweep finished")
	return n, nil
}

// Start schedules RunOnce. It returns an error for an invalid schedule.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}
	c := cron.NewWithLocation(time.UTC)
	err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	logger.Infof("session sweeper scheduled (%s)", s.schedule)
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}
