package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"
)

// ValidateCron reports whether expr is a usable schedule.
func ValidateCron(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}

// Scheduler runs a job on a cron schedule. A tick that arrives while the
// previous run is still going is skipped.
type Scheduler struct {
	job     func(ctx context.Context)
	next    func(now time.Time) (time.Time, error)
	now     func() time.Time
	log     zerolog.Logger
	expr    string
	runs    sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewScheduler(expr string, job func(ctx context.Context), log zerolog.Logger) (*Scheduler, error) {
	if err := ValidateCron(expr); err != nil {
		return nil, err
	}
	return &Scheduler{
		job:  job,
		expr: expr,
		now:  time.Now,
		log:  log.With().Str("component", "reconcile-scheduler").Logger(),
		next: func(now time.Time) (time.Time, error) {
			return gronx.NextTickAfter(expr, now, false)
		},
	}, nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return s.next(t)
}

// Start blocks, running the job at every tick until ctx is done. It
// returns only after the last started run has finished.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().Str("cron", s.expr).Msg("reconcile schedule enabled")
	defer s.runs.Wait()
	for {
		next, err := s.next(s.now())
		if err != nil {
			s.log.Error().Err(err).Str("cron", s.expr).Msg("next tick")
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := next.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		select {
		case <-time.After(wait):
			s.runs.Add(1)
			go func() {
				defer s.runs.Done()
				s.run(ctx)
			}()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Debug().Msg("previous run still active, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	s.job(ctx)
}
