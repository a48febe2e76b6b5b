package ratelimit

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper runs Limiter.Sweep on the limiter's sweep interval.
type Sweeper struct {
	lim  *Limiter
	cron *cron.Cron

	mu      sync.Mutex
	started bool
}

// NewSweeper schedules periodic sweeps of lim. Call Start to begin.
func NewSweeper(lim *Limiter) (*Sweeper, error) {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", lim.SweepInterval())
	if _, err := c.AddFunc(spec, func() {
		if n := lim.Sweep(); n > 0 {
			log.Debug().Int("evicted", n).Int("tracked", lim.Len()).Msg("ratelimit sweep")
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	return &Sweeper{lim: lim, cron: c}, nil
}

// Start begins sweeping in the background. It is a no-op if already started.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}
