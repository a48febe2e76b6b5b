// Package ratelimit implements a process-local fixed-window request limiter
// keyed by client identity.
//
// Each identity owns at most one window. The first request after a window
// has ended opens a fresh one with count=1; later requests in the same window
// increment the count and are admitted while count <= MaxRequests. Expired
// windows are removed by an explicit Sweep, normally driven by a Sweeper, so
// memory is bounded by the number of recently active identities.
//
// State is volatile and per process. It is not shared across replicas.
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Defaults used when a Config field is zero.
const (
	DefaultWindow        = 60 * time.Second
	DefaultMaxRequests   = 5
	DefaultSweepInterval = 300 * time.Second
)

var (
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Admission decisions made by the rate limiter.",
		},
		[]string{"decision"},
	)

	windowsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_windows",
			Help: "Number of client windows currently tracked.",
		},
	)
)

func init() {
	prometheus.MustRegister(decisions, windowsGauge)
}

// Config holds the limiter's tunables.
type Config struct {
	Window        time.Duration
	MaxRequests   int
	SweepInterval time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Decision is the outcome of Admit. Limit, Remaining and ResetAt are always
// populated so callers can surface them as response headers.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfterSeconds is set only when Allowed is false.
	RetryAfterSeconds int
}

// ErrRateLimited is the cause recorded for a denied request.
var ErrRateLimited = errors.New("rate limited")

// Err returns nil for an admitted request and an ErrRateLimited carrying the
// retry delay otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: retry after %ds", ErrRateLimited, d.RetryAfterSeconds)
}

type window struct {
	count int
	start time.Time
	end   time.Time
}

// Limiter is safe for concurrent use.
type Limiter struct {
	window time.Duration
	max    int
	sweep  time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// New builds a Limiter, filling zero fields of cfg with defaults.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		window:  cfg.Window,
		max:     cfg.MaxRequests,
		sweep:   cfg.SweepInterval,
		now:     cfg.Now,
		windows: make(map[string]*window),
	}
}

// Limit returns the configured maximum requests per window.
func (l *Limiter) Limit() int { return l.max }

// SweepInterval returns how often expired windows should be swept.
func (l *Limiter) SweepInterval() time.Duration { return l.sweep }

// Admit records one request for identity and decides whether it may proceed.
// It never blocks on I/O and never fails.
func (l *Limiter) Admit(identity string) Decision {
	if identity == "" {
		identity = UnknownIdentity
	}
	now := l.now()

	l.mu.Lock()
	w, ok := l.windows[identity]
	if !ok || now.After(w.end) {
		w = &window{count: 1, start: now, end: now.Add(l.window)}
		l.windows[identity] = w
	} else {
		w.count++
	}
	count, end := w.count, w.end
	tracked := len(l.windows)
	l.mu.Unlock()

	windowsGauge.Set(float64(tracked))

	d := Decision{
		Allowed:   count <= l.max,
		Limit:     l.max,
		Remaining: max(0, l.max-count),
		ResetAt:   end,
	}
	if d.Allowed {
		decisions.WithLabelValues("allowed").Inc()
		return d
	}

	d.RetryAfterSeconds = int(math.Ceil(end.Sub(now).Seconds()))
	if d.RetryAfterSeconds < 1 {
		d.RetryAfterSeconds = 1
	}
	decisions.WithLabelValues("denied").Inc()
	return d
}

// Sweep removes every window whose end has passed and returns how many were
// removed.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	removed := 0
	for id, w := range l.windows {
		if now.After(w.end) {
			delete(l.windows, id)
			removed++
		}
	}
	tracked := len(l.windows)
	l.mu.Unlock()

	windowsGauge.Set(float64(tracked))
	return removed
}

// Len reports how many identities currently have a window.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
