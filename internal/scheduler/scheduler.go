// Package scheduler runs a job function on a fixed interval until stopped.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of periodic work. It must return once ctx is canceled.
type Job func(ctx context.Context)

type Scheduler struct {
	name     string
	interval time.Duration
	job      Job
	log      *zap.Logger

	running  atomic.Bool
	ticks    atomic.Int64
	panics   atomic.Int64
	lastTick atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Status is a point-in-time view for the operator endpoints.
type Status struct {
	Name       string     `json:"name"`
	Running    bool       `json:"running"`
	Interval   string     `json:"interval"`
	Ticks      int64      `json:"ticks"`
	Panics     int64      `json:"panics"`
	LastTickAt *time.Time `json:"lastTickAt,omitempty"`
}

func New(name string, interval time.Duration, job Job, log *zap.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if job == nil {
		return nil, errors.New("job must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		log:      log.With(zap.String("scheduler", name)),
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Name() string { return s.name }

// Start launches the loop with an immediate first tick. It returns false if already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info("scheduler started", zap.Duration("interval", s.interval))

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				s.log.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the loop and waits for an in-flight tick to return.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.log.Info("scheduler stopped", zap.Int64("ticks", s.ticks.Load()))
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	st := Status{
		Name:     s.name,
		Running:  s.running.Load(),
		Interval: s.interval.String(),
		Ticks:    s.ticks.Load(),
		Panics:   s.panics.Load(),
	}
	if ns := s.lastTick.Load(); ns > 0 {
		t := time.Unix(0, ns).UTC()
		st.LastTickAt = &t
	}
	return st
}

func (s *Scheduler) safeTick(ctx context.Context) {
	start := time.Now()
	defer func() {
		s.ticks.Add(1)
		s.lastTick.Store(start.UnixNano())
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.log.Error("scheduler tick panic recovered", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	s.job(ctx)
	s.log.Debug("scheduler tick completed", zap.Int64("duration_ms", time.Since(start).Milliseconds()))
}

// Group controls several schedulers as one unit.
type Group struct {
	schedulers []*Scheduler
}

func NewGroup(s ...*Scheduler) *Group {
	return &Group{schedulers: s}
}

// Start starts every stopped scheduler and reports whether any was started.
func (g *Group) Start() bool {
	started := false
	for _, s := range g.schedulers {
		if s.Start() {
			started = true
		}
	}
	return started
}

// Stop stops every running scheduler and reports whether any was stopped.
func (g *Group) Stop() bool {
	stopped := false
	for _, s := range g.schedulers {
		if s.Stop() {
			stopped = true
		}
	}
	return stopped
}

func (g *Group) IsRunning() bool {
	for _, s := range g.schedulers {
		if s.IsRunning() {
			return true
		}
	}
	return false
}

func (g *Group) Status() []Status {
	out := make([]Status, 0, len(g.schedulers))
	for _, s := range g.schedulers {
		out = append(out, s.Status())
	}
	return out
}
