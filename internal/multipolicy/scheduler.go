package multipolicy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/anchor/internal/policy"
)

// PolicySource lists the policies that may need reconciling.
type PolicySource interface {
	PublishedPolicies(ctx context.Context) ([]policy.Policy, error)
}

// ServiceFactory builds the reconciler for one policy.
type ServiceFactory func(policy.Policy) *Service

// Scheduler ticks every synchronized policy on one interval. Each service
// ticks on its own goroutine, so a slow policy only skips its own ticks.
type Scheduler struct {
	source   PolicySource
	factory  ServiceFactory
	interval time.Duration

	mu       sync.Mutex
	services map[string]*Service
	inflight sync.WaitGroup
}

// NewScheduler creates a scheduler. Call Run to start it.
func NewScheduler(source PolicySource, factory ServiceFactory, interval time.Duration) *Scheduler {
	return &Scheduler{
		source:   source,
		factory:  factory,
		interval: interval,
		services: make(map[string]*Service),
	}
}

// Refresh starts services for newly published policies.
func (s *Scheduler) Refresh(ctx context.Context) error {
	policies, err := s.source.PublishedPolicies(ctx)
	if err != nil {
		return fmt.Errorf("list published policies: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range policies {
		if _, ok := s.services[p.ID]; ok {
			continue
		}
		svc := s.factory(p)
		if svc.Start(ctx) {
			s.services[p.ID] = svc
		}
	}
	return nil
}

// Services returns the running services.
func (s *Scheduler) Services() []*Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	return out
}

// TickAll starts one tick per service without waiting for them.
// Ticks run detached from ctx cancellation so they finish cleanly.
func (s *Scheduler) TickAll(ctx context.Context) {
	tickCtx := context.WithoutCancel(ctx)
	for _, svc := range s.Services() {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			_, _ = svc.Tick(tickCtx)
		}()
	}
}

// Run ticks until ctx is done, then waits for in-flight ticks.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "synchronization scheduler running",
		"interval", s.interval,
		"policies", len(s.Services()),
	)
	for {
		select {
		case <-ctx.Done():
			s.Wait()
			return nil
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				slog.WarnContext(ctx, "refresh policies failed", "error", err)
			}
			s.TickAll(ctx)
		}
	}
}

// Wait blocks until every tick started by TickAll has returned.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}
