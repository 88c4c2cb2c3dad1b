package executor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CrossChainRunner runs one cross-chain settlement cycle.
type CrossChainRunner interface {
	RunOnce(ctx context.Context) error
}

// Scheduler drives one loop per network plus the cross-chain loop, each on its own ticker.
// Every loop runs once immediately.
type Scheduler struct {
	interval   time.Duration
	controller *Controller
	networks   []*Network
	crossChain CrossChainRunner
	logger     *zap.Logger
}

func NewScheduler(interval time.Duration, controller *Controller, networks []*Network, crossChain CrossChainRunner, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		interval:   interval,
		controller: controller,
		networks:   networks,
		crossChain: crossChain,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, net := range s.networks {
		net := net
		g.Go(func() error {
			s.loop(gctx, "network "+net.Name, func(ctx context.Context) error {
				_, err := s.controller.RunOnce(ctx, net)
				return err
			})
			return nil
		})
	}
	if s.crossChain != nil {
		g.Go(func() error {
			s.loop(gctx, "cross-chain", s.crossChain.RunOnce)
			return nil
		})
	}

	s.logger.Info("Executor scheduler started", zap.Int("networks", len(s.networks)), zap.Duration("interval", s.interval))
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, cycle func(context.Context) error) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := cycle(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Cycle failed", zap.String("loop", name), zap.Error(err))
		}

		// A tick that fired during an overrunning cycle is dropped so the next cycle still
		// waits a fresh tick.
		select {
		case <-ticker.C:
		default:
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Loop stopped", zap.String("loop", name))
			return
		case <-ticker.C:
		}
	}
}
