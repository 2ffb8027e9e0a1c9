// Package sweeper runs the periodic expiry pass moving success entitlements
// with a passed window to expired.
package sweeper

import (
	"context"
	"time"

	"github.com/fastingvibe/api/internal/clock"
	"github.com/fastingvibe/api/internal/config"
	entitlementdomain "github.com/fastingvibe/api/internal/entitlement/domain"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Log        *zap.Logger
	Clock      clock.Clock
	Tunables   *config.ReconcileConfigHolder
	Reconciler entitlementdomain.Service
}

type Sweeper struct {
	log        *zap.Logger
	clock      clock.Clock
	tunables   *config.ReconcileConfigHolder
	reconciler entitlementdomain.Service

	cancel context.CancelFunc
	done   chan struct{}
}

func New(p Params) *Sweeper {
	s := &Sweeper{
		log:        p.Log.Named("sweeper"),
		clock:      p.Clock,
		tunables:   p.Tunables,
		reconciler: p.Reconciler,
		done:       make(chan struct{}),
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			go s.run(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.cancel()
			select {
			case <-s.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	return s
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	interval := s.tunables.Get().SweepInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	s.log.Info("expiry sweeper started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
			// Pick up hot-reloaded tunables between passes.
			if next := s.tunables.Get().SweepInterval; next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
				s.log.Info("sweep interval updated", zap.Duration("interval", interval))
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	expired, err := s.reconciler.ExpireOverdue(sweepCtx, s.clock.Now())
	if err != nil {
		s.log.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		s.log.Info("expiry sweep done", zap.Int64("expired", expired))
	}
}
