// Package scheduler paces the renewal cycles of a long running agent.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/appleparan/dimension-bridge/pkg/cert_agent/lifecycle"
	"github.com/appleparan/dimension-bridge/pkg/cert_agent/model"
)

type CycleRunner interface {
	RunCycle(ctx context.Context) lifecycle.CycleResult
}

type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
}

func NewScheduler(runner CycleRunner, interval time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
	}
}

// Run executes one cycle immediately and then keeps a fixed cadence anchored
// at the first cycle's start. A slow cycle never pushes later ticks back; if
// a cycle overruns one or more intervals, the schedule skips to the next
// boundary instead of firing a burst of catch up ticks. Run returns nil when
// the context is cancelled and an error only when a rollback failure leaves
// the certificate material in a state the agent cannot repair.
func (s *Scheduler) Run(ctx context.Context) error {
	logrus.Infof("renewal scheduler is now running, checking every %s", s.interval)

	next := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		result := s.runner.RunCycle(ctx)
		if result.Critical {
			return fmt.Errorf("rollback failed, manual intervention required%w", model.ErrRollbackError)
		}
		if result.Failed > 0 {
			logrus.Warnf("renewal cycle finished with %d failed domain sets", result.Failed)
		}

		next = next.Add(s.interval)
		if until := time.Until(next); until > 0 {
			timer.Reset(until)
		} else {
			missed := time.Since(next)/s.interval + 1
			next = next.Add(missed * s.interval)
			logrus.Warnf("renewal cycle overran the check interval, skipping %d ticks", missed)
			timer.Reset(time.Until(next))
		}
	}
}

// RunOnce performs a single cycle for one shot invocations and reports any
// failed domain set as an error so the exit status reflects it.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	result := s.runner.RunCycle(ctx)
	if result.Critical {
		return fmt.Errorf("rollback failed, manual intervention required%w", model.ErrRollbackError)
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d domain sets failed to renew", result.Failed, result.Renewed+result.Skipped+result.Failed)
	}
	logrus.Infof("renewal cycle finished: %d renewed, %d skipped", result.Renewed, result.Skipped)
	return nil
}
