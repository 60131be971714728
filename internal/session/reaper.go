package session

import (
	"context"
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

// Reaper periodically closes sessions nobody submitted before the deadline.
type Reaper struct {
	svc      *Service
	clock    clock.WithTicker
	interval time.Duration
	log      *slog.Logger
}

func NewReaper(svc *Service, interval time.Duration, clk clock.WithTicker, log *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{svc: svc, clock: clk, interval: interval, log: log}
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	t := r.clock.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			n, err := r.svc.ExpireOverdue(ctx)
			if err != nil {
				r.log.Error("reap expired sessions", "err", err)
				continue
			}
			if n > 0 {
				r.log.Info("expired overdue sessions", "count", n)
			}
		}
	}
}
